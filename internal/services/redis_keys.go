package services

import "time"

const (
	KeyQueueEntry     = "queue:entry:%s"            // queueID -> entry JSON
	KeyResourceQueue  = "queue:resource:%s:waiting" // LIST of queueIDs, head = position 0
	KeyQueueMember    = "queue:resource:%s:user:%s" // duplicate-join marker -> queueID
	KeyQueueResources = "queue:resources"           // SET of resourceIDs with live queues

	KeyActiveSession  = "session:resource:%s:active" // uniqueness slot -> sessionID
	KeySession        = "session:%s"                 // sessionID -> session JSON
	KeySessionSpins   = "session:%s:spins"           // LIST of spin record JSON
	KeyUserSessions   = "user:%s:sessions"           // ZSET sessionID by started_at
	KeyTransaction    = "tx:%s"                      // transactionID -> tx JSON
	KeyIdempotency    = "tx:idem:%s"                 // idempotencyKey -> transactionID
	KeySpinResult     = "spin:result:%s"             // idempotencyKey -> settled spin JSON
	KeyUserTxns       = "user:%s:transactions"       // ZSET txID by initiated_at
	KeyRateLimit      = "ratelimit:%s:%s"            // ZSET action timestamps per actor+action
	KeySpinOutcomes   = "patterns:%s:spins"          // LIST of recent win/loss flags per actor
	KeyAuditUser      = "audit:user:%s"              // ZSET event JSON by timestamp
	KeyAuditResource  = "audit:resource:%s"          // ZSET event JSON by timestamp
	KeyAuditStreams   = "audit:streams"              // SET of live timeline keys
	KeyEventOutbox    = "events:outbox"              // LIST of pending event JSON
	KeyLockQueue      = "lock:queue:%s"              // redislock key per resource
	KeyLockIdempotent = "lock:tx:%s"                 // redislock key per idempotency key

	TTLQueueEntry  = 24 * time.Hour
	TTLSession     = 7 * 24 * time.Hour
	TTLTransaction = 30 * 24 * time.Hour
	TTLMarker      = 24 * time.Hour

	MaxSpinOutcomeSamples = 50
	MaxSpinHistory        = 200
)
