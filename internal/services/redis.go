package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"performer-slots-backend/internal/config"
	"performer-slots-backend/internal/models"
)

// RedisService owns every key the core writes. Queue lines are LISTs (head
// is position 0), sessions and transactions are JSON blobs, audit timelines
// are ZSETs scored by unix-milli timestamp.
type RedisService struct {
	client *redis.Client
}

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %v", err)
	}

	return &RedisService{client: client}, nil
}

func (s *RedisService) Client() *redis.Client {
	return s.client
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

// ---- queue entries ----

func (s *RedisService) SaveQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %v", err)
	}
	key := fmt.Sprintf(KeyQueueEntry, entry.QueueID)
	return s.client.Set(ctx, key, data, TTLQueueEntry).Err()
}

func (s *RedisService) GetQueueEntry(ctx context.Context, queueID string) (*models.QueueEntry, error) {
	key := fmt.Sprintf(KeyQueueEntry, queueID)
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("queue entry not found: %s", queueID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %v", err)
	}

	var entry models.QueueEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue entry: %v", err)
	}
	return &entry, nil
}

// FindUserQueueID returns the queueID of the user's live entry for a
// resource, or empty when the user is not queued.
func (s *RedisService) FindUserQueueID(ctx context.Context, resourceID, userID string) (string, error) {
	key := fmt.Sprintf(KeyQueueMember, resourceID, userID)
	queueID, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up queue membership: %v", err)
	}
	return queueID, nil
}

// EnqueueWaiting appends the entry to the tail of the resource's waiting
// line and records membership, in one pipeline.
func (s *RedisService) EnqueueWaiting(ctx context.Context, entry *models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal queue entry: %v", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyQueueEntry, entry.QueueID), data, TTLQueueEntry)
	pipe.RPush(ctx, fmt.Sprintf(KeyResourceQueue, entry.ResourceID), entry.QueueID)
	pipe.Set(ctx, fmt.Sprintf(KeyQueueMember, entry.ResourceID, entry.UserID), entry.QueueID, TTLMarker)
	pipe.SAdd(ctx, KeyQueueResources, entry.ResourceID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue entry: %v", err)
	}
	return nil
}

func (s *RedisService) WaitingIDs(ctx context.Context, resourceID string) ([]string, error) {
	key := fmt.Sprintf(KeyResourceQueue, resourceID)
	ids, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read waiting line: %v", err)
	}
	return ids, nil
}

func (s *RedisService) WaitingCount(ctx context.Context, resourceID string) (int, error) {
	key := fmt.Sprintf(KeyResourceQueue, resourceID)
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting line: %v", err)
	}
	return int(n), nil
}

// RemoveWaiting takes one entry out of the line and clears its membership
// marker. The caller rebalances positions afterwards.
func (s *RedisService) RemoveWaiting(ctx context.Context, entry *models.QueueEntry) error {
	pipe := s.client.TxPipeline()
	pipe.LRem(ctx, fmt.Sprintf(KeyResourceQueue, entry.ResourceID), 1, entry.QueueID)
	pipe.Del(ctx, fmt.Sprintf(KeyQueueMember, entry.ResourceID, entry.UserID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to remove waiting entry: %v", err)
	}
	return nil
}

// PopWaiting removes and returns the head of the line, or nil when empty.
func (s *RedisService) PopWaiting(ctx context.Context, resourceID string) (*models.QueueEntry, error) {
	key := fmt.Sprintf(KeyResourceQueue, resourceID)
	queueID, err := s.client.LPop(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop waiting line: %v", err)
	}

	entry, err := s.GetQueueEntry(ctx, queueID)
	if err != nil {
		return nil, err
	}

	s.client.Del(ctx, fmt.Sprintf(KeyQueueMember, resourceID, entry.UserID))
	return entry, nil
}

func (s *RedisService) TrackedResources(ctx context.Context) ([]string, error) {
	return s.client.SMembers(ctx, KeyQueueResources).Result()
}

// ---- sessions ----

// ClaimSessionSlot is the storage-level uniqueness constraint behind "at
// most one open session per resource": SET NX either claims the slot for
// sessionID or fails because another open session holds it.
func (s *RedisService) ClaimSessionSlot(ctx context.Context, resourceID, sessionID string) (bool, error) {
	key := fmt.Sprintf(KeyActiveSession, resourceID)
	ok, err := s.client.SetNX(ctx, key, sessionID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim session slot: %v", err)
	}
	return ok, nil
}

var releaseSlotScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// ReleaseSessionSlot frees the uniqueness slot only if this session still
// holds it, so a stale closer can never evict a newer session.
func (s *RedisService) ReleaseSessionSlot(ctx context.Context, resourceID, sessionID string) error {
	key := fmt.Sprintf(KeyActiveSession, resourceID)
	return releaseSlotScript.Run(ctx, s.client, []string{key}, sessionID).Err()
}

func (s *RedisService) ActiveSessionID(ctx context.Context, resourceID string) (string, error) {
	key := fmt.Sprintf(KeyActiveSession, resourceID)
	sessionID, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session slot: %v", err)
	}
	return sessionID, nil
}

func (s *RedisService) SaveSession(ctx context.Context, session *models.GameSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %v", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeySession, session.SessionID), data, TTLSession)
	pipe.ZAdd(ctx, fmt.Sprintf(KeyUserSessions, session.UserID), redis.Z{
		Score:  float64(session.StartedAt.UnixMilli()),
		Member: session.SessionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %v", err)
	}
	return nil
}

func (s *RedisService) GetSession(ctx context.Context, sessionID string) (*models.GameSession, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeySession, sessionID)).Result()
	if err == redis.Nil {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %v", err)
	}

	var session models.GameSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %v", err)
	}
	return &session, nil
}

func (s *RedisService) AppendSpin(ctx context.Context, record *models.SpinRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal spin record: %v", err)
	}

	key := fmt.Sprintf(KeySessionSpins, record.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -MaxSpinHistory, -1)
	pipe.Expire(ctx, key, TTLSession)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append spin record: %v", err)
	}
	return nil
}

func (s *RedisService) GetSpins(ctx context.Context, sessionID string, limit int64) ([]*models.SpinRecord, error) {
	if limit <= 0 || limit > MaxSpinHistory {
		limit = 50
	}

	key := fmt.Sprintf(KeySessionSpins, sessionID)
	rows, err := s.client.LRange(ctx, key, -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read spin history: %v", err)
	}

	var records []*models.SpinRecord
	for _, row := range rows {
		var rec models.SpinRecord
		if err := json.Unmarshal([]byte(row), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (s *RedisService) GetUserSessions(ctx context.Context, userID string, limit int64) ([]*models.GameSession, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserSessions, userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session history: %v", err)
	}

	var sessions []*models.GameSession
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// ---- transactions ----

func (s *RedisService) SaveTransaction(ctx context.Context, tx *models.PayoutTransaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %v", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(KeyTransaction, tx.TransactionID), data, TTLTransaction)
	pipe.ZAdd(ctx, fmt.Sprintf(KeyUserTxns, tx.UserID), redis.Z{
		Score:  float64(tx.InitiatedAt.UnixMilli()),
		Member: tx.TransactionID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save transaction: %v", err)
	}
	return nil
}

func (s *RedisService) GetTransaction(ctx context.Context, transactionID string) (*models.PayoutTransaction, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyTransaction, transactionID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("transaction not found: %s", transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %v", err)
	}

	var tx models.PayoutTransaction
	if err := json.Unmarshal([]byte(data), &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %v", err)
	}
	return &tx, nil
}

// ClaimIdempotencyKey maps key -> transactionID exactly once. When the key
// is already taken it returns the prior transactionID.
func (s *RedisService) ClaimIdempotencyKey(ctx context.Context, key, transactionID string) (claimed bool, existingID string, err error) {
	idemKey := fmt.Sprintf(KeyIdempotency, key)
	ok, err := s.client.SetNX(ctx, idemKey, transactionID, TTLTransaction).Result()
	if err != nil {
		return false, "", fmt.Errorf("failed to claim idempotency key: %v", err)
	}
	if ok {
		return true, "", nil
	}

	existingID, err = s.client.Get(ctx, idemKey).Result()
	if err != nil {
		return false, "", fmt.Errorf("failed to resolve idempotency key: %v", err)
	}
	return false, existingID, nil
}

// SaveSpinResult records a settled spin under its idempotency key so a
// retried request replays the original outcome instead of drawing again.
func (s *RedisService) SaveSpinResult(ctx context.Context, idempotencyKey string, result *models.SpinResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal spin result: %v", err)
	}
	key := fmt.Sprintf(KeySpinResult, idempotencyKey)
	return s.client.Set(ctx, key, data, TTLTransaction).Err()
}

// GetSpinResult returns the settled spin for an idempotency key, or nil
// when the key has never settled.
func (s *RedisService) GetSpinResult(ctx context.Context, idempotencyKey string) (*models.SpinResult, error) {
	key := fmt.Sprintf(KeySpinResult, idempotencyKey)
	data, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spin result: %v", err)
	}

	var result models.SpinResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spin result: %v", err)
	}
	return &result, nil
}

func (s *RedisService) GetUserTransactions(ctx context.Context, userID string, limit int64) ([]*models.PayoutTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	ids, err := s.client.ZRevRange(ctx, fmt.Sprintf(KeyUserTxns, userID), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction history: %v", err)
	}

	var txns []*models.PayoutTransaction
	for _, id := range ids {
		tx, err := s.GetTransaction(ctx, id)
		if err != nil {
			continue
		}
		txns = append(txns, tx)
	}
	return txns, nil
}

// ---- audit timelines and outbox ----

// AppendAuditEvent writes the event to the user and resource timelines and
// queues it on the outbox list in the same pipeline, so a recorded state
// change and its pending publish land together.
func (s *RedisService) AppendAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %v", err)
	}

	score := float64(event.Timestamp.UnixMilli())
	userKey := fmt.Sprintf(KeyAuditUser, event.UserID)
	resourceKey := fmt.Sprintf(KeyAuditResource, event.ResourceID)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, userKey, redis.Z{Score: score, Member: data})
	pipe.ZAdd(ctx, resourceKey, redis.Z{Score: score, Member: data})
	pipe.SAdd(ctx, KeyAuditStreams, userKey, resourceKey)
	pipe.RPush(ctx, KeyEventOutbox, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append audit event: %v", err)
	}
	return nil
}

func (s *RedisService) TimelineRange(ctx context.Context, key string, from, to time.Time) ([]*models.AuditEvent, error) {
	rows, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read timeline: %v", err)
	}

	var events []*models.AuditEvent
	for _, row := range rows {
		var ev models.AuditEvent
		if err := json.Unmarshal([]byte(row), &ev); err != nil {
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

// ArchiveTimelines moves timeline members older than cutoff onto their
// archive keys. Returns how many events moved.
func (s *RedisService) ArchiveTimelines(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.client.SMembers(ctx, KeyAuditStreams).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list audit streams: %v", err)
	}

	max := fmt.Sprintf("(%d", cutoff.UnixMilli())
	moved := 0
	for _, key := range keys {
		rows, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
		if err != nil || len(rows) == 0 {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.ZAdd(ctx, key+":archive", rows...)
		pipe.ZRemRangeByScore(ctx, key, "-inf", max)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, fmt.Errorf("failed to archive %s: %v", key, err)
		}
		moved += len(rows)
	}
	return moved, nil
}

// PopOutboxEvents claims up to n pending events for delivery.
func (s *RedisService) PopOutboxEvents(ctx context.Context, n int) ([]*models.AuditEvent, error) {
	rows, err := s.client.LPopCount(ctx, KeyEventOutbox, n).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop outbox: %v", err)
	}

	var events []*models.AuditEvent
	for _, row := range rows {
		var ev models.AuditEvent
		if err := json.Unmarshal([]byte(row), &ev); err != nil {
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}

// RequeueOutboxEvents puts undelivered events back at the head of the
// outbox, preserving their original order. Pushed in reverse so the first
// event ends up at the head again.
func (s *RedisService) RequeueOutboxEvents(ctx context.Context, events []*models.AuditEvent) error {
	for i := len(events) - 1; i >= 0; i-- {
		data, err := json.Marshal(events[i])
		if err != nil {
			return fmt.Errorf("failed to marshal audit event: %v", err)
		}
		if err := s.client.LPush(ctx, KeyEventOutbox, data).Err(); err != nil {
			return fmt.Errorf("failed to requeue audit event: %v", err)
		}
	}
	return nil
}

// ---- rate limiting ----

// PruneAndCountActions trims the actor's action log to the trailing window
// and reports the in-window count plus the oldest in-window timestamp.
func (s *RedisService) PruneAndCountActions(ctx context.Context, actorID, action string, windowStart time.Time) (count int, oldest time.Time, err error) {
	key := fmt.Sprintf(KeyRateLimit, actorID, action)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("(%d", windowStart.UnixMilli()))
	cardCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to prune rate limit window: %v", err)
	}

	count = int(cardCmd.Val())
	if rows := oldestCmd.Val(); len(rows) > 0 {
		oldest = time.UnixMilli(int64(rows[0].Score))
	}
	return count, oldest, nil
}

func (s *RedisService) RecordAction(ctx context.Context, actorID, action, actionID string, at time.Time, window time.Duration) error {
	key := fmt.Sprintf(KeyRateLimit, actorID, action)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: actionID})
	pipe.Expire(ctx, key, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record action: %v", err)
	}
	return nil
}

func (s *RedisService) CountActionsSince(ctx context.Context, actorID, action string, since time.Time) (int, error) {
	key := fmt.Sprintf(KeyRateLimit, actorID, action)
	n, err := s.client.ZCount(ctx, key, fmt.Sprintf("%d", since.UnixMilli()), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count recent actions: %v", err)
	}
	return int(n), nil
}

// RecordSpinOutcome keeps a short win/loss history per actor for the
// abnormal-win-rate heuristic.
func (s *RedisService) RecordSpinOutcome(ctx context.Context, actorID string, win bool) error {
	key := fmt.Sprintf(KeySpinOutcomes, actorID)
	val := "0"
	if win {
		val = "1"
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, val)
	pipe.LTrim(ctx, key, 0, MaxSpinOutcomeSamples-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record spin outcome: %v", err)
	}
	return nil
}

func (s *RedisService) RecentSpinOutcomes(ctx context.Context, actorID string) (wins, total int, err error) {
	key := fmt.Sprintf(KeySpinOutcomes, actorID)
	rows, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read spin outcomes: %v", err)
	}
	for _, row := range rows {
		if row == "1" {
			wins++
		}
	}
	return wins, len(rows), nil
}
