package models

import "time"

type EventType string

const (
	EventQueueJoined      EventType = "queue.joined"
	EventQueueLeft        EventType = "queue.left"
	EventQueueExpired     EventType = "queue.expired"
	EventSessionStarted   EventType = "session.started"
	EventSessionClosed    EventType = "session.closed"
	EventSpinSettled      EventType = "spin.settled"
	EventTransactionFinal EventType = "transaction.final"
)

// AuditEvent is one entry in the audit trail and the payload published to
// the external event sink. Delivery is at-least-once keyed by EventID.
type AuditEvent struct {
	EventID    string    `json:"event_id"`
	EventType  EventType `json:"event_type"`
	ResourceID string    `json:"resource_id"`
	UserID     string    `json:"user_id"`
	Amount     float64   `json:"amount"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`

	QueueID       string `json:"queue_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
}
