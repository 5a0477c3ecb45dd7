package models

import "time"

type QueueEntryStatus string

const (
	QueueStatusWaiting   QueueEntryStatus = "waiting"
	QueueStatusActive    QueueEntryStatus = "active"
	QueueStatusCompleted QueueEntryStatus = "completed"
	QueueStatusAbandoned QueueEntryStatus = "abandoned"
	QueueStatusRefunded  QueueEntryStatus = "refunded"
	QueueStatusExpired   QueueEntryStatus = "expired"
)

// QueueEntry is one viewer's slot in a performer's waiting line. Positions
// of waiting entries for a resource are contiguous starting at 0.
type QueueEntry struct {
	QueueID        string           `json:"queue_id" redis:"queue_id"`
	UserID         string           `json:"user_id" redis:"user_id"`
	ResourceID     string           `json:"resource_id" redis:"resource_id"`
	Position       int              `json:"position" redis:"position"`
	EntryFee       float64          `json:"entry_fee" redis:"entry_fee"`
	Status         QueueEntryStatus `json:"status" redis:"status"`
	IdempotencyKey string           `json:"idempotency_key" redis:"idempotency_key"`
	JoinedAt       time.Time        `json:"joined_at" redis:"joined_at"`
	ExpiresAt      time.Time        `json:"expires_at" redis:"expires_at"`
}

func (e *QueueEntry) IsTerminal() bool {
	switch e.Status {
	case QueueStatusCompleted, QueueStatusAbandoned, QueueStatusRefunded, QueueStatusExpired:
		return true
	}
	return false
}

func (e *QueueEntry) IsExpired(now time.Time) bool {
	return e.Status == QueueStatusWaiting && now.After(e.ExpiresAt)
}

// QueueStatus is the view model returned to callers of queueStatus.
type QueueStatus struct {
	ResourceID    string      `json:"resource_id"`
	WaitingCount  int         `json:"waiting_count"`
	SessionActive bool        `json:"session_active"`
	Entry         *QueueEntry `json:"entry,omitempty"`
}
