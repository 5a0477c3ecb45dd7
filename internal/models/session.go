package models

import "time"

type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusActive       SessionStatus = "active"
	SessionStatusCompleted    SessionStatus = "completed"
	SessionStatusAbandoned    SessionStatus = "abandoned"
	SessionStatusFailed       SessionStatus = "failed"
	SessionStatusRefunded     SessionStatus = "refunded"
)

// GameSession is a single viewer playing against a performer. At most one
// session per resource may be initializing or active at any instant.
type GameSession struct {
	SessionID  string        `json:"session_id" redis:"session_id"`
	UserID     string        `json:"user_id" redis:"user_id"`
	ResourceID string        `json:"resource_id" redis:"resource_id"`
	QueueID    string        `json:"queue_id" redis:"queue_id"`
	Status     SessionStatus `json:"status" redis:"status"`

	BetAmount     float64 `json:"bet_amount" redis:"bet_amount"`
	TotalSpins    int     `json:"total_spins" redis:"total_spins"`
	TotalWinnings float64 `json:"total_winnings" redis:"total_winnings"`
	TotalLosses   float64 `json:"total_losses" redis:"total_losses"`

	StartedAt   time.Time  `json:"started_at" redis:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at" redis:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" redis:"completed_at"`
}

func (s *GameSession) IsOpen() bool {
	return s.Status == SessionStatusInitializing || s.Status == SessionStatusActive
}

func (s *GameSession) IsTerminal() bool {
	return !s.IsOpen()
}

// SpinRecord is the stored outcome of one spin inside a session. The
// integrity hash is computed server-side and lets the audit reader detect
// tampering after the fact.
type SpinRecord struct {
	SessionID     string    `json:"session_id"`
	Symbols       [3]string `json:"symbols"`
	BetAmount     float64   `json:"bet_amount"`
	IsWin         bool      `json:"is_win"`
	Payout        float64   `json:"payout"`
	Multiplier    float64   `json:"multiplier"`
	IntegrityHash string    `json:"integrity_hash"`
	SpunAt        time.Time `json:"spun_at"`
}
