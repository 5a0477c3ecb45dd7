package models

import "fmt"

type JoinQueueRequest struct {
	ResourceID     string  `json:"resource_id" binding:"required"`
	EntryFee       float64 `json:"entry_fee" binding:"required"`
	IdempotencyKey string  `json:"idempotency_key" binding:"required"`
}

type LeaveQueueRequest struct {
	ResourceID string `json:"resource_id" binding:"required"`
}

type SpinRequest struct {
	SessionID      string  `json:"session_id" binding:"required"`
	BetAmount      float64 `json:"bet_amount" binding:"required"`
	IdempotencyKey string  `json:"idempotency_key" binding:"required"`
}

func (r *SpinRequest) Validate(minBet, maxBet float64) error {
	if r.BetAmount < minBet {
		return fmt.Errorf("%w: minimum bet is %.0f cents", ErrInvalidBet, minBet)
	}
	if r.BetAmount > maxBet {
		return fmt.Errorf("%w: maximum bet is %.0f cents", ErrInvalidBet, maxBet)
	}
	return nil
}

// SpinResult is the caller-facing outcome of one spin: the spin record plus
// the two ledger legs that settled it.
type SpinResult struct {
	Spin    *SpinRecord        `json:"spin"`
	Session *GameSession       `json:"session"`
	Debit   *PayoutTransaction `json:"debit"`
	Credit  *PayoutTransaction `json:"credit,omitempty"`
}

// RateLimitStatus reports a caller's window usage.
type RateLimitStatus struct {
	Action    string `json:"action"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetAt   int64  `json:"reset_at"`
}
