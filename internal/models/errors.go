package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the admission/payout core. Handlers map these to
// HTTP statuses; services match them with errors.Is.
var (
	ErrQueueFull            = errors.New("QUEUE_FULL")
	ErrAlreadyQueued        = errors.New("ALREADY_QUEUED")
	ErrLedgerUnavailable    = errors.New("LEDGER_UNAVAILABLE")
	ErrInsufficientBalance  = errors.New("INSUFFICIENT_BALANCE")
	ErrRateLimitExceeded    = errors.New("RATE_LIMIT_EXCEEDED")
	ErrDuplicateTransaction = errors.New("DUPLICATE_TRANSACTION")
	ErrInvalidBet           = errors.New("INVALID_BET")
	ErrInvalidConfig        = errors.New("INVALID_CONFIG")
	ErrSessionAlreadyActive = errors.New("SESSION_ALREADY_ACTIVE")
	ErrNotQueued            = errors.New("NOT_QUEUED")
	ErrSessionNotFound      = errors.New("SESSION_NOT_FOUND")
)

// LedgerUnavailableError carries the breaker's retry hint.
type LedgerUnavailableError struct {
	NextRetryAt time.Time
}

func (e *LedgerUnavailableError) Error() string {
	return fmt.Sprintf("LEDGER_UNAVAILABLE: retry after %s", e.NextRetryAt.Format(time.RFC3339))
}

func (e *LedgerUnavailableError) Is(target error) bool {
	return target == ErrLedgerUnavailable
}

// RateLimitError carries when the caller's window resets.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("RATE_LIMIT_EXCEEDED: resets at %s", e.ResetAt.Format(time.RFC3339))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}
