package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/models"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	HalfOpenMax      int
}

// BreakerSnapshot is the observable breaker state.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailureAt       time.Time    `json:"last_failure_at"`
	NextRetryAt         time.Time    `json:"next_retry_at"`
}

// BreakerGateway wraps a LedgerGateway with a three-state circuit breaker.
// While the breaker is open every call fails fast with LEDGER_UNAVAILABLE
// and no external call is attempted. State lives in process only: a restart
// begins closed and the first real call doubles as the cold-start probe.
type BreakerGateway struct {
	inner LedgerGateway
	cfg   BreakerConfig
	log   *logrus.Logger

	mu                  sync.Mutex
	state               BreakerState
	consecutiveFailures int
	lastFailureAt       time.Time
	nextRetryAt         time.Time
	halfOpenAttempts    int
	halfOpenSuccesses   int

	now func() time.Time
}

func NewBreakerGateway(inner LedgerGateway, cfg BreakerConfig, log *logrus.Logger) *BreakerGateway {
	return &BreakerGateway{
		inner: inner,
		cfg:   cfg,
		log:   log,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// CanStartNewWork is the admission gate: queue joins and session promotions
// must not begin while the breaker is open. In-flight work may still drain.
func (b *BreakerGateway) CanStartNewWork() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state != BreakerOpen
}

func (b *BreakerGateway) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		LastFailureAt:       b.lastFailureAt,
		NextRetryAt:         b.nextRetryAt,
	}
}

// allow decides whether a call may go out, transitioning open -> half-open
// once the recovery timeout has elapsed.
func (b *BreakerGateway) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Before(b.nextRetryAt) {
			return &models.LedgerUnavailableError{NextRetryAt: b.nextRetryAt}
		}
		b.state = BreakerHalfOpen
		b.halfOpenAttempts = 1
		b.halfOpenSuccesses = 0
		b.log.Info("circuit breaker half-open, allowing trial calls")
		return nil
	case BreakerHalfOpen:
		// The attempt is counted here, under the same lock as the check,
		// so concurrent callers cannot all slip under the cap.
		if b.halfOpenAttempts >= b.cfg.HalfOpenMax {
			return &models.LedgerUnavailableError{NextRetryAt: b.nextRetryAt}
		}
		b.halfOpenAttempts++
		return nil
	}
	return nil
}

func (b *BreakerGateway) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMax {
			b.state = BreakerClosed
			b.consecutiveFailures = 0
			b.log.Info("circuit breaker closed after successful trials")
		}
	case BreakerClosed:
		b.consecutiveFailures = 0
	}
}

func (b *BreakerGateway) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureAt = b.now()

	if b.state == BreakerHalfOpen || b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.state = BreakerOpen
		b.nextRetryAt = b.now().Add(b.cfg.RecoveryTimeout)
		b.log.WithFields(logrus.Fields{
			"consecutive_failures": b.consecutiveFailures,
			"next_retry_at":        b.nextRetryAt,
		}).Warn("circuit breaker opened")
	}
}

// call runs fn through the breaker. Caller errors that reflect the user's
// own state (insufficient balance) do not count as service failures.
func (b *BreakerGateway) call(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn()
	if err == nil || isCallerError(err) {
		b.onSuccess()
		return err
	}

	b.onFailure()
	return err
}

func isCallerError(err error) bool {
	return errors.Is(err, models.ErrInsufficientBalance)
}

func (b *BreakerGateway) Debit(ctx context.Context, req LedgerRequest) (*LedgerResponse, error) {
	var resp *LedgerResponse
	err := b.call(func() error {
		var callErr error
		resp, callErr = b.inner.Debit(ctx, req)
		return callErr
	})
	return resp, err
}

func (b *BreakerGateway) Credit(ctx context.Context, req LedgerRequest) (*LedgerResponse, error) {
	var resp *LedgerResponse
	err := b.call(func() error {
		var callErr error
		resp, callErr = b.inner.Credit(ctx, req)
		return callErr
	})
	return resp, err
}

func (b *BreakerGateway) GetBalance(ctx context.Context, userID string) (float64, error) {
	var balance float64
	err := b.call(func() error {
		var callErr error
		balance, callErr = b.inner.GetBalance(ctx, userID)
		return callErr
	})
	return balance, err
}

func (b *BreakerGateway) HealthCheck(ctx context.Context) error {
	return b.call(func() error {
		return b.inner.HealthCheck(ctx)
	})
}
