package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/models"
)

// WindowSpec names an action and caps it over a trailing window.
type WindowSpec struct {
	Action string
	Limit  int
	Window time.Duration
}

// RateLimiter enforces a sliding-window cap computed from the actor's own
// recorded actions. The window boundary is the oldest in-window action's
// timestamp plus the window length, not a fixed bucket edge.
type RateLimiter struct {
	store *RedisService
	log   *logrus.Logger
	now   func() time.Time

	// anomaly heuristics, advisory only
	rapidWindow    time.Duration
	rapidThreshold int
	winRateMargin  float64
}

func NewRateLimiter(store *RedisService, log *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		store:          store,
		log:            log,
		now:            time.Now,
		rapidWindow:    10 * time.Second,
		rapidThreshold: 20,
		winRateMargin:  0.25,
	}
}

// Allow records the action if the actor is under the cap, or rejects with a
// RATE_LIMIT_EXCEEDED carrying when the window resets.
func (rl *RateLimiter) Allow(ctx context.Context, actorID string, spec WindowSpec) error {
	now := rl.now()
	used, oldest, err := rl.store.PruneAndCountActions(ctx, actorID, spec.Action, now.Add(-spec.Window))
	if err != nil {
		return err
	}

	if used >= spec.Limit {
		resetAt := oldest.Add(spec.Window)
		return &models.RateLimitError{ResetAt: resetAt}
	}

	return rl.store.RecordAction(ctx, actorID, spec.Action, uuid.New().String(), now, spec.Window)
}

// Remaining reports window usage without recording anything.
func (rl *RateLimiter) Remaining(ctx context.Context, actorID string, spec WindowSpec) (*models.RateLimitStatus, error) {
	now := rl.now()
	used, oldest, err := rl.store.PruneAndCountActions(ctx, actorID, spec.Action, now.Add(-spec.Window))
	if err != nil {
		return nil, err
	}

	status := &models.RateLimitStatus{
		Action:    spec.Action,
		Used:      used,
		Remaining: spec.Limit - used,
	}
	if status.Remaining < 0 {
		status.Remaining = 0
	}
	if used > 0 {
		status.ResetAt = oldest.Add(spec.Window).UnixMilli()
	}
	return status, nil
}

// AnomalyFlags are advisory signals for out-of-band security alerting. They
// never block or alter an outcome.
type AnomalyFlags struct {
	RapidActing     bool    `json:"rapid_acting"`
	AbnormalWinRate bool    `json:"abnormal_win_rate"`
	WinRate         float64 `json:"win_rate"`
}

// CheckAnomalies inspects the actor's recent behavior against the table's
// expected return. expectedRTP is the configured long-run payout fraction.
func (rl *RateLimiter) CheckAnomalies(ctx context.Context, actorID, action string, expectedRTP float64) AnomalyFlags {
	var flags AnomalyFlags

	recent, err := rl.store.CountActionsSince(ctx, actorID, action, rl.now().Add(-rl.rapidWindow))
	if err == nil && recent > rl.rapidThreshold {
		flags.RapidActing = true
	}

	wins, total, err := rl.store.RecentSpinOutcomes(ctx, actorID)
	if err == nil && total >= 20 {
		flags.WinRate = float64(wins) / float64(total)
		if flags.WinRate > expectedRTP+rl.winRateMargin {
			flags.AbnormalWinRate = true
		}
	}

	if flags.RapidActing || flags.AbnormalWinRate {
		rl.log.WithFields(logrus.Fields{
			"actor_id":          actorID,
			"rapid_acting":      flags.RapidActing,
			"abnormal_win_rate": flags.AbnormalWinRate,
			"win_rate":          flags.WinRate,
		}).Warn("anomalous play pattern detected")
	}

	return flags
}

// RecordSpinOutcome feeds the win-rate heuristic after each settled spin.
func (rl *RateLimiter) RecordSpinOutcome(ctx context.Context, actorID string, win bool) {
	if err := rl.store.RecordSpinOutcome(ctx, actorID, win); err != nil {
		rl.log.WithError(err).Warn("failed to record spin outcome")
	}
}
