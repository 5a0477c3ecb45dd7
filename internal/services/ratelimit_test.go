package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"performer-slots-backend/internal/models"
	"performer-slots-backend/internal/services"
)

func TestRateLimiterBlocksAtCap(t *testing.T) {
	store := setupTestRedis(t)
	limiter := services.NewRateLimiter(store, testLogger())
	ctx := context.Background()

	actorID := uniqueID("user")
	spec := services.WindowSpec{Action: "join", Limit: 3, Window: time.Minute}

	start := time.Now()
	for i := 0; i < spec.Limit; i++ {
		if err := limiter.Allow(ctx, actorID, spec); err != nil {
			t.Fatalf("Allow %d should pass: %v", i, err)
		}
	}

	err := limiter.Allow(ctx, actorID, spec)
	if !errors.Is(err, models.ErrRateLimitExceeded) {
		t.Fatalf("Expected RATE_LIMIT_EXCEEDED, got %v", err)
	}

	var limited *models.RateLimitError
	if !errors.As(err, &limited) {
		t.Fatal("Error should carry the reset time")
	}
	// Window slides from the oldest surviving action, so the reset lands
	// about one window after the first call.
	if limited.ResetAt.Before(start) || limited.ResetAt.After(start.Add(spec.Window+5*time.Second)) {
		t.Errorf("ResetAt out of range: %v (started %v)", limited.ResetAt, start)
	}
}

func TestRateLimiterIsolatesActors(t *testing.T) {
	store := setupTestRedis(t)
	limiter := services.NewRateLimiter(store, testLogger())
	ctx := context.Background()

	spec := services.WindowSpec{Action: "join", Limit: 2, Window: time.Minute}
	first := uniqueID("user")
	second := uniqueID("user")

	for i := 0; i < spec.Limit; i++ {
		if err := limiter.Allow(ctx, first, spec); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
	}
	if err := limiter.Allow(ctx, first, spec); err == nil {
		t.Fatal("First actor should be capped")
	}
	if err := limiter.Allow(ctx, second, spec); err != nil {
		t.Errorf("Second actor must not share the first's window: %v", err)
	}
}

func TestRemainingDoesNotConsume(t *testing.T) {
	store := setupTestRedis(t)
	limiter := services.NewRateLimiter(store, testLogger())
	ctx := context.Background()

	actorID := uniqueID("user")
	spec := services.WindowSpec{Action: "spin", Limit: 5, Window: time.Minute}

	if err := limiter.Allow(ctx, actorID, spec); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		status, err := limiter.Remaining(ctx, actorID, spec)
		if err != nil {
			t.Fatalf("Remaining failed: %v", err)
		}
		if status.Used != 1 || status.Remaining != 4 {
			t.Fatalf("Remaining must not record: used %d remaining %d", status.Used, status.Remaining)
		}
		if status.ResetAt == 0 {
			t.Error("ResetAt should be set once the window has actions")
		}
	}
}

func TestAnomalyFlagsAreAdvisory(t *testing.T) {
	store := setupTestRedis(t)
	limiter := services.NewRateLimiter(store, testLogger())
	ctx := context.Background()

	actorID := uniqueID("user")
	spec := services.WindowSpec{Action: "spin", Limit: 1000, Window: time.Hour}

	// Burst well past the rapid-acting threshold and win every spin.
	for i := 0; i < 30; i++ {
		if err := limiter.Allow(ctx, actorID, spec); err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		limiter.RecordSpinOutcome(ctx, actorID, true)
	}

	flags := limiter.CheckAnomalies(ctx, actorID, spec.Action, 0.5)
	if !flags.RapidActing {
		t.Error("30 actions in a burst should flag rapid acting")
	}
	if !flags.AbnormalWinRate {
		t.Errorf("100%% win rate against 0.5 RTP should flag, win rate %.2f", flags.WinRate)
	}

	// Flags never block: the actor can keep playing.
	if err := limiter.Allow(ctx, actorID, spec); err != nil {
		t.Errorf("Anomaly flags must not block play: %v", err)
	}
}

func TestAnomalyFlagsQuietForNormalPlay(t *testing.T) {
	store := setupTestRedis(t)
	limiter := services.NewRateLimiter(store, testLogger())
	ctx := context.Background()

	actorID := uniqueID("user")
	for i := 0; i < 25; i++ {
		limiter.RecordSpinOutcome(ctx, actorID, i%3 == 0)
	}

	flags := limiter.CheckAnomalies(ctx, actorID, "spin", 0.5)
	if flags.RapidActing || flags.AbnormalWinRate {
		t.Errorf("Ordinary play should not flag: %+v", flags)
	}
}
