package services_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/config"
	"performer-slots-backend/internal/models"
	"performer-slots-backend/internal/services"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                     "test",
		RedisURL:                "localhost:6379",
		RedisPass:               "",
		RedisDB:                 0,
		JWTSecret:               "test-jwt-secret",
		IntegritySecret:         "test-integrity-secret",
		BreakerFailureThreshold: 3,
		BreakerRecoveryTimeout:  30 * time.Second,
		BreakerHalfOpenMax:      2,
		MaxQueueSize:            3,
		QueueTimeout:            15 * time.Minute,
		MinBet:                  1,
		MaxBet:                  10000,
		JoinLimitPerWindow:      100,
		SpinLimitPerWindow:      1000,
		RateLimitWindow:         time.Hour,
	}
}

func setupTestRedis(t *testing.T) *services.RedisService {
	t.Helper()

	store, err := services.NewRedisService(testConfig())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testLocker(store *services.RedisService) *redislock.Client {
	return redislock.New(store.Client())
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String()[:8])
}

// fakeGateway is an in-memory stand-in for the external balance service. It
// honors idempotency keys the way the real ledger is contracted to.
type fakeGateway struct {
	mu         sync.Mutex
	balances   map[string]float64
	replies    map[string]*services.LedgerResponse
	failNext   int
	failAtCall int
	calls      int
	healthErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balances: make(map[string]float64),
		replies:  make(map[string]*services.LedgerResponse),
	}
}

func (g *fakeGateway) setBalance(userID string, balance float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[userID] = balance
}

func (g *fakeGateway) balance(userID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[userID]
}

func (g *fakeGateway) failCalls(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

// failAfterNext lets the next n calls through, then fails the one after.
func (g *fakeGateway) failAfterNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAtCall = g.calls + n + 1
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) apply(req services.LedgerRequest, delta float64) (*services.LedgerResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls++
	if g.failAtCall != 0 && g.calls == g.failAtCall {
		g.failAtCall = 0
		return nil, fmt.Errorf("simulated ledger outage")
	}
	if g.failNext > 0 {
		g.failNext--
		return nil, fmt.Errorf("simulated ledger outage")
	}

	if prior, ok := g.replies[req.IdempotencyKey]; ok {
		return prior, nil
	}

	g.balances[req.UserID] += delta
	resp := &services.LedgerResponse{
		Success:       true,
		NewBalance:    g.balances[req.UserID],
		TransactionID: req.TransactionID,
	}
	g.replies[req.IdempotencyKey] = resp
	return resp, nil
}

func (g *fakeGateway) Debit(ctx context.Context, req services.LedgerRequest) (*services.LedgerResponse, error) {
	return g.apply(req, -req.Amount)
}

func (g *fakeGateway) Credit(ctx context.Context, req services.LedgerRequest) (*services.LedgerResponse, error) {
	return g.apply(req, req.Amount)
}

func (g *fakeGateway) GetBalance(ctx context.Context, userID string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failNext > 0 {
		g.failNext--
		return 0, fmt.Errorf("simulated ledger outage")
	}
	return g.balances[userID], nil
}

func (g *fakeGateway) HealthCheck(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failNext > 0 {
		g.failNext--
		return fmt.Errorf("simulated ledger outage")
	}
	return g.healthErr
}

// testStack wires the full service graph over a fake gateway, the same way
// main does over the real one.
type testStack struct {
	cfg       *config.Config
	store     *services.RedisService
	gateway   *fakeGateway
	breaker   *services.BreakerGateway
	ledger    *services.TransactionLedger
	limiter   *services.RateLimiter
	queue     *services.QueueManager
	scheduler *services.SessionScheduler
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	cfg := testConfig()
	store := setupTestRedis(t)
	gateway := newFakeGateway()
	breaker := services.NewBreakerGateway(gateway, services.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
		HalfOpenMax:      cfg.BreakerHalfOpenMax,
	}, testLogger())
	locker := testLocker(store)
	ledger := services.NewTransactionLedger(store, breaker, locker, cfg.IntegritySecret, testLogger())
	limiter := services.NewRateLimiter(store, testLogger())
	queue := services.NewQueueManager(store, ledger, breaker, limiter, locker, cfg, testLogger())

	engine, err := services.NewSpinEngine(models.DefaultSymbolSet(), cfg.IntegritySecret)
	if err != nil {
		t.Fatalf("Failed to build spin engine: %v", err)
	}
	scheduler := services.NewSessionScheduler(store, queue, ledger, breaker, limiter, engine, cfg, testLogger())

	return &testStack{
		cfg:       cfg,
		store:     store,
		gateway:   gateway,
		breaker:   breaker,
		ledger:    ledger,
		limiter:   limiter,
		queue:     queue,
		scheduler: scheduler,
	}
}

// tripBreaker drives the breaker open by burning failing calls through it.
func (s *testStack) tripBreaker(t *testing.T) {
	t.Helper()
	s.gateway.failCalls(s.cfg.BreakerFailureThreshold)
	for i := 0; i < s.cfg.BreakerFailureThreshold; i++ {
		s.breaker.HealthCheck(context.Background())
	}
	if s.breaker.CanStartNewWork() {
		t.Fatal("Breaker should be open after consecutive failures")
	}
}
