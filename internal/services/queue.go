package services

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/config"
	"performer-slots-backend/internal/models"
)

// Leave reasons map to the entry's terminal status.
const (
	LeaveReasonVoluntary = "leave"
	LeaveReasonAbandon   = "abandon"
	LeaveReasonExpired   = "expired"
)

// QueueManager owns every performer's waiting line. Each resource's line is
// mutated only under that resource's lock, which keeps waiting positions a
// contiguous 0..n-1 run through any mix of joins, leaves and promotions.
type QueueManager struct {
	store   *RedisService
	ledger  *TransactionLedger
	breaker *BreakerGateway
	limiter *RateLimiter
	locker  *redislock.Client
	log     *logrus.Logger

	maxQueueSize int
	queueTimeout time.Duration
	joinSpec     WindowSpec
}

func NewQueueManager(store *RedisService, ledger *TransactionLedger, breaker *BreakerGateway, limiter *RateLimiter, locker *redislock.Client, cfg *config.Config, log *logrus.Logger) *QueueManager {
	return &QueueManager{
		store:        store,
		ledger:       ledger,
		breaker:      breaker,
		limiter:      limiter,
		locker:       locker,
		log:          log,
		maxQueueSize: cfg.MaxQueueSize,
		queueTimeout: cfg.QueueTimeout,
		joinSpec: WindowSpec{
			Action: "join",
			Limit:  cfg.JoinLimitPerWindow,
			Window: cfg.RateLimitWindow,
		},
	}
}

func (q *QueueManager) lockResource(ctx context.Context, resourceID string) (*redislock.Lock, error) {
	lock, err := q.locker.Obtain(ctx, fmt.Sprintf(KeyLockQueue, resourceID), 10*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock queue for %s: %v", resourceID, err)
	}
	return lock, nil
}

// Join admits a viewer to a performer's waiting line. The entry fee is
// debited before the entry exists, so no queue slot is ever held without
// funds escrowed; if the enqueue itself fails the fee is refunded.
func (q *QueueManager) Join(ctx context.Context, userID string, req *models.JoinQueueRequest) (*models.QueueEntry, error) {
	if err := q.limiter.Allow(ctx, userID, q.joinSpec); err != nil {
		return nil, err
	}

	if !q.breaker.CanStartNewWork() {
		return nil, &models.LedgerUnavailableError{NextRetryAt: q.breaker.Snapshot().NextRetryAt}
	}

	if req.EntryFee <= 0 {
		return nil, fmt.Errorf("%w: entry fee must be positive", models.ErrInvalidBet)
	}

	lock, err := q.lockResource(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	existing, err := q.store.FindUserQueueID(ctx, req.ResourceID, userID)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return nil, fmt.Errorf("%w: user %s already queued for %s", models.ErrAlreadyQueued, userID, req.ResourceID)
	}

	waiting, err := q.store.WaitingCount(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if waiting >= q.maxQueueSize {
		return nil, fmt.Errorf("%w: %d waiting", models.ErrQueueFull, waiting)
	}

	debit, err := q.ledger.ProcessDebit(ctx, TransactionParams{
		UserID:         userID,
		ResourceID:     req.ResourceID,
		Amount:         req.EntryFee,
		Reason:         "queue_entry_fee",
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &models.QueueEntry{
		QueueID:        models.GenerateQueueID(),
		UserID:         userID,
		ResourceID:     req.ResourceID,
		Position:       waiting,
		EntryFee:       req.EntryFee,
		Status:         models.QueueStatusWaiting,
		IdempotencyKey: req.IdempotencyKey,
		JoinedAt:       now,
		ExpiresAt:      now.Add(q.queueTimeout),
	}

	if err := q.store.EnqueueWaiting(ctx, entry); err != nil {
		// The fee is already escrowed; give it back rather than leave the
		// viewer paid-up with no slot.
		if _, refundErr := q.ledger.ProcessRefund(ctx, TransactionParams{
			UserID:         userID,
			ResourceID:     req.ResourceID,
			Amount:         req.EntryFee,
			Reason:         "queue_entry_fee",
			IdempotencyKey: req.IdempotencyKey + ":enqueue_failed",
			ReferenceID:    debit.TransactionID,
		}); refundErr != nil {
			q.log.WithError(refundErr).WithField("user_id", userID).Error("failed to refund after enqueue failure")
		}
		return nil, err
	}

	q.emit(ctx, models.EventQueueJoined, entry, entry.EntryFee)
	return entry, nil
}

// Leave takes a waiting viewer out of the line. The refund happens
// synchronously before the entry is marked terminal; if the refund cannot
// be issued the entry stays waiting and the error propagates.
func (q *QueueManager) Leave(ctx context.Context, userID, resourceID, reason string) (*models.QueueEntry, error) {
	lock, err := q.lockResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	queueID, err := q.store.FindUserQueueID(ctx, resourceID, userID)
	if err != nil {
		return nil, err
	}
	if queueID == "" {
		return nil, fmt.Errorf("%w: user %s has no waiting entry for %s", models.ErrNotQueued, userID, resourceID)
	}

	entry, err := q.store.GetQueueEntry(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.QueueStatusWaiting {
		return nil, fmt.Errorf("%w: entry %s is %s", models.ErrNotQueued, queueID, entry.Status)
	}

	return q.retire(ctx, entry, reason)
}

// retire refunds and removes one waiting entry, then closes the position
// gap it left. Caller must hold the resource lock.
func (q *QueueManager) retire(ctx context.Context, entry *models.QueueEntry, reason string) (*models.QueueEntry, error) {
	if _, err := q.ledger.ProcessRefund(ctx, TransactionParams{
		UserID:         entry.UserID,
		ResourceID:     entry.ResourceID,
		Amount:         entry.EntryFee,
		Reason:         "queue_entry_fee",
		IdempotencyKey: entry.IdempotencyKey + ":" + reason,
	}); err != nil {
		return nil, err
	}

	switch reason {
	case LeaveReasonExpired:
		entry.Status = models.QueueStatusExpired
	case LeaveReasonAbandon:
		entry.Status = models.QueueStatusAbandoned
	default:
		entry.Status = models.QueueStatusRefunded
	}

	if err := q.store.RemoveWaiting(ctx, entry); err != nil {
		return nil, err
	}
	if err := q.store.SaveQueueEntry(ctx, entry); err != nil {
		return nil, err
	}
	if err := q.rebalance(ctx, entry.ResourceID); err != nil {
		return nil, err
	}

	eventType := models.EventQueueLeft
	if reason == LeaveReasonExpired {
		eventType = models.EventQueueExpired
	}
	q.emit(ctx, eventType, entry, entry.EntryFee)
	return entry, nil
}

// rebalance rewrites positions so the waiting set is 0..n-1 in line order.
// Caller must hold the resource lock.
func (q *QueueManager) rebalance(ctx context.Context, resourceID string) error {
	ids, err := q.store.WaitingIDs(ctx, resourceID)
	if err != nil {
		return err
	}

	for i, id := range ids {
		entry, err := q.store.GetQueueEntry(ctx, id)
		if err != nil {
			return err
		}
		if entry.Position == i {
			continue
		}
		entry.Position = i
		if err := q.store.SaveQueueEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// Status reports the line's depth, whether a session is running, and the
// asking user's own entry if they have one.
func (q *QueueManager) Status(ctx context.Context, resourceID, userID string) (*models.QueueStatus, error) {
	waiting, err := q.store.WaitingCount(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	activeID, err := q.store.ActiveSessionID(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	status := &models.QueueStatus{
		ResourceID:    resourceID,
		WaitingCount:  waiting,
		SessionActive: activeID != "",
	}

	if userID != "" {
		queueID, err := q.store.FindUserQueueID(ctx, resourceID, userID)
		if err != nil {
			return nil, err
		}
		if queueID != "" {
			entry, err := q.store.GetQueueEntry(ctx, queueID)
			if err != nil {
				return nil, err
			}
			status.Entry = entry
		}
	}

	return status, nil
}

// ExpireStale refunds and retires every waiting entry past its deadline.
// This is the backpressure release valve for queues nobody leaves cleanly;
// main runs it on a ticker.
func (q *QueueManager) ExpireStale(ctx context.Context) int {
	resources, err := q.store.TrackedResources(ctx)
	if err != nil {
		q.log.WithError(err).Error("failed to list queued resources")
		return 0
	}

	expired := 0
	now := time.Now()
	for _, resourceID := range resources {
		lock, err := q.lockResource(ctx, resourceID)
		if err != nil {
			continue
		}

		ids, err := q.store.WaitingIDs(ctx, resourceID)
		if err != nil {
			lock.Release(ctx)
			continue
		}

		for _, id := range ids {
			entry, err := q.store.GetQueueEntry(ctx, id)
			if err != nil || !entry.IsExpired(now) {
				continue
			}
			if _, err := q.retire(ctx, entry, LeaveReasonExpired); err != nil {
				q.log.WithError(err).WithField("queue_id", id).Warn("failed to expire stale entry")
				continue
			}
			expired++
		}

		lock.Release(ctx)
	}

	if expired > 0 {
		q.log.WithField("count", expired).Info("expired stale queue entries")
	}
	return expired
}

func (q *QueueManager) emit(ctx context.Context, eventType models.EventType, entry *models.QueueEntry, amount float64) {
	event := &models.AuditEvent{
		EventID:    models.GenerateEventID(),
		EventType:  eventType,
		ResourceID: entry.ResourceID,
		UserID:     entry.UserID,
		Amount:     amount,
		Status:     string(entry.Status),
		Timestamp:  time.Now(),
		QueueID:    entry.QueueID,
	}
	if err := q.store.AppendAuditEvent(ctx, event); err != nil {
		q.log.WithError(err).Warn("failed to append queue audit event")
	}
}
