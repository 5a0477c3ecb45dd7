package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/config"
	"performer-slots-backend/internal/models"
)

// SessionScheduler promotes the head of a performer's waiting line into the
// single active game session and runs the spin loop against it. The
// "at most one open session per resource" invariant is enforced by the
// storage-level slot claim in RedisService, not by a read-then-write check.
type SessionScheduler struct {
	store   *RedisService
	queue   *QueueManager
	ledger  *TransactionLedger
	breaker *BreakerGateway
	limiter *RateLimiter
	engine  *SpinEngine
	log     *logrus.Logger

	minBet   float64
	maxBet   float64
	spinSpec WindowSpec
}

func NewSessionScheduler(store *RedisService, queue *QueueManager, ledger *TransactionLedger, breaker *BreakerGateway, limiter *RateLimiter, engine *SpinEngine, cfg *config.Config, log *logrus.Logger) *SessionScheduler {
	return &SessionScheduler{
		store:   store,
		queue:   queue,
		ledger:  ledger,
		breaker: breaker,
		limiter: limiter,
		engine:  engine,
		log:     log,
		minBet:  cfg.MinBet,
		maxBet:  cfg.MaxBet,
		spinSpec: WindowSpec{
			Action: "spin",
			Limit:  cfg.SpinLimitPerWindow,
			Window: cfg.RateLimitWindow,
		},
	}
}

// PromoteNext moves the head of the line into a session. Returns nil with
// no error when the performer is busy or the line is empty; both are
// ordinary no-ops, not failures.
func (s *SessionScheduler) PromoteNext(ctx context.Context, resourceID string) (*models.GameSession, error) {
	if !s.breaker.CanStartNewWork() {
		return nil, &models.LedgerUnavailableError{NextRetryAt: s.breaker.Snapshot().NextRetryAt}
	}

	lock, err := s.queue.lockResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	sessionID := models.GenerateSessionID()
	claimed, err := s.store.ClaimSessionSlot(ctx, resourceID, sessionID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Another open session holds the slot; promotion is a no-op.
		return nil, nil
	}

	entry, err := s.store.PopWaiting(ctx, resourceID)
	if err != nil {
		s.store.ReleaseSessionSlot(ctx, resourceID, sessionID)
		return nil, err
	}
	if entry == nil {
		s.store.ReleaseSessionSlot(ctx, resourceID, sessionID)
		return nil, nil
	}

	entry.Status = models.QueueStatusActive
	if err := s.store.SaveQueueEntry(ctx, entry); err != nil {
		s.store.ReleaseSessionSlot(ctx, resourceID, sessionID)
		return nil, err
	}

	now := time.Now()
	session := &models.GameSession{
		SessionID:  sessionID,
		UserID:     entry.UserID,
		ResourceID: resourceID,
		QueueID:    entry.QueueID,
		Status:     models.SessionStatusInitializing,
		BetAmount:  entry.EntryFee,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		s.store.ReleaseSessionSlot(ctx, resourceID, sessionID)
		return nil, err
	}

	session.Status = models.SessionStatusActive
	session.UpdatedAt = time.Now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	if err := s.queue.rebalance(ctx, resourceID); err != nil {
		s.log.WithError(err).WithField("resource_id", resourceID).Warn("failed to rebalance after promotion")
	}

	s.emit(ctx, models.EventSessionStarted, session, 0)
	return session, nil
}

// Spin settles one wager inside an active session: debit the bet, draw the
// reels, credit the payout on a win. A failed debit leaves session and
// balance exactly as they were.
func (s *SessionScheduler) Spin(ctx context.Context, userID string, req *models.SpinRequest) (*models.SpinResult, error) {
	session, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("%w: session %s does not belong to caller", models.ErrSessionNotFound, req.SessionID)
	}

	// A retried request replays the already-settled outcome. The ledger
	// keeps the money idempotent on its own; this keeps the reel draw and
	// session bookkeeping from running twice.
	if settled, err := s.store.GetSpinResult(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if settled != nil {
		return settled, nil
	}

	if session.Status != models.SessionStatusActive {
		return nil, fmt.Errorf("%w: session is %s", models.ErrSessionNotFound, session.Status)
	}

	if err := req.Validate(s.minBet, s.maxBet); err != nil {
		return nil, err
	}
	if err := s.limiter.Allow(ctx, userID, s.spinSpec); err != nil {
		return nil, err
	}

	debit, err := s.ledger.ProcessDebit(ctx, TransactionParams{
		UserID:         userID,
		ResourceID:     session.ResourceID,
		Amount:         req.BetAmount,
		Reason:         "spin_bet",
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	record, err := s.engine.Spin(session.SessionID, req.BetAmount)
	if err != nil {
		return nil, err
	}

	result := &models.SpinResult{Spin: record, Debit: debit}

	if record.IsWin {
		credit, err := s.ledger.ProcessCredit(ctx, TransactionParams{
			UserID:         userID,
			ResourceID:     session.ResourceID,
			Amount:         record.Payout,
			Reason:         "spin_payout",
			IdempotencyKey: req.IdempotencyKey + ":payout",
			ReferenceID:    debit.TransactionID,
		})
		if err != nil {
			// Winnings are owed but cannot be paid; the session cannot
			// continue taking money. Close it and let the queue drain.
			s.log.WithError(err).WithField("session_id", session.SessionID).Error("payout credit failed, failing session")
			if _, closeErr := s.close(ctx, session, models.SessionStatusFailed); closeErr != nil {
				s.log.WithError(closeErr).Error("failed to close session after payout failure")
			}
			return nil, err
		}
		result.Credit = credit
		session.TotalWinnings += record.Payout
	} else {
		session.TotalLosses += req.BetAmount
	}

	session.TotalSpins++
	session.UpdatedAt = time.Now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	result.Session = session

	if err := s.store.SaveSpinResult(ctx, req.IdempotencyKey, result); err != nil {
		s.log.WithError(err).Warn("failed to store settled spin result")
	}
	if err := s.store.AppendSpin(ctx, record); err != nil {
		s.log.WithError(err).Warn("failed to store spin record")
	}
	s.limiter.RecordSpinOutcome(ctx, userID, record.IsWin)
	s.limiter.CheckAnomalies(ctx, userID, s.spinSpec.Action, s.engine.SymbolSet().RTP(req.BetAmount))

	s.emit(ctx, models.EventSpinSettled, session, record.Payout-req.BetAmount)
	return result, nil
}

// Complete ends a session normally after play.
func (s *SessionScheduler) Complete(ctx context.Context, userID, sessionID string) (*models.GameSession, error) {
	session, err := s.ownedOpenSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.close(ctx, session, models.SessionStatusCompleted)
}

// Abandon ends a session at the viewer's request. A session abandoned
// before any spin gets its entry fee back and closes as refunded; once
// money has moved the fee is considered played.
func (s *SessionScheduler) Abandon(ctx context.Context, userID, sessionID string) (*models.GameSession, error) {
	session, err := s.ownedOpenSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if session.TotalSpins == 0 {
		entry, err := s.store.GetQueueEntry(ctx, session.QueueID)
		if err != nil {
			return nil, err
		}
		// Refund first; the session only goes terminal once the money is
		// back.
		if _, err := s.ledger.ProcessRefund(ctx, TransactionParams{
			UserID:         userID,
			ResourceID:     session.ResourceID,
			Amount:         entry.EntryFee,
			Reason:         "queue_entry_fee",
			IdempotencyKey: entry.IdempotencyKey + ":session_abandon",
		}); err != nil {
			return nil, err
		}
		return s.close(ctx, session, models.SessionStatusRefunded)
	}

	return s.close(ctx, session, models.SessionStatusAbandoned)
}

func (s *SessionScheduler) ownedOpenSession(ctx context.Context, userID, sessionID string) (*models.GameSession, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("%w: session %s does not belong to caller", models.ErrSessionNotFound, sessionID)
	}
	if !session.IsOpen() {
		return nil, fmt.Errorf("%w: session already %s", models.ErrSessionNotFound, session.Status)
	}
	return session, nil
}

// close marks the session terminal, frees the resource's session slot, and
// immediately tries to promote the next waiter so the line keeps draining.
func (s *SessionScheduler) close(ctx context.Context, session *models.GameSession, status models.SessionStatus) (*models.GameSession, error) {
	now := time.Now()
	session.Status = status
	session.UpdatedAt = now
	session.CompletedAt = &now
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	if err := s.store.ReleaseSessionSlot(ctx, session.ResourceID, session.SessionID); err != nil {
		s.log.WithError(err).WithField("session_id", session.SessionID).Error("failed to release session slot")
	}

	if entry, err := s.store.GetQueueEntry(ctx, session.QueueID); err == nil && !entry.IsTerminal() {
		switch status {
		case models.SessionStatusCompleted:
			entry.Status = models.QueueStatusCompleted
		case models.SessionStatusRefunded:
			entry.Status = models.QueueStatusRefunded
		default:
			entry.Status = models.QueueStatusAbandoned
		}
		if err := s.store.SaveQueueEntry(ctx, entry); err != nil {
			s.log.WithError(err).Warn("failed to finalize queue entry")
		}
	}

	s.emit(ctx, models.EventSessionClosed, session, session.TotalWinnings-session.TotalLosses)

	if _, err := s.PromoteNext(ctx, session.ResourceID); err != nil {
		s.log.WithError(err).WithField("resource_id", session.ResourceID).Warn("failed to promote next after close")
	}
	return session, nil
}

// DrainQueues attempts one promotion per tracked resource. Main runs this
// on a ticker so a free performer never sits idle with a non-empty line.
func (s *SessionScheduler) DrainQueues(ctx context.Context) {
	resources, err := s.store.TrackedResources(ctx)
	if err != nil {
		s.log.WithError(err).Error("failed to list queued resources")
		return
	}
	for _, resourceID := range resources {
		if _, err := s.PromoteNext(ctx, resourceID); err != nil {
			s.log.WithError(err).WithField("resource_id", resourceID).Debug("promotion attempt failed")
		}
	}
}

// CleanupStaleSessions abandons open sessions with no activity for maxAge,
// so an abandoned browser tab cannot hold a performer hostage.
func (s *SessionScheduler) CleanupStaleSessions(ctx context.Context, maxAge time.Duration) {
	resources, err := s.store.TrackedResources(ctx)
	if err != nil {
		return
	}

	for _, resourceID := range resources {
		sessionID, err := s.store.ActiveSessionID(ctx, resourceID)
		if err != nil || sessionID == "" {
			continue
		}
		session, err := s.store.GetSession(ctx, sessionID)
		if err != nil || !session.IsOpen() {
			// The slot points at a session that no longer exists or has
			// already gone terminal. Free it so promotions can resume.
			s.log.WithFields(logrus.Fields{
				"resource_id": resourceID,
				"session_id":  sessionID,
			}).Warn("releasing orphaned session slot")
			if relErr := s.store.ReleaseSessionSlot(ctx, resourceID, sessionID); relErr != nil {
				s.log.WithError(relErr).Warn("failed to release orphaned session slot")
			}
			continue
		}
		if time.Since(session.UpdatedAt) > maxAge {
			s.log.WithField("session_id", sessionID).Info("abandoning stale session")
			if _, err := s.close(ctx, session, models.SessionStatusAbandoned); err != nil {
				s.log.WithError(err).Warn("failed to abandon stale session")
			}
		}
	}
}

func (s *SessionScheduler) emit(ctx context.Context, eventType models.EventType, session *models.GameSession, amount float64) {
	event := &models.AuditEvent{
		EventID:    models.GenerateEventID(),
		EventType:  eventType,
		ResourceID: session.ResourceID,
		UserID:     session.UserID,
		Amount:     amount,
		Status:     string(session.Status),
		Timestamp:  time.Now(),
		QueueID:    session.QueueID,
		SessionID:  session.SessionID,
	}
	if err := s.store.AppendAuditEvent(ctx, event); err != nil {
		s.log.WithError(err).Warn("failed to append session audit event")
	}
}
