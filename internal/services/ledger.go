package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"performer-slots-backend/internal/models"
)

// TransactionParams describes one requested money movement.
type TransactionParams struct {
	UserID         string
	ResourceID     string
	Amount         float64
	Reason         string
	IdempotencyKey string
	ReferenceID    string
}

// TransactionLedger is the only place money state is mutated. Every debit,
// credit and refund is idempotent on its key: a replayed key returns the
// stored completed record without touching the external balance again, and
// a key whose earlier attempt failed is retried in place.
type TransactionLedger struct {
	store           *RedisService
	gateway         LedgerGateway
	locker          *redislock.Client
	integritySecret []byte
	log             *logrus.Logger
}

func NewTransactionLedger(store *RedisService, gateway LedgerGateway, locker *redislock.Client, integritySecret string, log *logrus.Logger) *TransactionLedger {
	return &TransactionLedger{
		store:           store,
		gateway:         gateway,
		locker:          locker,
		integritySecret: []byte(integritySecret),
		log:             log,
	}
}

func (l *TransactionLedger) ProcessDebit(ctx context.Context, p TransactionParams) (*models.PayoutTransaction, error) {
	return l.process(ctx, models.TransactionTypeDebit, p)
}

func (l *TransactionLedger) ProcessCredit(ctx context.Context, p TransactionParams) (*models.PayoutTransaction, error) {
	return l.process(ctx, models.TransactionTypeCredit, p)
}

// ProcessRefund is a credit tagged with a *_refund reason and a reference
// back to the transaction being reversed. Completed records are immutable;
// this is the only correction mechanism.
func (l *TransactionLedger) ProcessRefund(ctx context.Context, p TransactionParams) (*models.PayoutTransaction, error) {
	p.Reason = p.Reason + "_refund"
	return l.process(ctx, models.TransactionTypeRefund, p)
}

func (l *TransactionLedger) process(ctx context.Context, txType models.TransactionType, p TransactionParams) (*models.PayoutTransaction, error) {
	if p.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrInvalidBet)
	}
	if p.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key required", models.ErrInvalidBet)
	}

	// Serialize concurrent submissions of the same key so lookups stay
	// linearizable: of two racing duplicates, exactly one executes.
	lock, err := l.locker.Obtain(ctx, fmt.Sprintf(KeyLockIdempotent, p.IdempotencyKey), 10*time.Second, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 100),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction %s: %v", p.IdempotencyKey, err)
	}
	defer lock.Release(ctx)

	tx, err := l.claimOrReplay(ctx, txType, p)
	if err != nil || tx.Status == models.TransactionStatusCompleted {
		return tx, err
	}

	return l.execute(ctx, tx)
}

// claimOrReplay resolves the idempotency key to a transaction record,
// creating a fresh pending one on first sight. A completed record is the
// replay result; a failed or stuck one is taken over for re-execution.
func (l *TransactionLedger) claimOrReplay(ctx context.Context, txType models.TransactionType, p TransactionParams) (*models.PayoutTransaction, error) {
	txID := models.GenerateTransactionID()
	claimed, existingID, err := l.store.ClaimIdempotencyKey(ctx, p.IdempotencyKey, txID)
	if err != nil {
		return nil, err
	}

	if !claimed {
		tx, err := l.store.GetTransaction(ctx, existingID)
		if err != nil {
			return nil, err
		}
		if tx.Status == models.TransactionStatusCompleted {
			l.log.WithFields(logrus.Fields{
				"transaction_id":  tx.TransactionID,
				"idempotency_key": p.IdempotencyKey,
			}).Info("idempotent replay, returning stored transaction")
		}
		return tx, nil
	}

	tx := &models.PayoutTransaction{
		TransactionID:  txID,
		IdempotencyKey: p.IdempotencyKey,
		UserID:         p.UserID,
		ResourceID:     p.ResourceID,
		Type:           txType,
		Status:         models.TransactionStatusPending,
		Amount:         p.Amount,
		Reason:         p.Reason,
		ReferenceID:    p.ReferenceID,
		InitiatedAt:    time.Now(),
	}
	if err := l.store.SaveTransaction(ctx, tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// execute runs the external ledger round-trip and finalizes the record
// exactly once. A gateway failure marks the record failed and leaves no
// partial balance state behind.
func (l *TransactionLedger) execute(ctx context.Context, tx *models.PayoutTransaction) (*models.PayoutTransaction, error) {
	tx.Status = models.TransactionStatusProcessing
	if err := l.store.SaveTransaction(ctx, tx); err != nil {
		return nil, err
	}

	req := LedgerRequest{
		UserID:         tx.UserID,
		Amount:         tx.Amount,
		Reason:         tx.Reason,
		TransactionID:  tx.TransactionID,
		IdempotencyKey: tx.IdempotencyKey,
	}

	var resp *LedgerResponse
	var err error
	if tx.Type == models.TransactionTypeDebit {
		resp, err = l.gateway.Debit(ctx, req)
	} else {
		resp, err = l.gateway.Credit(ctx, req)
	}

	if err != nil {
		tx.Status = models.TransactionStatusFailed
		if saveErr := l.store.SaveTransaction(ctx, tx); saveErr != nil {
			l.log.WithError(saveErr).Error("failed to mark transaction failed")
		}
		l.emitFinal(ctx, tx)
		return tx, err
	}

	now := time.Now()
	tx.BalanceAfter = resp.NewBalance
	if tx.Type == models.TransactionTypeDebit {
		tx.BalanceBefore = resp.NewBalance + tx.Amount
	} else {
		tx.BalanceBefore = resp.NewBalance - tx.Amount
	}
	tx.Status = models.TransactionStatusCompleted
	tx.CompletedAt = &now
	tx.IntegrityHash = l.TransactionHash(tx)

	if err := l.store.SaveTransaction(ctx, tx); err != nil {
		return nil, err
	}
	l.emitFinal(ctx, tx)
	return tx, nil
}

func (l *TransactionLedger) emitFinal(ctx context.Context, tx *models.PayoutTransaction) {
	event := &models.AuditEvent{
		EventID:       models.GenerateEventID(),
		EventType:     models.EventTransactionFinal,
		ResourceID:    tx.ResourceID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		Status:        string(tx.Status),
		Timestamp:     time.Now(),
		TransactionID: tx.TransactionID,
	}
	if err := l.store.AppendAuditEvent(ctx, event); err != nil {
		l.log.WithError(err).Warn("failed to append transaction audit event")
	}
}

// TransactionHash is a deterministic HMAC over every field that makes the
// completed record what it is, for later tamper verification.
func (l *TransactionLedger) TransactionHash(tx *models.PayoutTransaction) string {
	var completedAt int64
	if tx.CompletedAt != nil {
		completedAt = tx.CompletedAt.UnixMilli()
	}
	payload := fmt.Sprintf("tx|%s|%s|%s|%s|%.2f|%.2f|%.2f|%d",
		tx.TransactionID,
		tx.IdempotencyKey,
		tx.UserID,
		tx.Type,
		tx.Amount,
		tx.BalanceBefore,
		tx.BalanceAfter,
		completedAt,
	)
	h := hmac.New(sha256.New, l.integritySecret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyTransactionHash recomputes a stored record's hash.
func (l *TransactionLedger) VerifyTransactionHash(tx *models.PayoutTransaction) bool {
	return hmac.Equal([]byte(l.TransactionHash(tx)), []byte(tx.IntegrityHash))
}
