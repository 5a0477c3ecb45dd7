package models

import "time"

type TransactionType string

const (
	TransactionTypeDebit  TransactionType = "debit"
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeRefund TransactionType = "refund"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// PayoutTransaction is an append-only money-movement record. Once a record
// reaches completed, no field is ever mutated again; corrections are new
// refund records carrying a ReferenceID back to the original.
type PayoutTransaction struct {
	TransactionID  string            `json:"transaction_id" redis:"transaction_id"`
	IdempotencyKey string            `json:"idempotency_key" redis:"idempotency_key"`
	UserID         string            `json:"user_id" redis:"user_id"`
	ResourceID     string            `json:"resource_id" redis:"resource_id"`
	Type           TransactionType   `json:"type" redis:"type"`
	Status         TransactionStatus `json:"status" redis:"status"`
	Amount         float64           `json:"amount" redis:"amount"`
	Reason         string            `json:"reason" redis:"reason"`
	ReferenceID    string            `json:"reference_id,omitempty" redis:"reference_id"`

	BalanceBefore float64 `json:"balance_before" redis:"balance_before"`
	BalanceAfter  float64 `json:"balance_after" redis:"balance_after"`
	IntegrityHash string  `json:"integrity_hash" redis:"integrity_hash"`

	InitiatedAt time.Time  `json:"initiated_at" redis:"initiated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" redis:"completed_at"`
}

func (t *PayoutTransaction) IsFinal() bool {
	return t.Status == TransactionStatusCompleted || t.Status == TransactionStatusFailed
}

// SignedAmount is the balance delta this transaction applied: negative for
// debits, positive for credits and refunds.
func (t *PayoutTransaction) SignedAmount() float64 {
	if t.Type == TransactionTypeDebit {
		return -t.Amount
	}
	return t.Amount
}
