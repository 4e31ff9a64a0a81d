package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type CreditTransactionType string

const (
	CreditTxPrehold           CreditTransactionType = "prehold"
	CreditTxRefund            CreditTransactionType = "refund"
	CreditTxCompletionConfirm CreditTransactionType = "completion_confirm"
)

// CreditTransaction is an append-only ledger entry. BalanceAfter is a snapshot
// taken when the entry was written.
type CreditTransaction struct {
	ID            string
	UserID        string
	Type          CreditTransactionType
	Amount        int64
	BalanceAfter  int64
	Reason        string
	TransactionID string  // idempotency key shared by the hold and its settlement
	PredictionID  *string // nil for holds refunded before a prediction existed
	CreatedAt     time.Time
}

// NewIdempotencyKey returns a fresh, time-sortable ledger key.
func NewIdempotencyKey() string {
	return ulid.Make().String()
}

func NewCreditTransaction(userID string, typ CreditTransactionType, amount, balanceAfter int64, reason, txID string, predictionID *string) *CreditTransaction {
	return &CreditTransaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Reason:        reason,
		TransactionID: txID,
		PredictionID:  predictionID,
		CreatedAt:     time.Now(),
	}
}
