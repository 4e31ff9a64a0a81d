package repository

import (
	"context"

	"async-inference-ledger/internal/domain/model"
)

// CreditTransactionRepository is append-only: there is no update or delete.
type CreditTransactionRepository interface {
	// Append inserts a ledger entry. A second entry with the same
	// (transaction_id, type), or a second settlement for the same prediction,
	// yields domain.ErrAlreadyExists.
	Append(ctx context.Context, tx Tx, e *model.CreditTransaction) error
	FindByTransactionID(ctx context.Context, tx Tx, transactionID string, typ model.CreditTransactionType) (*model.CreditTransaction, error)
	ListByPredictionID(ctx context.Context, tx Tx, predictionID string) ([]*model.CreditTransaction, error)
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.CreditTransaction, error)
}
