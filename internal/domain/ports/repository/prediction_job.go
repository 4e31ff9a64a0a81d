package repository

import (
	"context"
	"time"

	"async-inference-ledger/internal/domain/model"
)

type PredictionJobRepository interface {
	Create(ctx context.Context, tx Tx, job *model.PredictionJob) error
	FindByPredictionID(ctx context.Context, tx Tx, predictionID string) (*model.PredictionJob, error)
	// FindByPredictionIDForUpdate locks the job row for the rest of the
	// transaction so concurrent deliveries for one prediction serialize.
	FindByPredictionIDForUpdate(ctx context.Context, tx Tx, predictionID string) (*model.PredictionJob, error)
	FindByCreditTransactionID(ctx context.Context, tx Tx, transactionID string) (*model.PredictionJob, error)
	Update(ctx context.Context, tx Tx, job *model.PredictionJob) error
	// ListStale returns non-terminal jobs created before the cutoff, oldest first.
	ListStale(ctx context.Context, tx Tx, before time.Time, limit int) ([]*model.PredictionJob, error)
}
