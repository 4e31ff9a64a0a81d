package usecase

import (
	"context"

	"async-inference-ledger/internal/domain/ports/adapter"
)

// PredictorResolver maps a logical model id to the predictor serving it and
// the concrete model identifier to dispatch.
type PredictorResolver interface {
	ResolvePredictor(ctx context.Context, modelID string) (adapter.Predictor, string, error)
}
