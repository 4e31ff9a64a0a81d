package adapter

import (
	"context"
	"encoding/json"
	"time"

	"async-inference-ledger/internal/domain/model"
)

// Prediction is the provider's view of an asynchronous job.
type Prediction struct {
	ID        string
	Status    model.JobStatus
	RawStatus string
	Model     string
	Output    json.RawMessage
	Error     string
	CreatedAt time.Time
}

// Predictor creates and queries asynchronous predictions.
type Predictor interface {
	Create(ctx context.Context, model string, input map[string]any, webhookURL string) (*Prediction, error)
	Get(ctx context.Context, predictionID string) (*Prediction, error)
}
