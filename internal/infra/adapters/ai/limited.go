package ai

import (
	"context"

	"async-inference-ledger/internal/domain/ports/adapter"
)

var _ adapter.ProviderHandle = (*limitedHandle)(nil)

// limitedHandle caps concurrent calls into one backend.
type limitedHandle struct {
	inner adapter.ProviderHandle
	sem   chan struct{}
}

func newLimitedHandle(inner adapter.ProviderHandle, maxConcurrent int) adapter.ProviderHandle {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedHandle{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedHandle) Name() string { return l.inner.Name() }

func (l *limitedHandle) Analyze(ctx context.Context, req adapter.AnalysisRequest) (adapter.AnalysisResult, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.AnalysisResult{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Analyze(ctx, req)
}

var _ adapter.Predictor = (*limitedPredictor)(nil)

// limitedPredictor shares its backend's slots with limitedHandle so
// asynchronous dispatch and status reads count against the same bound.
type limitedPredictor struct {
	inner adapter.Predictor
	sem   chan struct{}
}

func (l *limitedPredictor) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *limitedPredictor) Create(ctx context.Context, model string, input map[string]any, webhookURL string) (*adapter.Prediction, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-l.sem }()
	return l.inner.Create(ctx, model, input, webhookURL)
}

func (l *limitedPredictor) Get(ctx context.Context, predictionID string) (*adapter.Prediction, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-l.sem }()
	return l.inner.Get(ctx, predictionID)
}

// predictor exposes the backend's asynchronous side, or false when the
// backend only serves synchronous calls.
func (l *limitedHandle) predictor() (adapter.Predictor, bool) {
	p, ok := l.inner.(adapter.Predictor)
	if !ok {
		return nil, false
	}
	return &limitedPredictor{inner: p, sem: l.sem}, true
}
