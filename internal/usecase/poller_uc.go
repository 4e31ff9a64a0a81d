package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/domain/ports/repository"
	"async-inference-ledger/internal/infra/logging"
)

// Compile-time check
var _ Poller = (*pollerUC)(nil)

// Poller is the fallback for webhooks that never arrive.
type Poller interface {
	// Poll queries the provider at a fixed interval until the prediction is
	// terminal, then reconciles it. It gives up with ErrPollingTimedOut.
	Poll(ctx context.Context, predictionID string, timeout time.Duration) (*adapter.Prediction, error)
	// SyncOnce queries the provider once and reconciles a terminal result.
	SyncOnce(ctx context.Context, predictionID, source string) (Outcome, error)
}

type pollerUC struct {
	jobs       repository.PredictionJobRepository
	resolver   PredictorResolver
	reconciler WebhookReconciler
	interval   time.Duration
	log        *zerolog.Logger
}

func NewPoller(jobs repository.PredictionJobRepository, resolver PredictorResolver, reconciler WebhookReconciler, interval time.Duration, logger *zerolog.Logger) *pollerUC {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &pollerUC{jobs: jobs, resolver: resolver, reconciler: reconciler, interval: interval, log: logger}
}

func (p *pollerUC) Poll(ctx context.Context, predictionID string, timeout time.Duration) (*adapter.Prediction, error) {
	defer logging.TraceDuration(p.log, "Poller.Poll")()
	predictor, err := p.predictorFor(ctx, predictionID)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		pred, err := predictor.Get(pctx, predictionID)
		if err != nil {
			if pctx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %s", domain.ErrPollingTimedOut, predictionID)
			}
			return nil, err
		}
		if pred.Status.IsTerminal() {
			if _, err := p.reconciler.Reconcile(ctx, eventFrom(pred, SourcePoll)); err != nil {
				return nil, err
			}
			return pred, nil
		}

		select {
		case <-pctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrPollingTimedOut, predictionID)
		case <-ticker.C:
		}
	}
}

func (p *pollerUC) SyncOnce(ctx context.Context, predictionID, source string) (Outcome, error) {
	predictor, err := p.predictorFor(ctx, predictionID)
	if err != nil {
		return "", err
	}
	pred, err := predictor.Get(ctx, predictionID)
	if err != nil {
		return "", err
	}
	if !pred.Status.IsTerminal() {
		return OutcomeIgnored, nil
	}
	return p.reconciler.Reconcile(ctx, eventFrom(pred, source))
}

func (p *pollerUC) predictorFor(ctx context.Context, predictionID string) (adapter.Predictor, error) {
	job, err := p.jobs.FindByPredictionID(ctx, repository.NoTX, predictionID)
	if err != nil {
		return nil, err
	}
	predictor, _, err := p.resolver.ResolvePredictor(ctx, job.ModelID)
	if errors.Is(err, domain.ErrModelNotFound) {
		return nil, fmt.Errorf("job %s references a model no longer configured: %w", job.ID, err)
	}
	return predictor, err
}

func eventFrom(pred *adapter.Prediction, source string) WebhookEvent {
	return WebhookEvent{
		PredictionID: pred.ID,
		Status:       pred.Status,
		Output:       pred.Output,
		Error:        pred.Error,
		Source:       source,
	}
}
