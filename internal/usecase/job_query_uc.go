package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
	"async-inference-ledger/internal/infra/logging"
)

// Compile-time check
var _ JobQueryUseCase = (*jobQueryUC)(nil)

type JobQueryUseCase interface {
	// Get returns the job for predictionID if it belongs to userID.
	Get(ctx context.Context, userID, predictionID string) (*model.PredictionJob, error)
}

type jobQueryUC struct {
	jobs repository.PredictionJobRepository
	log  *zerolog.Logger
}

func NewJobQueryUseCase(jobs repository.PredictionJobRepository, logger *zerolog.Logger) *jobQueryUC {
	if logger == nil {
		logger = logging.Nop()
	}
	return &jobQueryUC{jobs: jobs, log: logger}
}

func (q *jobQueryUC) Get(ctx context.Context, userID, predictionID string) (*model.PredictionJob, error) {
	defer logging.TraceDuration(q.log, "JobQueryUC.Get")()
	job, err := q.jobs.FindByPredictionID(ctx, repository.NoTX, predictionID)
	if err != nil {
		return nil, err
	}
	// other users' jobs are indistinguishable from missing ones
	if job.UserID != userID {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}
