package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
	"async-inference-ledger/internal/infra/metrics"
	red "async-inference-ledger/internal/infra/redis"
)

var _ repository.PredictionJobRepository = (*jobRepoCacheDecorator)(nil)

// jobRepoCacheDecorator serves non-transactional reads of terminal jobs from
// Redis. Reads inside a transaction always go to the database.
type jobRepoCacheDecorator struct {
	inner repository.PredictionJobRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewJobRepoCacheDecorator(inner repository.PredictionJobRepository, cache red.RedisClient, ttl time.Duration) repository.PredictionJobRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &jobRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func jobKey(predictionID string) string {
	return fmt.Sprintf("job:prediction:%s", predictionID)
}

func (d *jobRepoCacheDecorator) Create(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	return d.inner.Create(ctx, tx, job)
}

func (d *jobRepoCacheDecorator) FindByPredictionID(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error) {
	if tx == nil {
		if val, err := d.cache.Get(ctx, jobKey(predictionID)); err == nil {
			var job model.PredictionJob
			if json.Unmarshal([]byte(val), &job) == nil {
				metrics.IncCacheRequest("job_status", "hit")
				return &job, nil
			}
		}
		metrics.IncCacheRequest("job_status", "miss")
	}

	job, err := d.inner.FindByPredictionID(ctx, tx, predictionID)
	if err != nil {
		return nil, err
	}
	if tx == nil && job.IsTerminal() {
		if b, err := json.Marshal(job); err == nil {
			_ = d.cache.Set(ctx, jobKey(predictionID), b, d.ttl)
		}
	}
	return job, nil
}

func (d *jobRepoCacheDecorator) FindByPredictionIDForUpdate(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error) {
	return d.inner.FindByPredictionIDForUpdate(ctx, tx, predictionID)
}

func (d *jobRepoCacheDecorator) FindByCreditTransactionID(ctx context.Context, tx repository.Tx, transactionID string) (*model.PredictionJob, error) {
	return d.inner.FindByCreditTransactionID(ctx, tx, transactionID)
}

func (d *jobRepoCacheDecorator) Update(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	_ = d.cache.Del(ctx, jobKey(job.PredictionID))
	return d.inner.Update(ctx, tx, job)
}

func (d *jobRepoCacheDecorator) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PredictionJob, error) {
	return d.inner.ListStale(ctx, tx, before, limit)
}
