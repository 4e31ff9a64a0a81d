package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain/ports/repository"
	"async-inference-ledger/internal/infra/logging"
	"async-inference-ledger/internal/infra/metrics"
	red "async-inference-ledger/internal/infra/redis"
	"async-inference-ledger/internal/infra/worker"
	"async-inference-ledger/internal/usecase"
)

const sweepLockKey = "lock:stale-job-sweeper"

// Syncer asks the provider once about a prediction and reconciles a
// terminal answer.
type Syncer interface {
	SyncOnce(ctx context.Context, predictionID, source string) (usecase.Outcome, error)
}

// TaskSubmitter is satisfied by *worker.Pool.
type TaskSubmitter interface {
	Submit(task worker.Task) error
}

// StaleJobSweeper periodically picks up jobs whose webhook never arrived and
// settles them from the provider's view. With a locker, only one replica
// sweeps per tick.
type StaleJobSweeper struct {
	jobs       repository.PredictionJobRepository
	syncer     Syncer
	pool       TaskSubmitter
	locker     red.Locker
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old an open job must be to be swept
	batch      int
	log        *zerolog.Logger
}

func NewStaleJobSweeper(
	jobs repository.PredictionJobRepository,
	syncer Syncer,
	pool TaskSubmitter,
	locker red.Locker,
	interval, staleAfter time.Duration,
	logger *zerolog.Logger,
) *StaleJobSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if logger == nil {
		logger = logging.Nop()
	}
	l := logger.With().Str("component", "StaleJobSweeper").Logger()
	return &StaleJobSweeper{
		jobs:       jobs,
		syncer:     syncer,
		pool:       pool,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		batch:      200,
		log:        &l,
	}
}

func (w *StaleJobSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Dur("stale_after", w.staleAfter).Msg("Starting stale job sweeper")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping stale job sweeper")
			return ctx.Err()
		case <-t.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many jobs were queued.
func (w *StaleJobSweeper) Sweep(ctx context.Context) int {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, sweepLockKey, w.interval)
		if errors.Is(err, red.ErrLockHeld) {
			w.log.Debug().Msg("sweep skipped, another instance holds the lock")
			return 0
		}
		if err != nil {
			w.log.Error().Err(err).Msg("sweep lock failed")
			return 0
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("sweep unlock failed")
			}
		}()
	}

	cutoff := time.Now().Add(-w.staleAfter)
	stale, err := w.jobs.ListStale(ctx, repository.NoTX, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale jobs failed")
		return 0
	}

	queued := 0
	for _, job := range stale {
		pid := job.PredictionID
		err := w.pool.Submit(func(ctx context.Context) error {
			out, err := w.syncer.SyncOnce(ctx, pid, usecase.SourceSweeper)
			if err != nil {
				metrics.IncStaleJobSwept("error")
				return err
			}
			if out == usecase.OutcomeIgnored {
				metrics.IncStaleJobSwept("still_running")
				return nil
			}
			metrics.IncStaleJobSwept(string(out))
			return nil
		})
		if err != nil {
			// picked up again on the next tick
			metrics.IncStaleJobSwept("skipped")
			w.log.Warn().Err(err).Str("prediction_id", pid).Msg("sweep task not queued")
			continue
		}
		queued++
	}
	if queued > 0 {
		w.log.Info().Int("count", queued).Msg("stale jobs queued for sync")
	}
	return queued
}
