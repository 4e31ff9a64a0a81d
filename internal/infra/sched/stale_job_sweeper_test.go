//go:build !integration

package sched

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
	red "async-inference-ledger/internal/infra/redis"
	"async-inference-ledger/internal/infra/worker"
	"async-inference-ledger/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type mockJobRepo struct {
	repository.PredictionJobRepository
	ListStaleFunc func(ctx context.Context, before time.Time, limit int) ([]*model.PredictionJob, error)
}

func (m *mockJobRepo) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PredictionJob, error) {
	return m.ListStaleFunc(ctx, before, limit)
}

type mockSyncer struct {
	mu       sync.Mutex
	synced   []string
	Outcomes map[string]usecase.Outcome
	Err      error
}

func (m *mockSyncer) SyncOnce(ctx context.Context, predictionID, source string) (usecase.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = append(m.synced, predictionID+"@"+source)
	return m.Outcomes[predictionID], m.Err
}

// inlinePool runs tasks synchronously.
type inlinePool struct {
	Reject error
}

func (p *inlinePool) Submit(task worker.Task) error {
	if p.Reject != nil {
		return p.Reject
	}
	_ = task(context.Background())
	return nil
}

func staleJobs(ids ...string) []*model.PredictionJob {
	out := make([]*model.PredictionJob, 0, len(ids))
	for _, id := range ids {
		out = append(out, &model.PredictionJob{PredictionID: id, Status: model.JobStatusProcessing})
	}
	return out
}

func TestStaleJobSweeper_Sweep(t *testing.T) {
	ctx := context.Background()

	t.Run("should sync every stale job older than the cutoff", func(t *testing.T) {
		// --- Arrange ---
		var gotBefore time.Time
		jobs := &mockJobRepo{ListStaleFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.PredictionJob, error) {
			gotBefore = before
			return staleJobs("p1", "p2"), nil
		}}
		syncer := &mockSyncer{Outcomes: map[string]usecase.Outcome{"p1": usecase.OutcomeApplied, "p2": usecase.OutcomeIgnored}}
		w := NewStaleJobSweeper(jobs, syncer, &inlinePool{}, nil, time.Minute, 10*time.Minute, newTestLogger())

		// --- Act ---
		n := w.Sweep(ctx)

		// --- Assert ---
		if n != 2 {
			t.Fatalf("expected 2 queued, got %d", n)
		}
		if len(syncer.synced) != 2 || syncer.synced[0] != "p1@sweeper" || syncer.synced[1] != "p2@sweeper" {
			t.Errorf("unexpected syncs %v", syncer.synced)
		}
		if age := time.Since(gotBefore); age < 10*time.Minute || age > 11*time.Minute {
			t.Errorf("unexpected cutoff age %s", age)
		}
	})

	t.Run("should do nothing when listing fails", func(t *testing.T) {
		jobs := &mockJobRepo{ListStaleFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.PredictionJob, error) {
			return nil, errors.New("db down")
		}}
		syncer := &mockSyncer{}
		if n := NewStaleJobSweeper(jobs, syncer, &inlinePool{}, nil, 0, 0, newTestLogger()).Sweep(ctx); n != 0 || len(syncer.synced) != 0 {
			t.Errorf("expected no work, got %d queued", n)
		}
	})

	t.Run("should skip jobs the pool rejects", func(t *testing.T) {
		jobs := &mockJobRepo{ListStaleFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.PredictionJob, error) {
			return staleJobs("p1"), nil
		}}
		syncer := &mockSyncer{}
		w := NewStaleJobSweeper(jobs, syncer, &inlinePool{Reject: worker.ErrQueueFull}, nil, 0, 0, newTestLogger())
		if n := w.Sweep(ctx); n != 0 || len(syncer.synced) != 0 {
			t.Errorf("expected nothing queued, got %d", n)
		}
	})

	t.Run("should let only one instance sweep at a time", func(t *testing.T) {
		// --- Arrange ---
		mr := miniredis.RunT(t)
		locker := red.NewLocker(red.Wrap(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
		jobs := &mockJobRepo{ListStaleFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.PredictionJob, error) {
			return staleJobs("p1"), nil
		}}
		syncer := &mockSyncer{}
		w := NewStaleJobSweeper(jobs, syncer, &inlinePool{}, locker, time.Minute, 0, newTestLogger())
		token, err := locker.TryLock(ctx, sweepLockKey, time.Minute)
		if err != nil {
			t.Fatalf("TryLock: %v", err)
		}

		// --- Act ---
		held := w.Sweep(ctx)
		_ = locker.Unlock(ctx, sweepLockKey, token)
		free := w.Sweep(ctx)

		// --- Assert ---
		if held != 0 || free != 1 {
			t.Errorf("expected 0 while held and 1 after release, got %d and %d", held, free)
		}
		if mr.Exists(sweepLockKey) {
			t.Error("expected the sweep lock to be released")
		}
	})
}

func TestStaleJobSweeper_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	swept := make(chan struct{}, 1)
	jobs := &mockJobRepo{ListStaleFunc: func(ctx context.Context, before time.Time, limit int) ([]*model.PredictionJob, error) {
		select {
		case swept <- struct{}{}:
		default:
		}
		return nil, nil
	}}
	w := NewStaleJobSweeper(jobs, &mockSyncer{}, &inlinePool{}, nil, time.Millisecond, time.Minute, newTestLogger())

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweeper never ticked")
	}
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
