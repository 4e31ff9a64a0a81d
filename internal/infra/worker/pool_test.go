//go:build !integration

package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func TestPool(t *testing.T) {
	t.Run("should run every submitted task", func(t *testing.T) {
		// --- Arrange ---
		p := NewPool(2, newTestLogger())
		p.Start(context.Background())
		defer p.Stop()
		var wg sync.WaitGroup
		var ran int32

		// --- Act ---
		for i := 0; i < 5; i++ {
			wg.Add(1)
			if err := p.Submit(func(ctx context.Context) error {
				defer wg.Done()
				atomic.AddInt32(&ran, 1)
				return nil
			}); err != nil {
				t.Fatalf("submit: %v", err)
			}
		}
		wg.Wait()

		// --- Assert ---
		if ran != 5 {
			t.Errorf("expected 5 tasks, got %d", ran)
		}
	})

	t.Run("should survive failing and panicking tasks", func(t *testing.T) {
		p := NewPool(1, newTestLogger())
		p.Start(context.Background())
		defer p.Stop()
		done := make(chan struct{})

		_ = p.Submit(func(ctx context.Context) error { return errors.New("boom") })
		_ = p.Submit(func(ctx context.Context) error { panic("kaboom") })
		_ = p.Submit(func(ctx context.Context) error {
			close(done)
			return nil
		})

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("worker did not recover")
		}
	})

	t.Run("should reject tasks when saturated or stopped", func(t *testing.T) {
		p := NewPool(1, newTestLogger())
		for i := 0; i < 4; i++ {
			if err := p.Submit(func(ctx context.Context) error { return nil }); err != nil {
				t.Fatalf("submit %d: %v", i, err)
			}
		}
		if err := p.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", err)
		}
		p.Stop()
		if err := p.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrPoolStopped) {
			t.Errorf("expected ErrPoolStopped, got %v", err)
		}
	})
}
