//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/usecase"
)

// seedDispatched leaves the store as a successful submission would: the
// user debited, one prehold and a pending job.
func seedDispatched(t *testing.T, f *fixture, predictionID string, balance, cost int64) {
	t.Helper()
	ctx := context.Background()
	f.store.addUser("u1", balance-cost)
	key := model.NewIdempotencyKey()
	if err := f.ledger.Append(ctx, nil, model.NewCreditTransaction("u1", model.CreditTxPrehold, -cost, balance-cost, "hold", key, nil)); err != nil {
		t.Fatalf("seed prehold: %v", err)
	}
	job := &model.PredictionJob{
		ID:                  "job-" + predictionID,
		PredictionID:        predictionID,
		UserID:              "u1",
		TaskType:            model.TaskTypeGeneration,
		ModelID:             "style-analysis",
		Status:              model.JobStatusPending,
		CreditTransactionID: key,
		CreatedAt:           time.Now(),
	}
	if err := f.jobs.Create(ctx, nil, job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func newReconciler(f *fixture) usecase.WebhookReconciler {
	return usecase.NewWebhookReconciler(f.users, f.ledger, f.jobs, f.tm, newTestLogger())
}

func TestWebhookReconciler_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("should move a pending job to processing without ledger writes", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		seedDispatched(t, f, "p1", 100, 10)

		// --- Act ---
		out, err := newReconciler(f).Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusProcessing})

		// --- Assert ---
		if err != nil || out != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %q err=%v", out, err)
		}
		job, _ := f.store.job("p1")
		if job.Status != model.JobStatusProcessing || len(f.store.entries()) != 1 {
			t.Errorf("unexpected state: status=%s entries=%d", job.Status, len(f.store.entries()))
		}
	})

	t.Run("should complete a job with a zero-amount confirmation", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		seedDispatched(t, f, "p1", 100, 10)
		output := json.RawMessage(`["https://out.example/1.png"]`)

		// --- Act ---
		out, err := newReconciler(f).Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusCompleted, Output: output})

		// --- Assert ---
		if err != nil || out != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %q err=%v", out, err)
		}
		job, _ := f.store.job("p1")
		if job.Status != model.JobStatusCompleted || string(job.Output) != string(output) || job.CompletedAt == nil {
			t.Errorf("unexpected job %+v", job)
		}
		confirms := f.store.entriesOfType(model.CreditTxCompletionConfirm)
		if len(confirms) != 1 || confirms[0].Amount != 0 || confirms[0].BalanceAfter != 90 {
			t.Fatalf("unexpected confirmations %+v", confirms)
		}
		if confirms[0].PredictionID == nil || *confirms[0].PredictionID != "p1" || confirms[0].TransactionID != job.CreditTransactionID {
			t.Errorf("confirmation not linked to the job: %+v", confirms[0])
		}
		if b := f.store.balance("u1"); b != 90 {
			t.Errorf("completion must not move the balance, got %d", b)
		}
	})

	t.Run("should refund the prehold when the prediction fails", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		seedDispatched(t, f, "p1", 100, 10)

		// --- Act ---
		out, err := newReconciler(f).Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusFailed, Error: "CUDA out of memory"})

		// --- Assert ---
		if err != nil || out != usecase.OutcomeApplied {
			t.Fatalf("expected applied, got %q err=%v", out, err)
		}
		if b := f.store.balance("u1"); b != 100 {
			t.Errorf("expected balance restored to 100, got %d", b)
		}
		refunds := f.store.entriesOfType(model.CreditTxRefund)
		if len(refunds) != 1 || refunds[0].Amount != 10 || refunds[0].BalanceAfter != 100 {
			t.Fatalf("unexpected refunds %+v", refunds)
		}
		job, _ := f.store.job("p1")
		if job.Status != model.JobStatusFailed || job.ErrorMessage != "CUDA out of memory" {
			t.Errorf("unexpected job %+v", job)
		}
	})

	t.Run("should not settle twice on redelivery or conflicting terminal events", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		seedDispatched(t, f, "p1", 100, 10)
		r := newReconciler(f)
		_, _ = r.Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusCompleted})

		// --- Act ---
		again, err1 := r.Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusCompleted})
		late, err2 := r.Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusFailed})
		stale, err3 := r.Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusProcessing})

		// --- Assert ---
		for _, err := range []error{err1, err2, err3} {
			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
		}
		for _, out := range []usecase.Outcome{again, late, stale} {
			if out != usecase.OutcomeAlreadyProcessed {
				t.Errorf("expected already_processed, got %q", out)
			}
		}
		if n := len(f.store.entries()); n != 2 {
			t.Errorf("expected prehold + one confirmation, got %d entries", n)
		}
		if b := f.store.balance("u1"); b != 90 {
			t.Errorf("expected balance 90, got %d", b)
		}
	})

	t.Run("should ignore a repeated intermediate status", func(t *testing.T) {
		f := newFixture()
		seedDispatched(t, f, "p1", 100, 10)
		r := newReconciler(f)
		_, _ = r.Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusProcessing})

		out, err := r.Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusProcessing})
		if err != nil || out != usecase.OutcomeIgnored {
			t.Errorf("expected ignored, got %q err=%v", out, err)
		}
	})

	t.Run("should report an unknown prediction", func(t *testing.T) {
		f := newFixture()
		_, err := newReconciler(f).Reconcile(ctx, usecase.WebhookEvent{PredictionID: "ghost", Status: model.JobStatusCompleted})
		if !errors.Is(err, domain.ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("should reject malformed events", func(t *testing.T) {
		f := newFixture()
		_, err := newReconciler(f).Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: "exploded"})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("should leave the job open when the prehold is missing", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		f.store.addUser("u1", 90)
		_ = f.jobs.Create(ctx, nil, &model.PredictionJob{PredictionID: "p1", UserID: "u1", Status: model.JobStatusProcessing, CreditTransactionID: "missing"})

		// --- Act ---
		_, err := newReconciler(f).Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusFailed})

		// --- Assert ---
		if !errors.Is(err, domain.ErrPreholdNotFound) {
			t.Fatalf("expected ErrPreholdNotFound, got %v", err)
		}
		if job, _ := f.store.job("p1"); job.Status != model.JobStatusProcessing {
			t.Errorf("expected the job to stay processing, got %s", job.Status)
		}
	})

	t.Run("should refund exactly once under concurrent deliveries", func(t *testing.T) {
		// --- Arrange ---
		f := newFixture()
		seedDispatched(t, f, "p1", 100, 10)
		r := newReconciler(f)

		// --- Act ---
		var wg sync.WaitGroup
		var mu sync.Mutex
		applied := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := r.Reconcile(ctx, usecase.WebhookEvent{PredictionID: "p1", Status: model.JobStatusFailed, Error: "boom"})
				if err != nil {
					t.Errorf("unexpected error %v", err)
					return
				}
				if out == usecase.OutcomeApplied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		// --- Assert ---
		if applied != 1 {
			t.Errorf("expected exactly one applied delivery, got %d", applied)
		}
		if n := len(f.store.entriesOfType(model.CreditTxRefund)); n != 1 {
			t.Errorf("expected one refund, got %d", n)
		}
		if b := f.store.balance("u1"); b != 100 {
			t.Errorf("expected balance 100, got %d", b)
		}
	})
}
