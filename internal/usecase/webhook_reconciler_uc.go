package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
	"async-inference-ledger/internal/infra/logging"
	"async-inference-ledger/internal/infra/metrics"
)

// Compile-time check
var _ WebhookReconciler = (*webhookReconcilerUC)(nil)

// Outcome classifies what a reconciliation did.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeIgnored          Outcome = "ignored"
)

// Event sources, used for metrics and logs.
const (
	SourceWebhook = "webhook"
	SourcePoll    = "poll"
	SourceSweeper = "sweeper"
)

// WebhookEvent is a provider status report for one prediction, whether it
// arrived as a callback or was fetched by polling.
type WebhookEvent struct {
	PredictionID string
	Status       model.JobStatus
	Output       json.RawMessage
	Error        string
	Source       string
}

type WebhookReconciler interface {
	Reconcile(ctx context.Context, ev WebhookEvent) (Outcome, error)
}

type webhookReconcilerUC struct {
	users  repository.UserRepository
	ledger repository.CreditTransactionRepository
	jobs   repository.PredictionJobRepository
	tm     repository.TransactionManager
	log    *zerolog.Logger
}

func NewWebhookReconciler(
	users repository.UserRepository,
	ledger repository.CreditTransactionRepository,
	jobs repository.PredictionJobRepository,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *webhookReconcilerUC {
	if logger == nil {
		logger = logging.Nop()
	}
	return &webhookReconcilerUC{users: users, ledger: ledger, jobs: jobs, tm: tm, log: logger}
}

// Reconcile applies ev to its job under the job row lock. Terminal jobs are
// never touched again, so redelivered and concurrent events settle the
// ledger exactly once.
func (r *webhookReconcilerUC) Reconcile(ctx context.Context, ev WebhookEvent) (Outcome, error) {
	defer logging.TraceDuration(r.log, "WebhookReconciler.Reconcile")()
	if ev.PredictionID == "" || !ev.Status.Valid() {
		return "", fmt.Errorf("%w: prediction %q status %q", domain.ErrInvalidArgument, ev.PredictionID, ev.Status)
	}
	if ev.Source == "" {
		ev.Source = SourceWebhook
	}
	ctx = logging.WithPredictionID(ctx, ev.PredictionID)
	log := logging.With(ctx, r.log)

	var (
		outcome  Outcome
		from     model.JobStatus
		refunded int64
	)
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		job, err := r.jobs.FindByPredictionIDForUpdate(ctx, tx, ev.PredictionID)
		if err != nil {
			return err
		}
		from = job.Status
		if job.IsTerminal() {
			outcome = OutcomeAlreadyProcessed
			return nil
		}
		if !job.Status.CanTransitionTo(ev.Status) {
			outcome = OutcomeIgnored
			return nil
		}

		switch ev.Status {
		case model.JobStatusProcessing:
			job.Status = model.JobStatusProcessing
		case model.JobStatusCompleted:
			if err := r.confirm(ctx, tx, job); err != nil {
				return err
			}
			now := time.Now()
			job.Status = model.JobStatusCompleted
			job.Output = ev.Output
			job.CompletedAt = &now
		case model.JobStatusFailed:
			amount, err := r.refund(ctx, tx, job, ev.Error)
			if err != nil {
				return err
			}
			refunded = amount
			now := time.Now()
			job.Status = model.JobStatusFailed
			job.ErrorMessage = ev.Error
			job.CompletedAt = &now
		}
		if err := r.jobs.Update(ctx, tx, job); err != nil {
			return err
		}
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrJobNotFound) {
			log.Error().Err(err).Str("status", string(ev.Status)).Str("source", ev.Source).Msg("reconcile failed")
		}
		return "", err
	}

	if outcome == OutcomeApplied {
		metrics.IncJobReconciled(string(ev.Status), ev.Source)
		metrics.AddCredits(string(model.CreditTxRefund), refunded)
	}
	log.Info().
		Str("from", string(from)).
		Str("to", string(ev.Status)).
		Str("source", ev.Source).
		Str("outcome", string(outcome)).
		Msg("prediction reconciled")
	return outcome, nil
}

// confirm appends the zero-amount settlement for a completed job.
func (r *webhookReconcilerUC) confirm(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	user, err := r.users.FindByIDForUpdate(ctx, tx, job.UserID)
	if err != nil {
		return err
	}
	pid := job.PredictionID
	entry := model.NewCreditTransaction(user.ID, model.CreditTxCompletionConfirm, 0, user.CreditBalance,
		"prediction completed", job.CreditTransactionID, &pid)
	return r.ledger.Append(ctx, tx, entry)
}

// refund returns the held amount recorded on the job's prehold entry.
func (r *webhookReconcilerUC) refund(ctx context.Context, tx repository.Tx, job *model.PredictionJob, reason string) (int64, error) {
	hold, err := r.ledger.FindByTransactionID(ctx, tx, job.CreditTransactionID, model.CreditTxPrehold)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, fmt.Errorf("%w: transaction %s", domain.ErrPreholdNotFound, job.CreditTransactionID)
	}
	if err != nil {
		return 0, err
	}
	amount := hold.Amount
	if amount < 0 {
		amount = -amount
	}

	user, err := r.users.FindByIDForUpdate(ctx, tx, job.UserID)
	if err != nil {
		return 0, err
	}
	if err := user.Credit(amount); err != nil {
		return 0, err
	}
	if err := r.users.UpdateBalance(ctx, tx, user.ID, user.CreditBalance); err != nil {
		return 0, err
	}
	if reason == "" {
		reason = "unknown error"
	}
	pid := job.PredictionID
	entry := model.NewCreditTransaction(user.ID, model.CreditTxRefund, amount, user.CreditBalance,
		"prediction failed: "+truncate(reason, 200), job.CreditTransactionID, &pid)
	if err := r.ledger.Append(ctx, tx, entry); err != nil {
		return 0, err
	}
	return amount, nil
}
