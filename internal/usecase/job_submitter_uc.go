package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/domain/ports/repository"
	"async-inference-ledger/internal/infra/logging"
	"async-inference-ledger/internal/infra/metrics"
)

// Compile-time check
var _ JobSubmitter = (*jobSubmitterUC)(nil)

type SubmitRequest struct {
	UserID     string
	TaskType   model.TaskType
	ModelID    string
	Input      map[string]any
	CreditCost int64
	// IdempotencyKey is optional. A repeated key returns the job created by
	// the first submission instead of holding credits again.
	IdempotencyKey string
}

type SubmitResult struct {
	PredictionID string
	JobID        string
	Replayed     bool
}

// JobSubmitter pre-holds credits and dispatches a prediction as one unit.
type JobSubmitter interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
}

type jobSubmitterUC struct {
	users      repository.UserRepository
	ledger     repository.CreditTransactionRepository
	jobs       repository.PredictionJobRepository
	tm         repository.TransactionManager
	resolver   PredictorResolver
	alerter    adapter.Alerter
	webhookURL string
	log        *zerolog.Logger
}

func NewJobSubmitter(
	users repository.UserRepository,
	ledger repository.CreditTransactionRepository,
	jobs repository.PredictionJobRepository,
	tm repository.TransactionManager,
	resolver PredictorResolver,
	alerter adapter.Alerter,
	webhookURL string,
	logger *zerolog.Logger,
) *jobSubmitterUC {
	if logger == nil {
		logger = logging.Nop()
	}
	return &jobSubmitterUC{
		users:      users,
		ledger:     ledger,
		jobs:       jobs,
		tm:         tm,
		resolver:   resolver,
		alerter:    alerter,
		webhookURL: webhookURL,
		log:        logger,
	}
}

// Submit locks the user row, debits the cost, appends the prehold and
// dispatches the prediction inside a single transaction. A rejected dispatch
// is refunded in the same transaction and reported as ErrDispatchFailed. If
// the provider accepted the prediction but the job row cannot be committed,
// everything rolls back, an alert is raised and ErrPostDispatch is returned.
//
// The user row lock is held for the whole call, provider dispatch and its
// retries included, so submissions of one user run strictly one at a time.
func (s *jobSubmitterUC) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	defer logging.TraceDuration(s.log, "JobSubmitter.Submit")()
	log := logging.With(ctx, s.log)

	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	predictor, version, err := s.resolver.ResolvePredictor(ctx, req.ModelID)
	if err != nil {
		return nil, err
	}
	input, err := json.Marshal(req.Input)
	if err != nil {
		return nil, fmt.Errorf("%w: input: %v", domain.ErrInvalidArgument, err)
	}

	key := ledgerKey(req.UserID, req.IdempotencyKey)

	var (
		result       *SubmitResult
		dispatchErr  error
		dispatchedID string
	)
	err = s.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		user, err := s.users.FindByIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			replay, err := s.replay(ctx, tx, key)
			if err != nil || replay != nil {
				result = replay
				return err
			}
		}

		if err := user.Debit(req.CreditCost); err != nil {
			return err
		}
		if err := s.users.UpdateBalance(ctx, tx, user.ID, user.CreditBalance); err != nil {
			return err
		}
		reason := fmt.Sprintf("prehold %s %s", req.TaskType, req.ModelID)
		hold := model.NewCreditTransaction(user.ID, model.CreditTxPrehold, -req.CreditCost, user.CreditBalance, reason, key, nil)
		if err := s.ledger.Append(ctx, tx, hold); err != nil {
			return err
		}

		prediction, err := predictor.Create(ctx, version, req.Input, s.webhookURL)
		if err != nil {
			dispatchErr = err
			return s.refundUndispatched(ctx, tx, user, req.CreditCost, key, err)
		}
		dispatchedID = prediction.ID

		job := &model.PredictionJob{
			ID:                  uuid.NewString(),
			PredictionID:        prediction.ID,
			UserID:              user.ID,
			TaskType:            req.TaskType,
			ModelID:             req.ModelID,
			Status:              model.JobStatusPending,
			Input:               input,
			CreditTransactionID: key,
			CreatedAt:           time.Now(),
		}
		if err := s.jobs.Create(ctx, tx, job); err != nil {
			return err
		}
		result = &SubmitResult{PredictionID: job.PredictionID, JobID: job.ID}
		return nil
	})

	switch {
	case err != nil && dispatchedID != "":
		s.alertPostDispatch(ctx, req, key, dispatchedID, err)
		return nil, fmt.Errorf("%w: prediction %s: %v", domain.ErrPostDispatch, dispatchedID, err)
	case err != nil:
		metrics.IncJobSubmitted(string(req.TaskType), submitOutcome(err))
		return nil, err
	case dispatchErr != nil:
		metrics.IncJobSubmitted(string(req.TaskType), "dispatch_failed")
		metrics.AddCredits(string(model.CreditTxPrehold), req.CreditCost)
		metrics.AddCredits(string(model.CreditTxRefund), req.CreditCost)
		log.Warn().Err(dispatchErr).Str("model_id", req.ModelID).Msg("dispatch failed; hold refunded")
		return nil, fmt.Errorf("%w: %v", domain.ErrDispatchFailed, dispatchErr)
	case result.Replayed:
		metrics.IncJobSubmitted(string(req.TaskType), "replayed")
		return result, nil
	}

	metrics.IncJobSubmitted(string(req.TaskType), "accepted")
	metrics.AddCredits(string(model.CreditTxPrehold), req.CreditCost)
	log.Info().Str("prediction_id", result.PredictionID).Str("job_id", result.JobID).
		Int64("credit_cost", req.CreditCost).Msg("prediction dispatched")
	return result, nil
}

// ledgerKey namespaces a client idempotency key by its user, so equal keys
// from different users never share a ledger entry or a job. Without a client
// key a fresh ULID is used.
func ledgerKey(userID, clientKey string) string {
	if clientKey == "" {
		return model.NewIdempotencyKey()
	}
	return userID + ":" + clientKey
}

// replay returns the job already created for key, ErrDuplicateSubmission
// when the key's hold was refunded, or nil when the key is unused.
func (s *jobSubmitterUC) replay(ctx context.Context, tx repository.Tx, key string) (*SubmitResult, error) {
	job, err := s.jobs.FindByCreditTransactionID(ctx, tx, key)
	if err == nil {
		return &SubmitResult{PredictionID: job.PredictionID, JobID: job.ID, Replayed: true}, nil
	}
	if !errors.Is(err, domain.ErrJobNotFound) {
		return nil, err
	}
	_, err = s.ledger.FindByTransactionID(ctx, tx, key, model.CreditTxPrehold)
	switch {
	case err == nil:
		return nil, domain.ErrDuplicateSubmission
	case errors.Is(err, domain.ErrNotFound):
		return nil, nil
	default:
		return nil, err
	}
}

func (s *jobSubmitterUC) refundUndispatched(ctx context.Context, tx repository.Tx, user *model.User, amount int64, key string, cause error) error {
	if err := user.Credit(amount); err != nil {
		return err
	}
	if err := s.users.UpdateBalance(ctx, tx, user.ID, user.CreditBalance); err != nil {
		return err
	}
	reason := "dispatch failed: " + truncate(cause.Error(), 200)
	return s.ledger.Append(ctx, tx, model.NewCreditTransaction(user.ID, model.CreditTxRefund, amount, user.CreditBalance, reason, key, nil))
}

func (s *jobSubmitterUC) alertPostDispatch(ctx context.Context, req SubmitRequest, key, predictionID string, cause error) {
	metrics.IncPostDispatchFailure()
	metrics.IncJobSubmitted(string(req.TaskType), "post_dispatch")
	s.log.Error().Err(cause).
		Str("prediction_id", predictionID).
		Str("user_id", req.UserID).
		Str("transaction_id", key).
		Msg("prediction accepted by provider but not recorded")
	if s.alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	text := fmt.Sprintf("Unrecorded prediction %s (user %s, model %s, key %s): %v",
		predictionID, req.UserID, req.ModelID, key, cause)
	if err := s.alerter.Alert(actx, text); err != nil {
		s.log.Error().Err(err).Str("prediction_id", predictionID).Msg("post-dispatch alert failed")
	}
}

func validateSubmit(req SubmitRequest) error {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	case !req.TaskType.Valid():
		return fmt.Errorf("%w: task type %q", domain.ErrInvalidArgument, req.TaskType)
	case strings.TrimSpace(req.ModelID) == "":
		return fmt.Errorf("%w: model id is required", domain.ErrInvalidArgument)
	case req.CreditCost <= 0:
		return fmt.Errorf("%w: credit cost must be positive", domain.ErrInvalidArgument)
	}
	return nil
}

func submitOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, domain.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, domain.ErrDuplicateSubmission):
		return "duplicate"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
