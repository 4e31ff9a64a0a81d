//go:build !integration

package api_test

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

type mockSubmitter struct {
	SubmitFunc func(ctx context.Context, req usecase.SubmitRequest) (*usecase.SubmitResult, error)
	last       usecase.SubmitRequest
}

func (m *mockSubmitter) Submit(ctx context.Context, req usecase.SubmitRequest) (*usecase.SubmitResult, error) {
	m.last = req
	return m.SubmitFunc(ctx, req)
}

type mockJobQuery struct {
	GetFunc func(ctx context.Context, userID, predictionID string) (*model.PredictionJob, error)
	calls   int
}

func (m *mockJobQuery) Get(ctx context.Context, userID, predictionID string) (*model.PredictionJob, error) {
	m.calls++
	return m.GetFunc(ctx, userID, predictionID)
}

type mockCredits struct {
	BalanceFunc func(ctx context.Context, userID string) (int64, error)
	HistoryFunc func(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error)
}

func (m *mockCredits) Balance(ctx context.Context, userID string) (int64, error) {
	return m.BalanceFunc(ctx, userID)
}

func (m *mockCredits) History(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	return m.HistoryFunc(ctx, userID, limit)
}

type mockReconciler struct {
	ReconcileFunc func(ctx context.Context, ev usecase.WebhookEvent) (usecase.Outcome, error)
	events        []usecase.WebhookEvent
}

func (m *mockReconciler) Reconcile(ctx context.Context, ev usecase.WebhookEvent) (usecase.Outcome, error) {
	m.events = append(m.events, ev)
	return m.ReconcileFunc(ctx, ev)
}

type mockPoller struct {
	PollFunc func(ctx context.Context, predictionID string, timeout time.Duration) (*adapter.Prediction, error)
	polls    int
}

func (m *mockPoller) Poll(ctx context.Context, predictionID string, timeout time.Duration) (*adapter.Prediction, error) {
	m.polls++
	return m.PollFunc(ctx, predictionID, timeout)
}

func (m *mockPoller) SyncOnce(ctx context.Context, predictionID, source string) (usecase.Outcome, error) {
	return usecase.OutcomeIgnored, nil
}

type mockLimiter struct {
	Allowed bool
	Err     error
	keys    []string
}

func (m *mockLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.keys = append(m.keys, key)
	return m.Allowed, m.Err
}
