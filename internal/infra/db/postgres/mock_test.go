//go:build !integration

package postgres

import (
	"context"
	"time"

	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
	red "async-inference-ledger/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerJobRepo mocks the database repository that the job decorator wraps.
type mockInnerJobRepo struct {
	FindByPredictionIDFunc func(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error)
	UpdateFunc             func(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error
}

func (m *mockInnerJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	return nil
}
func (m *mockInnerJobRepo) FindByPredictionID(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error) {
	return m.FindByPredictionIDFunc(ctx, tx, predictionID)
}
func (m *mockInnerJobRepo) FindByPredictionIDForUpdate(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error) {
	return m.FindByPredictionIDFunc(ctx, tx, predictionID)
}
func (m *mockInnerJobRepo) FindByCreditTransactionID(ctx context.Context, tx repository.Tx, transactionID string) (*model.PredictionJob, error) {
	return nil, nil
}
func (m *mockInnerJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	return m.UpdateFunc(ctx, tx, job)
}
func (m *mockInnerJobRepo) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PredictionJob, error) {
	return nil, nil
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
