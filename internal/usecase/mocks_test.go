//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/adapter"
	"async-inference-ledger/internal/domain/ports/repository"
)

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// memStore backs the in-memory repositories. Transactions run one at a time
// and restore a snapshot when the callback (or the simulated commit) fails,
// which is enough to observe row-lock serialization and rollback.
type memStore struct {
	mu     sync.Mutex
	users  map[string]model.User
	ledger []model.CreditTransaction
	jobs   map[string]model.PredictionJob
}

func newMemStore() *memStore {
	return &memStore{users: map[string]model.User{}, jobs: map[string]model.PredictionJob{}}
}

type snapshot struct {
	users  map[string]model.User
	ledger []model.CreditTransaction
	jobs   map[string]model.PredictionJob
}

func (s *memStore) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{users: map[string]model.User{}, jobs: map[string]model.PredictionJob{}}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.jobs {
		snap.jobs[k] = v
	}
	snap.ledger = append(snap.ledger, s.ledger...)
	return snap
}

func (s *memStore) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users, s.ledger, s.jobs = snap.users, snap.ledger, snap.jobs
}

func (s *memStore) addUser(id string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = model.User{ID: id, CreditBalance: balance}
}

func (s *memStore) balance(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].CreditBalance
}

func (s *memStore) entries() []model.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.CreditTransaction(nil), s.ledger...)
}

func (s *memStore) entriesOfType(typ model.CreditTransactionType) []model.CreditTransaction {
	var out []model.CreditTransaction
	for _, e := range s.entries() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) job(predictionID string) (model.PredictionJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[predictionID]
	return j, ok
}

func (s *memStore) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// ---- Transaction manager ----

type txHandle struct{}

type MockTxManager struct {
	store     *memStore
	txMu      sync.Mutex
	CommitErr error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager(store *memStore) *MockTxManager {
	return &MockTxManager{store: store}
}

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.store.snapshot()
	if err := fn(ctx, txHandle{}); err != nil {
		m.store.restore(snap)
		return err
	}
	if m.CommitErr != nil {
		m.store.restore(snap)
		return m.CommitErr
	}
	return nil
}

// ---- Users ----

type memUserRepo struct{ s *memStore }

var _ repository.UserRepository = (*memUserRepo)(nil)

func (r *memUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[u.ID] = *u
	return nil
}

func (r *memUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (r *memUserRepo) FindByIDForUpdate(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	if _, ok := tx.(txHandle); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	return r.FindByID(ctx, tx, id)
}

func (r *memUserRepo) UpdateBalance(ctx context.Context, tx repository.Tx, id string, balance int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return domain.ErrUserNotFound
	}
	if balance < 0 {
		return errors.New("check constraint: credit_balance >= 0")
	}
	u.CreditBalance = balance
	r.s.users[id] = u
	return nil
}

// ---- Ledger ----

type memLedgerRepo struct {
	s         *memStore
	AppendErr error
}

var _ repository.CreditTransactionRepository = (*memLedgerRepo)(nil)

func (r *memLedgerRepo) Append(ctx context.Context, tx repository.Tx, e *model.CreditTransaction) error {
	if r.AppendErr != nil {
		return r.AppendErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, ex := range r.s.ledger {
		if ex.TransactionID == e.TransactionID && ex.Type == e.Type {
			return domain.ErrAlreadyExists
		}
		settlement := e.Type != model.CreditTxPrehold && ex.Type != model.CreditTxPrehold
		if settlement && e.PredictionID != nil && ex.PredictionID != nil && *e.PredictionID == *ex.PredictionID {
			return domain.ErrAlreadyExists
		}
	}
	r.s.ledger = append(r.s.ledger, *e)
	return nil
}

func (r *memLedgerRepo) FindByTransactionID(ctx context.Context, tx repository.Tx, transactionID string, typ model.CreditTransactionType) (*model.CreditTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.ledger {
		if e.TransactionID == transactionID && e.Type == typ {
			cp := e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memLedgerRepo) ListByPredictionID(ctx context.Context, tx repository.Tx, predictionID string) ([]*model.CreditTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.CreditTransaction
	for _, e := range r.s.ledger {
		if e.PredictionID != nil && *e.PredictionID == predictionID {
			cp := e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.CreditTransaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.CreditTransaction
	for i := len(r.s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if e := r.s.ledger[i]; e.UserID == userID {
			out = append(out, &e)
		}
	}
	return out, nil
}

// ---- Jobs ----

type memJobRepo struct {
	s         *memStore
	CreateErr error
}

var _ repository.PredictionJobRepository = (*memJobRepo)(nil)

func (r *memJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	if r.CreateErr != nil {
		return r.CreateErr
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.PredictionID]; ok {
		return domain.ErrAlreadyExists
	}
	r.s.jobs[job.PredictionID] = *job
	return nil
}

func (r *memJobRepo) FindByPredictionID(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[predictionID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &j, nil
}

func (r *memJobRepo) FindByPredictionIDForUpdate(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error) {
	if _, ok := tx.(txHandle); !ok {
		return nil, domain.ErrInvalidExecContext
	}
	return r.FindByPredictionID(ctx, tx, predictionID)
}

func (r *memJobRepo) FindByCreditTransactionID(ctx context.Context, tx repository.Tx, transactionID string) (*model.PredictionJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, j := range r.s.jobs {
		if j.CreditTransactionID == transactionID {
			cp := j
			return &cp, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (r *memJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.PredictionID]; !ok {
		return domain.ErrJobNotFound
	}
	job.UpdatedAt = time.Now()
	r.s.jobs[job.PredictionID] = *job
	return nil
}

func (r *memJobRepo) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PredictionJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.PredictionJob
	for _, j := range r.s.jobs {
		if !j.IsTerminal() && j.CreatedAt.Before(before) {
			cp := j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- Provider ----

type MockPredictor struct {
	mu         sync.Mutex
	CreateFunc func(ctx context.Context, model string, input map[string]any, webhookURL string) (*adapter.Prediction, error)
	GetFunc    func(ctx context.Context, predictionID string) (*adapter.Prediction, error)
	creates    int
	gets       int
}

var _ adapter.Predictor = (*MockPredictor)(nil)

func (m *MockPredictor) Create(ctx context.Context, model string, input map[string]any, webhookURL string) (*adapter.Prediction, error) {
	m.mu.Lock()
	m.creates++
	m.mu.Unlock()
	return m.CreateFunc(ctx, model, input, webhookURL)
}

func (m *MockPredictor) Get(ctx context.Context, predictionID string) (*adapter.Prediction, error) {
	m.mu.Lock()
	m.gets++
	m.mu.Unlock()
	return m.GetFunc(ctx, predictionID)
}

func (m *MockPredictor) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

func (m *MockPredictor) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

type MockResolver struct {
	Predictor adapter.Predictor
	Models    map[string]string
}

func (m *MockResolver) ResolvePredictor(ctx context.Context, modelID string) (adapter.Predictor, string, error) {
	v, ok := m.Models[modelID]
	if !ok {
		return nil, "", domain.ErrModelNotFound
	}
	return m.Predictor, v, nil
}

type MockAlerter struct {
	mu       sync.Mutex
	Messages []string
}

func (m *MockAlerter) Alert(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, text)
	return nil
}

// ---- Fixture ----

type fixture struct {
	store     *memStore
	tm        *MockTxManager
	users     *memUserRepo
	ledger    *memLedgerRepo
	jobs      *memJobRepo
	predictor *MockPredictor
	resolver  *MockResolver
	alerter   *MockAlerter
}

func newFixture() *fixture {
	s := newMemStore()
	p := &MockPredictor{}
	return &fixture{
		store:     s,
		tm:        NewMockTxManager(s),
		users:     &memUserRepo{s: s},
		ledger:    &memLedgerRepo{s: s},
		jobs:      &memJobRepo{s: s},
		predictor: p,
		resolver:  &MockResolver{Predictor: p, Models: map[string]string{"style-analysis": "acme/styler:v1"}},
		alerter:   &MockAlerter{},
	}
}
