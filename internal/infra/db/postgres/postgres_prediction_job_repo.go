package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
)

var _ repository.PredictionJobRepository = (*predictionJobRepo)(nil)

type predictionJobRepo struct {
	pool *pgxpool.Pool
}

func NewPredictionJobRepo(pool *pgxpool.Pool) *predictionJobRepo {
	return &predictionJobRepo{pool: pool}
}

const jobColumns = `id, prediction_id, user_id, task_type, model_id, status, input, output,
       error_message, credit_transaction_id, created_at, updated_at, completed_at`

func (r *predictionJobRepo) Create(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	input := job.Input
	if len(input) == 0 {
		input = []byte(`{}`)
	}

	const q = `
INSERT INTO prediction_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`
	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.PredictionID, job.UserID, string(job.TaskType), job.ModelID, string(job.Status),
		[]byte(input), nullableJSON(job.Output), job.ErrorMessage, job.CreditTransactionID,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: prediction %s", domain.ErrAlreadyExists, job.PredictionID)
		}
		return fmt.Errorf("insert prediction job: %w", err)
	}
	return nil
}

func (r *predictionJobRepo) FindByPredictionID(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error) {
	q := `SELECT ` + jobColumns + ` FROM prediction_jobs WHERE prediction_id = $1;`
	return scanJobOrNotFound(pickRow(ctx, r.pool, tx, q, predictionID))
}

func (r *predictionJobRepo) FindByPredictionIDForUpdate(ctx context.Context, tx repository.Tx, predictionID string) (*model.PredictionJob, error) {
	t, err := requireTx(tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + jobColumns + ` FROM prediction_jobs WHERE prediction_id = $1 FOR UPDATE;`
	return scanJobOrNotFound(t.QueryRow(ctx, q, predictionID))
}

func (r *predictionJobRepo) FindByCreditTransactionID(ctx context.Context, tx repository.Tx, transactionID string) (*model.PredictionJob, error) {
	q := `SELECT ` + jobColumns + ` FROM prediction_jobs WHERE credit_transaction_id = $1 ORDER BY created_at LIMIT 1;`
	return scanJobOrNotFound(pickRow(ctx, r.pool, tx, q, transactionID))
}

func (r *predictionJobRepo) Update(ctx context.Context, tx repository.Tx, job *model.PredictionJob) error {
	job.UpdatedAt = time.Now()
	const q = `
UPDATE prediction_jobs SET
  status = $2,
  output = $3,
  error_message = $4,
  updated_at = $5,
  completed_at = $6
WHERE prediction_id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		job.PredictionID, string(job.Status), nullableJSON(job.Output), job.ErrorMessage, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("update prediction job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (r *predictionJobRepo) ListStale(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.PredictionJob, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + jobColumns + ` FROM prediction_jobs
WHERE status IN ('pending', 'processing') AND created_at < $1
ORDER BY created_at
LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PredictionJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func scanJobOrNotFound(row pgx.Row) (*model.PredictionJob, error) {
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	return j, err
}

func scanJob(row pgx.Row) (*model.PredictionJob, error) {
	var (
		j             model.PredictionJob
		taskType      string
		status        string
		input, output []byte
	)
	if err := row.Scan(&j.ID, &j.PredictionID, &j.UserID, &taskType, &j.ModelID, &status, &input, &output,
		&j.ErrorMessage, &j.CreditTransactionID, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.TaskType = model.TaskType(taskType)
	j.Status = model.JobStatus(status)
	j.Input = input
	j.Output = output
	return &j, nil
}
