package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
)

var _ repository.CreditTransactionRepository = (*creditTransactionRepo)(nil)

type creditTransactionRepo struct {
	pool *pgxpool.Pool
}

func NewCreditTransactionRepo(pool *pgxpool.Pool) *creditTransactionRepo {
	return &creditTransactionRepo{pool: pool}
}

const creditTxColumns = `id, user_id, type, amount, balance_after, reason, transaction_id, prediction_id, created_at`

func (r *creditTransactionRepo) Append(ctx context.Context, tx repository.Tx, e *model.CreditTransaction) error {
	const q = `
INSERT INTO credit_transactions (` + creditTxColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`
	_, err := execSQL(ctx, r.pool, tx, q,
		e.ID, e.UserID, string(e.Type), e.Amount, e.BalanceAfter, e.Reason, e.TransactionID, e.PredictionID, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s entry for %s", domain.ErrAlreadyExists, e.Type, e.TransactionID)
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (r *creditTransactionRepo) FindByTransactionID(ctx context.Context, tx repository.Tx, transactionID string, typ model.CreditTransactionType) (*model.CreditTransaction, error) {
	q := `SELECT ` + creditTxColumns + ` FROM credit_transactions WHERE transaction_id = $1 AND type = $2;`
	e, err := scanCreditTx(pickRow(ctx, r.pool, tx, q, transactionID, string(typ)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return e, err
}

func (r *creditTransactionRepo) ListByPredictionID(ctx context.Context, tx repository.Tx, predictionID string) ([]*model.CreditTransaction, error) {
	q := `SELECT ` + creditTxColumns + ` FROM credit_transactions WHERE prediction_id = $1 ORDER BY created_at, id;`
	return r.list(ctx, tx, q, predictionID)
}

func (r *creditTransactionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + creditTxColumns + ` FROM credit_transactions WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2;`
	return r.list(ctx, tx, q, userID, limit)
}

func (r *creditTransactionRepo) list(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.CreditTransaction, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CreditTransaction
	for rows.Next() {
		e, err := scanCreditTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanCreditTx(row pgx.Row) (*model.CreditTransaction, error) {
	var (
		e   model.CreditTransaction
		typ string
	)
	if err := row.Scan(&e.ID, &e.UserID, &typ, &e.Amount, &e.BalanceAfter, &e.Reason, &e.TransactionID, &e.PredictionID, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Type = model.CreditTransactionType(typ)
	return &e, nil
}
