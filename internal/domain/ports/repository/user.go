package repository

import (
	"context"

	"async-inference-ledger/internal/domain/model"
)

// -----------------------------
// Users
// -----------------------------

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	// FindByIDForUpdate reads the user row under a write lock. It must be
	// called with a transaction handle.
	FindByIDForUpdate(ctx context.Context, tx Tx, id string) (*model.User, error)
	UpdateBalance(ctx context.Context, tx Tx, id string, balance int64) error
}
