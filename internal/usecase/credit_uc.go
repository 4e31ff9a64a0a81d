package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"async-inference-ledger/internal/domain"
	"async-inference-ledger/internal/domain/model"
	"async-inference-ledger/internal/domain/ports/repository"
	"async-inference-ledger/internal/infra/logging"
)

// Compile-time check
var _ CreditUseCase = (*creditUC)(nil)

// CreditUseCase is the read side of the ledger.
type CreditUseCase interface {
	Balance(ctx context.Context, userID string) (int64, error)
	History(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error)
}

type creditUC struct {
	users  repository.UserRepository
	ledger repository.CreditTransactionRepository
	log    *zerolog.Logger
}

func NewCreditUseCase(users repository.UserRepository, ledger repository.CreditTransactionRepository, logger *zerolog.Logger) *creditUC {
	if logger == nil {
		logger = logging.Nop()
	}
	return &creditUC{users: users, ledger: ledger, log: logger}
}

func (c *creditUC) Balance(ctx context.Context, userID string) (int64, error) {
	defer logging.TraceDuration(c.log, "CreditUC.Balance")()
	if userID == "" {
		return 0, domain.ErrInvalidArgument
	}
	u, err := c.users.FindByID(ctx, repository.NoTX, userID)
	if err != nil {
		return 0, err
	}
	return u.CreditBalance, nil
}

func (c *creditUC) History(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	defer logging.TraceDuration(c.log, "CreditUC.History")()
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return c.ledger.ListByUser(ctx, repository.NoTX, userID, limit)
}
