package model

import (
	"time"

	"async-inference-ledger/internal/domain"

	"github.com/google/uuid"
)

// User owns a credit balance. The balance is only mutated under a row lock
// inside a ledger transaction.
type User struct {
	ID            string
	CreditBalance int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func NewUser(id string, balance int64) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if balance < 0 {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{ID: id, CreditBalance: balance, CreatedAt: now, UpdatedAt: now}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// CanAfford reports whether the balance covers cost.
func (u *User) CanAfford(cost int64) bool { return u.CreditBalance >= cost }

// Debit lowers the balance; it refuses to go negative.
func (u *User) Debit(amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidArgument
	}
	if !u.CanAfford(amount) {
		return domain.ErrInsufficientCredits
	}
	u.CreditBalance -= amount
	u.UpdatedAt = time.Now()
	return nil
}

func (u *User) Credit(amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidArgument
	}
	u.CreditBalance += amount
	u.UpdatedAt = time.Now()
	return nil
}
