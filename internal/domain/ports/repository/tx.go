package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes fn inside a database transaction and passes the
// transaction handle through `tx`.
//
// Repository methods that accept a Tx run on that handle when it is non-nil
// and fall back to the pool otherwise. Row locks (SELECT ... FOR UPDATE) taken
// through the handle are held until fn returns and the transaction ends.
//
// USAGE
// tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
// u, err := users.FindByIDForUpdate(ctx, tx, id)
// ...
// return err
// })
//
// If fn returns an error the transaction is rolled back; otherwise committed.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
