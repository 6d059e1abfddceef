package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx = interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction and hands the
// transaction handle to repositories through tx.
//
// Repositories accept tx as `any` and detect a real transaction on the
// implementation side: row locks (SELECT ... FOR UPDATE) and advisory locks
// are only taken when tx is a live transaction. A nil tx means a plain
// pooled call.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		rec, err := subs.FindByAccount(ctx, tx, accountID)
//		...
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
