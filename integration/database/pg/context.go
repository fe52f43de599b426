package pg

import (
	"context"

	"github.com/jackc/pgx/v5"
)

type txCtxKey struct{}

// WithTx returns a context carrying tx so that store methods executed
// under it join the transaction instead of the pool. A nil ctx falls
// back to context.Background(); a nil tx leaves ctx untouched.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txCtxKey{}, tx)
}

// TxFromContext reports the transaction placed by WithTx, if any.
// The consumption-event store checks it before every query so a pool
// update and its event insert can share one transaction.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txCtxKey{}).(pgx.Tx)
	return tx, ok
}
