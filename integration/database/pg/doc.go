// Package pg provides PostgreSQL connection management with migrations
// and health checking for the quota broker.
//
// It wraps the pgx driver with retry logic on connect, pool tuning from
// environment-backed Config, goose migration support, and error
// classification helpers:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//
// WithTx/TxFromContext propagate a pgx.Tx through context so storage
// implementations can participate in a caller's transaction:
//
//	tx, _ := pool.Begin(ctx)
//	defer tx.Rollback(ctx)
//	ctx = pg.WithTx(ctx, tx)
//	// storage methods called with ctx now run inside tx
package pg
