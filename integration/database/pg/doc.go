// Package pg connects to PostgreSQL through a pgx pool, applies goose
// migrations and classifies common driver errors.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, migrationsFS, cfg, log); err != nil {
//		return err
//	}
//
// # Transactions
//
// WithTx attaches a pgx.Tx to a context and TxFromContext retrieves it, so a
// repository can join a transaction started by its caller instead of
// opening its own.
package pg
