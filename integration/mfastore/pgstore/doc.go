// Package pgstore implements mfa.Store on PostgreSQL via pgx.
//
// The schema ships as embedded goose migrations:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pgstore.Migrate(ctx, pool, cfg, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
//
// Enrollment and code replacement run in a transaction. Consuming a backup
// code is a single conditional UPDATE, so each code is spent at most once
// across any number of service instances.
package pgstore
