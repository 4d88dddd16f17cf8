package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/integration/database/pg"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements mfa.Store on PostgreSQL. When the context carries a
// transaction (pg.WithTx) every statement runs inside it.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store. Apply Migrate first.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) db(ctx context.Context) querier {
	if tx, ok := pg.TxFromContext(ctx); ok {
		return tx
	}
	return s.pool
}

const selectCredential = `
SELECT encrypted_secret, enabled, created_at, last_verified_at, last_used_counter
FROM mfa_credentials WHERE user_id = $1`

func (s *Store) GetCredential(ctx context.Context, userID string) (mfa.Credential, error) {
	var (
		cred     = mfa.Credential{UserID: userID}
		verified *time.Time
		counter  int64
	)
	err := s.db(ctx).QueryRow(ctx, selectCredential, userID).
		Scan(&cred.EncryptedSecret, &cred.Enabled, &cred.CreatedAt, &verified, &counter)
	if pg.IsNotFoundError(err) {
		return mfa.Credential{}, mfa.ErrCredentialNotFound
	}
	if err != nil {
		return mfa.Credential{}, err
	}
	if verified != nil {
		cred.LastVerifiedAt = verified.UTC()
	}
	cred.CreatedAt = cred.CreatedAt.UTC()
	cred.LastUsedCounter = uint64(counter)
	return cred, nil
}

const upsertCredential = `
INSERT INTO mfa_credentials (user_id, encrypted_secret, enabled, created_at, last_verified_at, last_used_counter)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET
    encrypted_secret  = EXCLUDED.encrypted_secret,
    enabled           = EXCLUDED.enabled,
    created_at        = EXCLUDED.created_at,
    last_verified_at  = EXCLUDED.last_verified_at,
    last_used_counter = EXCLUDED.last_used_counter
WHERE NOT mfa_credentials.enabled`

func (s *Store) SaveEnrollment(ctx context.Context, cred mfa.Credential, codes []mfa.BackupCode) error {
	return pgx.BeginFunc(ctx, s.db(ctx), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, upsertCredential,
			cred.UserID,
			cred.EncryptedSecret,
			cred.Enabled,
			cred.CreatedAt,
			nullTime(cred.LastVerifiedAt),
			int64(cred.LastUsedCounter),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return mfa.ErrCredentialConflict
		}
		return replaceCodes(ctx, tx, cred.UserID, codes)
	})
}

const updateCredential = `
UPDATE mfa_credentials
SET enabled = $2, last_verified_at = $3, last_used_counter = $4
WHERE user_id = $1 AND encrypted_secret = $5 AND created_at = $6 AND last_used_counter = $7`

func (s *Store) UpdateCredential(ctx context.Context, cred mfa.Credential, expect mfa.CredentialVersion) error {
	db := s.db(ctx)
	tag, err := db.Exec(ctx, updateCredential,
		cred.UserID,
		cred.Enabled,
		nullTime(cred.LastVerifiedAt),
		int64(cred.LastUsedCounter),
		expect.EncryptedSecret,
		expect.CreatedAt,
		int64(expect.LastUsedCounter),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM mfa_credentials WHERE user_id = $1)`, cred.UserID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return mfa.ErrCredentialNotFound
	}
	return mfa.ErrCredentialConflict
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []mfa.BackupCode) error {
	return pgx.BeginFunc(ctx, s.db(ctx), func(tx pgx.Tx) error {
		// Row lock on the credential orders this against a concurrent delete.
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM mfa_credentials WHERE user_id = $1 FOR UPDATE`, userID).Scan(&one)
		if pg.IsNotFoundError(err) {
			return mfa.ErrCredentialNotFound
		}
		if err != nil {
			return err
		}
		return replaceCodes(ctx, tx, userID, codes)
	})
}

const consumeCode = `
UPDATE mfa_backup_codes SET used_at = $3
WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`

func (s *Store) ConsumeBackupCode(ctx context.Context, userID, hash string, at time.Time) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx, consumeCode, userID, hash, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db(ctx).QueryRow(ctx,
		`SELECT count(*) FROM mfa_backup_codes WHERE user_id = $1 AND used_at IS NULL`, userID).Scan(&n)
	return n, err
}

func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	// Backup codes cascade.
	_, err := s.db(ctx).Exec(ctx, `DELETE FROM mfa_credentials WHERE user_id = $1`, userID)
	return err
}

func replaceCodes(ctx context.Context, tx pgx.Tx, userID string, codes []mfa.BackupCode) error {
	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, []any{userID, c.Hash, c.CreatedAt, nullTime(c.UsedAt)})
	}
	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"mfa_backup_codes"},
		[]string{"user_id", "code_hash", "created_at", "used_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}
	if int(n) != len(codes) {
		return errors.New("pgstore: short backup code copy")
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
