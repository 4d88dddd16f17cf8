package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/mfa/core/mfa"
)

const (
	fieldSecret          = "secret"
	fieldEnabled         = "enabled"
	fieldCreatedAt       = "created_at"
	fieldLastVerifiedAt  = "last_verified_at"
	fieldLastUsedCounter = "last_used_counter"
	fieldCodesCreatedAt  = "codes_created_at"

	unused = "0"
)

// updateScript writes the mutable credential fields only if the credential
// exists (0 otherwise) and still holds the expected secret, created_at and
// last_used_counter (-1 otherwise).
var updateScript = redis.NewScript(`
local cur = redis.call("HMGET", KEYS[1], "secret", "created_at", "last_used_counter")
if not cur[1] then
	return 0
end
if cur[1] ~= ARGV[4] or cur[2] ~= ARGV[5] or cur[3] ~= ARGV[6] then
	return -1
end
redis.call("HSET", KEYS[1], "enabled", ARGV[1], "last_verified_at", ARGV[2], "last_used_counter", ARGV[3])
return 1
`)

// consumeScript marks a backup code used if it exists and is unused.
var consumeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == "0" then
	redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// Store keeps MFA credentials in Redis. Each user has a credential hash and
// a backup-code hash mapping code hash to used-at (0 while unused). Both keys
// share a hash tag so they live in one cluster slot.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix sets the key prefix. Default is "mfa:".
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store on client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, prefix: "mfa:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) credKey(userID string) string {
	return s.prefix + "{" + userID + "}:cred"
}

func (s *Store) codesKey(userID string) string {
	return s.prefix + "{" + userID + "}:codes"
}

func (s *Store) GetCredential(ctx context.Context, userID string) (mfa.Credential, error) {
	m, err := s.client.HGetAll(ctx, s.credKey(userID)).Result()
	if err != nil {
		return mfa.Credential{}, err
	}
	if len(m) == 0 {
		return mfa.Credential{}, mfa.ErrCredentialNotFound
	}

	counter, err := strconv.ParseUint(m[fieldLastUsedCounter], 10, 64)
	if err != nil {
		return mfa.Credential{}, errors.Join(ErrMalformedRecord, err)
	}
	created, err := parseTime(m[fieldCreatedAt])
	if err != nil {
		return mfa.Credential{}, err
	}
	verified, err := parseTime(m[fieldLastVerifiedAt])
	if err != nil {
		return mfa.Credential{}, err
	}

	return mfa.Credential{
		UserID:          userID,
		EncryptedSecret: []byte(m[fieldSecret]),
		Enabled:         m[fieldEnabled] == "1",
		CreatedAt:       created,
		LastVerifiedAt:  verified,
		LastUsedCounter: counter,
	}, nil
}

// saveAttempts bounds the optimistic retries of SaveEnrollment.
const saveAttempts = 3

// SaveEnrollment replaces the credential and codes inside a WATCH transaction
// on the credential key. An enabled credential is left untouched.
func (s *Store) SaveEnrollment(ctx context.Context, cred mfa.Credential, codes []mfa.BackupCode) error {
	credKey, codesKey := s.credKey(cred.UserID), s.codesKey(cred.UserID)

	save := func(tx *redis.Tx) error {
		enabled, err := tx.HGet(ctx, credKey, fieldEnabled).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if enabled == "1" {
			return mfa.ErrCredentialConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, credKey, codesKey)
			pipe.HSet(ctx, credKey,
				fieldSecret, cred.EncryptedSecret,
				fieldEnabled, formatBool(cred.Enabled),
				fieldCreatedAt, formatTime(cred.CreatedAt),
				fieldLastVerifiedAt, formatTime(cred.LastVerifiedAt),
				fieldLastUsedCounter, strconv.FormatUint(cred.LastUsedCounter, 10),
				fieldCodesCreatedAt, formatTime(codesCreatedAt(codes)),
			)
			if len(codes) > 0 {
				pipe.HSet(ctx, codesKey, codeFields(codes)...)
			}
			return nil
		})
		return err
	}

	var err error
	for range saveAttempts {
		err = s.client.Watch(ctx, save, credKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *Store) UpdateCredential(ctx context.Context, cred mfa.Credential, expect mfa.CredentialVersion) error {
	n, err := updateScript.Run(ctx, s.client, []string{s.credKey(cred.UserID)},
		formatBool(cred.Enabled),
		formatTime(cred.LastVerifiedAt),
		strconv.FormatUint(cred.LastUsedCounter, 10),
		expect.EncryptedSecret,
		formatTime(expect.CreatedAt),
		strconv.FormatUint(expect.LastUsedCounter, 10),
	).Int()
	if err != nil {
		return err
	}
	switch n {
	case 0:
		return mfa.ErrCredentialNotFound
	case -1:
		return mfa.ErrCredentialConflict
	}
	return nil
}

// ReplaceBackupCodes swaps the code set inside a WATCH transaction on the
// credential key, so a concurrent delete aborts the swap.
func (s *Store) ReplaceBackupCodes(ctx context.Context, userID string, codes []mfa.BackupCode) error {
	credKey, codesKey := s.credKey(userID), s.codesKey(userID)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, credKey).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return mfa.ErrCredentialNotFound
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, codesKey)
			if len(codes) > 0 {
				pipe.HSet(ctx, codesKey, codeFields(codes)...)
			}
			pipe.HSet(ctx, credKey, fieldCodesCreatedAt, formatTime(codesCreatedAt(codes)))
			return nil
		})
		return err
	}, credKey)
}

func (s *Store) ConsumeBackupCode(ctx context.Context, userID, hash string, at time.Time) (bool, error) {
	n, err := consumeScript.Run(ctx, s.client, []string{s.codesKey(userID)}, hash, formatTime(at)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	vals, err := s.client.HVals(ctx, s.codesKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range vals {
		if v == unused {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteCredential(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.credKey(userID), s.codesKey(userID)).Err()
}

func codeFields(codes []mfa.BackupCode) []any {
	fields := make([]any, 0, len(codes)*2)
	for _, c := range codes {
		used := unused
		if c.Used() {
			used = formatTime(c.UsedAt)
		}
		fields = append(fields, c.Hash, used)
	}
	return fields
}

func codesCreatedAt(codes []mfa.BackupCode) time.Time {
	if len(codes) == 0 {
		return time.Time{}
	}
	return codes[0].CreatedAt
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseTime(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, errors.Join(ErrMalformedRecord, err)
	}
	return time.Unix(0, n).UTC(), nil
}
