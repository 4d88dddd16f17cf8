package mfa_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/core/session"
	"github.com/dmitrymomot/mfa/pkg/secrets"
	"github.com/dmitrymomot/mfa/pkg/totp"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *mfa.Service
	store    mfa.Store
	registry *session.Registry
	cipher   *secrets.Cipher
	hasher   *totp.BackupCodeHasher
	clock    *clock
}

func newCipher(t *testing.T) (*secrets.Cipher, *totp.BackupCodeHasher) {
	t.Helper()

	app, err := secrets.GenerateKey()
	require.NoError(t, err)
	tenant, err := secrets.GenerateKey()
	require.NoError(t, err)

	c, err := secrets.NewCipher(app, tenant)
	require.NoError(t, err)

	pepper, err := secrets.DeriveKey(app, tenant, "mfa/backup-codes/v1")
	require.NoError(t, err)
	h, err := totp.NewBackupCodeHasher(pepper)
	require.NoError(t, err)

	return c, h
}

func newFixture(t *testing.T, store mfa.Store, opts ...mfa.Option) *fixture {
	t.Helper()
	return newFixtureWithClock(t, store, newClock(), opts...)
}

func newFixtureWithClock(t *testing.T, store mfa.Store, c *clock, opts ...mfa.Option) *fixture {
	t.Helper()

	if store == nil {
		store = mfa.NewMemoryStore()
	}
	cipher, hasher := newCipher(t)
	reg := session.NewRegistry(session.WithClock(c.Now), session.WithTTL(15*time.Minute))

	opts = append([]mfa.Option{mfa.WithClock(c.Now), mfa.WithIssuer("Acme Clinic")}, opts...)
	svc, err := mfa.NewService(store, cipher, hasher, reg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})

	return &fixture{svc: svc, store: store, registry: reg, cipher: cipher, hasher: hasher, clock: c}
}

// enrollAndActivate enrolls userID and completes the first verification.
func (f *fixture) enrollAndActivate(t *testing.T, userID string) (mfa.Enrollment, mfa.VerifyResult) {
	t.Helper()

	enr, err := f.svc.GenerateSecret(context.Background(), userID, userID+"@clinic.example")
	require.NoError(t, err)

	res, err := f.svc.VerifyCode(context.Background(), userID, f.code(t, enr.Secret))
	require.NoError(t, err)
	require.True(t, res.Verified())
	return enr, res
}

func (f *fixture) code(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeAt(secret, f.clock.Now())
	require.NoError(t, err)
	return code
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy source unavailable")
}

// MockStore is a testify mock of mfa.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetCredential(ctx context.Context, userID string) (mfa.Credential, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(mfa.Credential), args.Error(1)
}

func (m *MockStore) SaveEnrollment(ctx context.Context, cred mfa.Credential, codes []mfa.BackupCode) error {
	args := m.Called(ctx, cred, codes)
	return args.Error(0)
}

func (m *MockStore) UpdateCredential(ctx context.Context, cred mfa.Credential, expect mfa.CredentialVersion) error {
	args := m.Called(ctx, cred, expect)
	return args.Error(0)
}

func (m *MockStore) ReplaceBackupCodes(ctx context.Context, userID string, codes []mfa.BackupCode) error {
	args := m.Called(ctx, userID, codes)
	return args.Error(0)
}

func (m *MockStore) ConsumeBackupCode(ctx context.Context, userID, hash string, at time.Time) (bool, error) {
	args := m.Called(ctx, userID, hash, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) DeleteCredential(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

// blockingStore wraps a store and blocks GetCredential until the context ends.
type blockingStore struct {
	mfa.Store
}

func (b blockingStore) GetCredential(ctx context.Context, _ string) (mfa.Credential, error) {
	<-ctx.Done()
	return mfa.Credential{}, ctx.Err()
}
