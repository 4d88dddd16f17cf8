package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/core/event"
	"github.com/dmitrymomot/mfa/core/mfa"
	"github.com/dmitrymomot/mfa/core/session"
	"github.com/dmitrymomot/mfa/pkg/secrets"
	"github.com/dmitrymomot/mfa/pkg/totp"
)

func TestRunBus_DeliversRecordsFlushedAfterShutdown(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := event.NewBus(event.WithAsync(16, 1), event.WithLogger(log))

	var (
		mu      sync.Mutex
		actions []mfa.AuditAction
	)
	bus.Subscribe(event.NewHandlerFunc(func(_ context.Context, e mfa.AuditEvent) error {
		mu.Lock()
		actions = append(actions, e.Action)
		mu.Unlock()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := runBus(ctx, bus, log)
	require.Eventually(t, func() bool { return bus.Stats().IsRunning }, time.Second, time.Millisecond)

	app, err := secrets.GenerateKey()
	require.NoError(t, err)
	tenant, err := secrets.GenerateKey()
	require.NoError(t, err)
	cipher, err := secrets.NewCipher(app, tenant)
	require.NoError(t, err)
	pepper, err := secrets.DeriveKey(app, tenant, "mfa/backup-codes/v1")
	require.NoError(t, err)
	hasher, err := totp.NewBackupCodeHasher(pepper)
	require.NoError(t, err)

	svc, err := mfa.NewService(mfa.NewMemoryStore(), cipher, hasher, session.NewRegistry(),
		mfa.WithAuditSink(mfa.NewEventAuditSink(bus)))
	require.NoError(t, err)

	_, err = svc.GenerateSecret(ctx, "u1", "")
	require.NoError(t, err)

	// Shutdown order used by run: the app context ends, the service flushes,
	// then the bus stops.
	cancel()
	assert.True(t, bus.Stats().IsRunning, "bus survives the app context")

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	defer closeCancel()
	require.NoError(t, svc.Close(closeCtx))
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []mfa.AuditAction{mfa.AuditEnroll}, actions)
}
