package mfa_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/core/event"
	"github.com/dmitrymomot/mfa/core/mfa"
)

type recorder struct {
	mu     sync.Mutex
	events []mfa.AuditEvent
}

func (r *recorder) sink() mfa.AuditSink {
	return mfa.AuditSinkFunc(func(_ context.Context, e mfa.AuditEvent) error {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		return nil
	})
}

func (r *recorder) actions() []mfa.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mfa.AuditAction, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

func (r *recorder) all() []mfa.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mfa.AuditEvent(nil), r.events...)
}

func TestService_AuditTrail(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	f := newFixture(t, nil, mfa.WithAuditSink(rec.sink()))
	ctx := context.Background()

	enr, res := f.enrollAndActivate(t, "u1")
	_, err := f.svc.VerifyBackupCode(ctx, "u1", "99999999")
	require.NoError(t, err)
	_, err = f.svc.VerifyBackupCode(ctx, "u1", enr.BackupCodes[0])
	require.NoError(t, err)
	_, err = f.svc.RegenerateBackupCodes(ctx, "u1")
	require.NoError(t, err)
	f.svc.Logout(ctx, res.SessionToken)
	require.NoError(t, f.svc.Disable(ctx, "u1"))

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(closeCtx))

	assert.ElementsMatch(t, []mfa.AuditAction{
		mfa.AuditEnroll,
		mfa.AuditVerifyTOTP,
		mfa.AuditVerifyBackupCode,
		mfa.AuditVerifyBackupCode,
		mfa.AuditRegenerateCodes,
		mfa.AuditLogout,
		mfa.AuditDisable,
	}, rec.actions())

	for _, e := range rec.all() {
		assert.Equal(t, "u1", e.UserID)
		assert.False(t, e.At.IsZero())
		for k, v := range e.Metadata {
			assert.NotContains(t, v, enr.Secret, k)
			assert.NotEqual(t, res.SessionToken, v, k)
			for _, code := range enr.BackupCodes {
				assert.NotEqual(t, code, v, k)
			}
		}
	}
}

func TestService_AuditFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	sink := mfa.AuditSinkFunc(func(context.Context, mfa.AuditEvent) error {
		return errors.New("audit backend down")
	})
	f := newFixture(t, nil, mfa.WithAuditSink(sink))

	_, res := f.enrollAndActivate(t, "u1")
	assert.True(t, f.svc.GetSessionForToken("u1", res.SessionToken).Valid)
}

func TestService_PublishesEvents(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()

	var mu sync.Mutex
	got := map[string]int{}
	count := func(name string) {
		mu.Lock()
		got[name]++
		mu.Unlock()
	}
	var (
		disabled            mfa.MFADisabled
		created, terminated []string
	)
	bus.Subscribe(
		event.NewHandlerFunc(func(context.Context, mfa.MFAEnrolled) error { count("enrolled"); return nil }),
		event.NewHandlerFunc(func(context.Context, mfa.MFAActivated) error { count("activated"); return nil }),
		event.NewHandlerFunc(func(_ context.Context, e mfa.SessionCreated) error {
			mu.Lock()
			created = append(created, e.SessionID)
			mu.Unlock()
			count("session")
			return nil
		}),
		event.NewHandlerFunc(func(_ context.Context, e mfa.SessionInvalidated) error {
			mu.Lock()
			terminated = append(terminated, e.SessionID)
			mu.Unlock()
			return nil
		}),
		event.NewHandlerFunc(func(_ context.Context, e mfa.MFADisabled) error {
			mu.Lock()
			disabled = e
			mu.Unlock()
			count("disabled")
			return nil
		}),
	)

	f := newFixture(t, nil, mfa.WithPublisher(bus))
	ctx := context.Background()

	enr, _ := f.enrollAndActivate(t, "u1")
	_, err := f.svc.VerifyBackupCode(ctx, "u1", enr.BackupCodes[1])
	require.NoError(t, err)
	require.NoError(t, f.svc.Disable(ctx, "u1"))

	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(closeCtx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, got["enrolled"])
	assert.Equal(t, 1, got["activated"], "only the first verification activates")
	assert.Equal(t, 2, got["session"])
	assert.Equal(t, 1, got["disabled"])
	assert.Equal(t, 2, disabled.InvalidatedSessions)
	assert.ElementsMatch(t, created, terminated, "each dropped session is announced")
}

func TestLogAuditSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := mfa.NewLogAuditSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := sink.Record(context.Background(), mfa.AuditEvent{
		Action:   mfa.AuditDisable,
		UserID:   "u1",
		Success:  true,
		Metadata: map[string]string{"invalidated_sessions": "2"},
		At:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"audit"`)
	assert.Contains(t, out, `"action":"mfa.disable"`)
	assert.Contains(t, out, `"user_id":"u1"`)
	assert.Contains(t, out, `"invalidated_sessions":"2"`)
}

func TestMultiAuditSink(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	boom := errors.New("boom")
	multi := mfa.MultiAuditSink{
		rec.sink(),
		mfa.AuditSinkFunc(func(context.Context, mfa.AuditEvent) error { return boom }),
		rec.sink(),
	}

	err := multi.Record(context.Background(), mfa.AuditEvent{Action: mfa.AuditLogout, UserID: "u1"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.actions(), 2, "a failing sink does not stop the others")
}

func TestEventAuditSink(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	var got mfa.AuditEvent
	bus.Subscribe(event.NewHandlerFunc(func(_ context.Context, e mfa.AuditEvent) error {
		got = e
		return nil
	}))

	sink := mfa.NewEventAuditSink(bus)
	require.NoError(t, sink.Record(context.Background(), mfa.AuditEvent{Action: mfa.AuditEnroll, UserID: "u9"}))
	assert.Equal(t, "u9", got.UserID)
	assert.Equal(t, mfa.AuditEnroll, got.Action)
}
