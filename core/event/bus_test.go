package event_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mfa/core/event"
)

type UserLocked struct {
	UserID string `json:"user_id"`
}

type UserUnlocked struct {
	UserID string `json:"user_id"`
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := event.NewEvent(&UserLocked{UserID: "u1"})
	assert.Equal(t, "UserLocked", evt.Name)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.CreatedAt.IsZero())
}

func TestBus_SyncDispatch(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()

	var got []string
	bus.Subscribe(
		event.NewHandlerFunc(func(ctx context.Context, e UserLocked) error {
			got = append(got, "first:"+e.UserID)
			return nil
		}),
		event.NewHandlerFunc(func(ctx context.Context, e UserLocked) error {
			got = append(got, "second:"+e.UserID)
			return nil
		}),
		event.NewHandlerFunc(func(ctx context.Context, e UserUnlocked) error {
			got = append(got, "unlocked")
			return nil
		}),
	)

	require.NoError(t, bus.Publish(context.Background(), UserLocked{UserID: "u1"}))
	assert.Equal(t, []string{"first:u1", "second:u1"}, got)

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Published)
	assert.Equal(t, int64(2), stats.Handled)
}

func TestBus_SyncErrorsAreJoined(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	boom := errors.New("boom")
	bus.Subscribe(
		event.NewHandlerFunc(func(ctx context.Context, e UserLocked) error { return boom }),
		event.NewHandlerFunc(func(ctx context.Context, e UserLocked) error { panic("bad handler") }),
	)

	err := bus.Publish(context.Background(), UserLocked{UserID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, event.ErrHandlerPanic)
	assert.Equal(t, int64(2), bus.Stats().Failed)
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	assert.NoError(t, bus.Publish(context.Background(), UserUnlocked{UserID: "u1"}))
	assert.ErrorIs(t, bus.Publish(context.Background(), nil), event.ErrNilPayload)
	assert.ErrorIs(t, bus.Start(context.Background()), event.ErrNotAsync)
}

func TestBus_Async(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(event.WithAsync(16, 2))

	var count atomic.Int32
	bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, e UserLocked) error {
		count.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx)() }()

	for range 10 {
		require.NoError(t, bus.Publish(context.Background(), UserLocked{UserID: "u"}))
	}

	assert.Eventually(t, func() bool { return count.Load() == 10 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, bus.Stats().IsRunning)
}

func TestBus_AsyncDrainsOnStop(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(event.WithAsync(32, 1))

	var mu sync.Mutex
	var seen int
	bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, e UserLocked) error {
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	}))

	// Queue before workers exist.
	for range 5 {
		require.NoError(t, bus.Publish(context.Background(), UserLocked{UserID: "u"}))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- bus.Start(context.Background()) }()
	require.Eventually(t, func() bool { return bus.Stats().IsRunning }, time.Second, time.Millisecond)

	require.NoError(t, bus.Stop())
	assert.ErrorIs(t, <-errCh, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, seen)
}

func TestBus_AsyncBufferFull(t *testing.T) {
	t.Parallel()

	bus := event.NewBus(event.WithAsync(1, 1))
	require.NoError(t, bus.Publish(context.Background(), UserLocked{}))
	assert.ErrorIs(t, bus.Publish(context.Background(), UserLocked{}), event.ErrBufferFull)
	assert.Equal(t, int64(1), bus.Stats().Dropped)
	assert.ErrorIs(t, bus.Stop(), event.ErrBusNotStarted)
}

func TestHandler_PayloadConversion(t *testing.T) {
	t.Parallel()

	var got UserLocked
	h := event.NewHandler("locked", func(ctx context.Context, e UserLocked) error {
		got = e
		return nil
	})
	assert.Equal(t, "locked", h.EventName())

	raw, err := json.Marshal(UserLocked{UserID: "json"})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), raw))
	assert.Equal(t, "json", got.UserID)

	require.NoError(t, h.Handle(context.Background(), &UserLocked{UserID: "ptr"}))
	assert.Equal(t, "ptr", got.UserID)

	assert.Error(t, h.Handle(context.Background(), 42))
}
