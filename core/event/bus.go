package event

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Bus routes published payloads to handlers registered for their event name.
//
// Without WithAsync the bus dispatches in the publisher's goroutine and returns
// the joined handler errors. With WithAsync, Publish enqueues and returns at once;
// workers started by Start or Run execute handlers and only log their errors.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler

	async           bool
	bufferSize      int
	workers         int
	handlerTimeout  time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	queue   chan Event
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	published atomic.Int64
	handled   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// BusStats provides observability metrics.
type BusStats struct {
	Published int64
	Handled   int64
	Failed    int64
	Dropped   int64
	Queued    int
	IsRunning bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithAsync enables queued dispatch with the given buffer size and worker count.
func WithAsync(bufferSize, workers int) Option {
	return func(b *Bus) {
		b.async = true
		if bufferSize > 0 {
			b.bufferSize = bufferSize
		}
		if workers > 0 {
			b.workers = workers
		}
	}
}

// WithHandlerTimeout bounds each asynchronous handler invocation.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.handlerTimeout = d
		}
	}
}

// WithShutdownTimeout sets how long Stop waits for queued events to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.shutdownTimeout = d
		}
	}
}

// WithLogger sets the logger for dispatch failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates a bus. Handlers may be registered before or after Start.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		handlers:        make(map[string][]Handler),
		bufferSize:      256,
		workers:         2,
		handlerTimeout:  10 * time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.async {
		b.queue = make(chan Event, b.bufferSize)
	}
	return b
}

// Subscribe registers handlers under their event names.
func (b *Bus) Subscribe(handlers ...Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range handlers {
		b.handlers[h.EventName()] = append(b.handlers[h.EventName()], h)
	}
}

// Publish wraps payload in an Event and dispatches it.
// Events with no subscribers are accepted and discarded.
func (b *Bus) Publish(ctx context.Context, payload any) error {
	if payload == nil {
		return ErrNilPayload
	}
	evt := NewEvent(payload)
	b.published.Add(1)

	if !b.async {
		if err := ctx.Err(); err != nil {
			return err
		}
		return b.dispatch(ctx, evt)
	}

	select {
	case b.queue <- evt:
		return nil
	default:
		b.dropped.Add(1)
		return ErrBufferFull
	}
}

// Start runs async workers until ctx is cancelled or Stop is called.
// For a synchronous bus it returns ErrNotAsync.
func (b *Bus) Start(ctx context.Context) error {
	if !b.async {
		return ErrNotAsync
	}

	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return ErrBusAlreadyStarted
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	b.wg.Add(b.workers)
	for range b.workers {
		go b.work(ctx)
	}

	b.running.Store(true)
	defer b.running.Store(false)

	b.logger.InfoContext(ctx, "event bus started", slog.Int("workers", b.workers))

	<-ctx.Done()
	return ctx.Err()
}

// Stop cancels the workers and waits for them to drain the queue.
func (b *Bus) Stop() error {
	b.mu.Lock()
	if b.cancel == nil {
		b.mu.Unlock()
		return ErrBusNotStarted
	}
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(b.shutdownTimeout):
		b.logger.Warn("event bus shutdown timeout exceeded",
			slog.Duration("timeout", b.shutdownTimeout),
			slog.Int("queued", len(b.queue)))
		return fmt.Errorf("shutdown timeout exceeded after %s", b.shutdownTimeout)
	}
}

// Run provides errgroup compatibility.
func (b *Bus) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- b.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = b.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// Stats returns current statistics.
func (b *Bus) Stats() BusStats {
	queued := 0
	if b.queue != nil {
		queued = len(b.queue)
	}
	return BusStats{
		Published: b.published.Load(),
		Handled:   b.handled.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
		Queued:    queued,
		IsRunning: b.running.Load(),
	}
}

func (b *Bus) work(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case evt := <-b.queue:
			b.handleAsync(evt)
		case <-ctx.Done():
			// Drain what is already queued so accepted events are not lost on shutdown.
			for {
				select {
				case evt := <-b.queue:
					b.handleAsync(evt)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) handleAsync(evt Event) {
	// Handlers run detached from the publisher's request context.
	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()

	if err := b.dispatch(ctx, evt); err != nil {
		b.logger.ErrorContext(ctx, "event handler failed",
			slog.String("event_id", evt.ID.String()),
			slog.String("event_name", evt.Name),
			slog.Any("error", err))
	}
}

func (b *Bus) dispatch(ctx context.Context, evt Event) error {
	b.mu.RLock()
	handlers := b.handlers[evt.Name]
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := safeHandle(ctx, h, evt.Payload); err != nil {
			b.failed.Add(1)
			errs = append(errs, fmt.Errorf("handler %s failed: %w", h.EventName(), err))
			continue
		}
		b.handled.Add(1)
	}
	return errors.Join(errs...)
}

func safeHandle(ctx context.Context, h Handler, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h.Handle(ctx, payload)
}
