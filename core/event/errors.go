package event

import "errors"

var (
	// ErrBufferFull is returned when the async queue is full.
	ErrBufferFull = errors.New("event buffer is full")

	// ErrNilPayload is returned when Publish is called with a nil payload.
	ErrNilPayload = errors.New("event payload is nil")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("event handler panicked")

	// ErrNotAsync is returned by Start on a synchronous bus.
	ErrNotAsync = errors.New("event bus is synchronous")

	// ErrBusAlreadyStarted is returned when Start is called twice.
	ErrBusAlreadyStarted = errors.New("event bus already started")

	// ErrBusNotStarted is returned when Stop is called before Start.
	ErrBusNotStarted = errors.New("event bus not started")
)
