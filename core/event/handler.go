package event

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
)

// HandlerFunc is a type-safe function signature for processing events of type T.
type HandlerFunc[T any] func(context.Context, T) error

// Handler processes events of a single name.
type Handler interface {
	EventName() string
	Handle(ctx context.Context, payload any) error
}

// NewHandler creates a handler with an explicit event name.
func NewHandler[T any](eventName string, fn HandlerFunc[T]) Handler {
	return &handlerFuncWrapper[T]{name: eventName, fn: fn}
}

// NewHandlerFunc creates a handler whose event name is the name of T.
//
//	h := event.NewHandlerFunc(func(ctx context.Context, e mfa.MFADisabled) error {
//		return revokePHIGrants(ctx, e.UserID)
//	})
func NewHandlerFunc[T any](fn HandlerFunc[T]) Handler {
	var zero T
	return &handlerFuncWrapper[T]{name: typeName(reflect.TypeOf(&zero).Elem()), fn: fn}
}

type handlerFuncWrapper[T any] struct {
	name string
	fn   HandlerFunc[T]
}

func (h *handlerFuncWrapper[T]) EventName() string {
	return h.name
}

func (h *handlerFuncWrapper[T]) Handle(ctx context.Context, payload any) error {
	typed, err := unmarshalPayload[T](payload)
	if err != nil {
		return err
	}
	return h.fn(ctx, typed)
}

// getEventName returns the bare type name of v, unwrapping pointers.
func getEventName(v any) string {
	return typeName(reflect.TypeOf(v))
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// unmarshalPayload converts payload to T. Pointers to T and JSON bytes are accepted.
func unmarshalPayload[T any](payload any) (T, error) {
	var zero T

	switch v := payload.(type) {
	case T:
		return v, nil
	case *T:
		if v == nil {
			return zero, fmt.Errorf("nil payload pointer for %T", zero)
		}
		return *v, nil
	case []byte:
		var evt T
		if err := json.Unmarshal(v, &evt); err != nil {
			return zero, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		return evt, nil
	}

	return zero, fmt.Errorf("unexpected payload type: %T", payload)
}
