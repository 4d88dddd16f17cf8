// Package event provides an in-process, type-safe event bus.
//
// The MFA service publishes status changes (enrollment, verification, disable,
// session invalidation) on a Bus so other parts of the CRM can react, for example
// by revoking PHI access grants when a user disables MFA.
//
// # Handlers
//
// Handlers are keyed by the payload's bare type name:
//
//	type MFADisabled struct{ UserID string }
//
//	bus := event.NewBus()
//	bus.Subscribe(event.NewHandlerFunc(func(ctx context.Context, e MFADisabled) error {
//		return grants.RevokeAll(ctx, e.UserID)
//	}))
//
//	err := bus.Publish(ctx, MFADisabled{UserID: "u1"})
//
// # Dispatch Modes
//
// A bus built without options dispatches synchronously: Publish runs every
// matching handler in the caller's goroutine and returns their joined errors.
// Handler panics are recovered and reported as ErrHandlerPanic.
//
// WithAsync queues events and runs handlers on worker goroutines. Publish never
// blocks; a full queue returns ErrBufferFull. Workers are driven by Start/Stop or
// by Run under an errgroup, and drain the queue on shutdown:
//
//	bus := event.NewBus(event.WithAsync(512, 4), event.WithLogger(log))
//	g.Go(bus.Run(ctx))
package event
