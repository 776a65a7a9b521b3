package events

import (
	"context"
	"errors"
)

// Publisher delivers server events to the host.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// NoOpPublisher is a Publisher that does nothing (for hosts that do not observe events).
type NoOpPublisher struct{}

// Publish is a no-op.
func (p *NoOpPublisher) Publish(_ context.Context, _ *Event) error {
	return nil
}

// CallbackPublisher is a Publisher that calls a callback function, the usual
// way for an in-process host to hook ipc_error and lifecycle events.
type CallbackPublisher struct {
	callback func(ctx context.Context, event *Event) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *Event) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// Publish calls the callback.
func (p *CallbackPublisher) Publish(ctx context.Context, event *Event) error {
	return p.callback(ctx, event)
}

// MultiPublisher fans an event out to several publishers. Every publisher is
// called even if an earlier one fails; the errors are joined.
type MultiPublisher []Publisher

// Publish delivers event to every publisher.
func (m MultiPublisher) Publish(ctx context.Context, event *Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
