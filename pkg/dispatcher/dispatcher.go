package dispatcher

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/ipc-bridge/pkg/endpoint"
	"github.com/morezero/ipc-bridge/pkg/events"
	"github.com/morezero/ipc-bridge/pkg/metrics"
	"github.com/morezero/ipc-bridge/pkg/version"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

const logPrefix = "dispatcher:dispatch"

// DefaultHandlerTimeout bounds a single handler invocation.
const DefaultHandlerTimeout = 30 * time.Second

// Params holds parameters for NewDispatcher.
type Params struct {
	Secret         string
	Registry       *endpoint.Registry
	Host           endpoint.Host
	Publisher      events.Publisher
	Metrics        *metrics.Metrics
	HandlerTimeout time.Duration
	ErrorPolicy    wire.ErrorPolicy
}

// Dispatcher routes IPC calls to endpoint handlers.
type Dispatcher struct {
	secretSum   [sha256.Size]byte
	registry    *endpoint.Registry
	host        endpoint.Host
	publisher   events.Publisher
	metrics     *metrics.Metrics
	timeout     time.Duration
	errorPolicy wire.ErrorPolicy
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params Params) *Dispatcher {
	reg := params.Registry
	if reg == nil {
		reg = endpoint.NewRegistry()
	}
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}
	timeout := params.HandlerTimeout
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	policy := params.ErrorPolicy
	if policy == nil {
		policy = wire.DefaultErrorPolicy
	}

	return &Dispatcher{
		secretSum:   sha256.Sum256([]byte(params.Secret)),
		registry:    reg,
		host:        params.Host,
		publisher:   pub,
		metrics:     params.Metrics,
		timeout:     timeout,
		errorPolicy: policy,
	}
}

// Dispatch handles one call and returns the encoded response body, which is
// never nil. The error is a *wire.SerializationError when the handler result
// could not be encoded; the body then carries the serialization failure shape.
func (d *Dispatcher) Dispatch(ctx context.Context, call *Call) ([]byte, error) {
	done := d.metrics.Begin()

	resp, name, outcome := d.handle(ctx, call)
	body, err := encode(resp)
	if err != nil {
		serErr := &wire.SerializationError{Endpoint: name, Err: err}
		slog.Error(fmt.Sprintf("%s - endpoint=%s id=%s: %v", logPrefix, name, call.RequestID, serErr))
		d.publish(ctx, events.NewErrorEvent(name, call.RequestID, serErr))
		done(name, metrics.OutcomeSerializationError)

		// The failure shape holds only strings, so it always encodes.
		body, _ = wire.SerializationFailure().Encode()
		return body, serErr
	}

	done(name, outcome)
	return body, nil
}

// encode runs outside the handler's recover, so a panicking MarshalJSON is
// turned into an encoding error here.
func encode(resp *wire.Response) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			body, err = nil, fmt.Errorf("panic while encoding response: %v", r)
		}
	}()
	return resp.Encode()
}

func (d *Dispatcher) handle(ctx context.Context, call *Call) (*wire.Response, string, string) {
	if !d.authenticate(call.Authorization) {
		slog.Warn(fmt.Sprintf("%s - rejected unauthenticated call id=%s", logPrefix, call.RequestID))
		return wire.Forbidden(), "", metrics.OutcomeForbidden
	}

	if err := version.Compatible(call.Version); err != nil {
		slog.Warn(fmt.Sprintf("%s - id=%s: %v", logPrefix, call.RequestID, err))
		msg := fmt.Sprintf("incompatible ipc protocol version %s, server speaks %s", call.Version, version.Protocol)
		return wire.ProtocolFailure(msg), "", metrics.OutcomeVersionMismatch
	}

	if call.BodyTooLarge {
		return wire.ProtocolFailure(wire.MsgBodyTooLarge), "", metrics.OutcomeBodyTooLarge
	}

	env, err := wire.DecodeEnvelope(call.Body)
	if err != nil {
		slog.Debug(fmt.Sprintf("%s - id=%s: malformed envelope: %v", logPrefix, call.RequestID, err))
		return wire.UnknownEndpoint(), "", metrics.OutcomeUnknownEndpoint
	}
	entry, ok := d.registry.Resolve(env.Endpoint)
	if env.Endpoint == "" || !ok {
		slog.Debug(fmt.Sprintf("%s - id=%s: unknown endpoint %q", logPrefix, call.RequestID, env.Endpoint))
		return wire.UnknownEndpoint(), "", metrics.OutcomeUnknownEndpoint
	}

	slog.Debug(fmt.Sprintf("%s - endpoint=%s id=%s", logPrefix, env.Endpoint, call.RequestID))

	req := endpoint.NewRequest(env, call.RequestID)
	result, err := d.invoke(ctx, entry, req)
	if err != nil {
		handlerErr := &wire.HandlerError{Endpoint: env.Endpoint, Err: err}
		slog.Error(fmt.Sprintf("%s - id=%s: %v", logPrefix, call.RequestID, handlerErr))
		d.publish(ctx, events.NewErrorEvent(env.Endpoint, call.RequestID, err))

		outcome := metrics.OutcomeHandlerError
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
		}
		return wire.HandlerFailure(d.errorPolicy(err)), env.Endpoint, outcome
	}

	return wire.Success(result), env.Endpoint, metrics.OutcomeOK
}

// authenticate compares digests so the comparison time depends on neither the
// content nor the length of the secret.
func (d *Dispatcher) authenticate(authorization string) bool {
	got := sha256.Sum256([]byte(authorization))
	return subtle.ConstantTimeCompare(got[:], d.secretSum[:]) == 1
}

type invokeResult struct {
	value any
	err   error
}

// invoke resolves the handler binding and runs it under the per-call timeout.
// Panics are converted into errors.
func (d *Dispatcher) invoke(ctx context.Context, entry endpoint.Entry, req *endpoint.Request) (any, error) {
	fn, err := entry.Handler(d.host)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ch := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- invokeResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx, req)
		ch <- invokeResult{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("endpoint %s did not complete within %s: %w", req.Endpoint(), d.timeout, ctx.Err())
	}
}

func (d *Dispatcher) publish(ctx context.Context, event *events.Event) {
	if err := d.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event: %v", logPrefix, event.Name, err))
	}
}
