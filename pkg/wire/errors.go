package wire

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks across the error taxonomy.
var (
	ErrAuthentication = errors.New("ipc: authentication failed")
	ErrProtocol       = errors.New("ipc: protocol error")
	ErrHandler        = errors.New("ipc: handler error")
	ErrSerialization  = errors.New("ipc: serialization error")
	ErrTransport      = errors.New("ipc: transport error")
	ErrEmptyEndpoint  = errors.New("ipc: endpoint name must not be empty")
)

// Kind classifies an error envelope received from the server.
type Kind int

const (
	KindProtocol Kind = iota
	KindAuthentication
	KindHandler
	KindSerialization
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindHandler:
		return "handler"
	case KindSerialization:
		return "serialization"
	default:
		return "protocol"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindAuthentication:
		return ErrAuthentication
	case KindHandler:
		return ErrHandler
	case KindSerialization:
		return ErrSerialization
	default:
		return ErrProtocol
	}
}

// RemoteError is a protocol-level error delivered by the server inside a
// well-formed response.
type RemoteError struct {
	Kind     Kind
	Code     int
	Message  string
	Endpoint string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("ipc: %s error from endpoint %q (code %d): %s", e.Kind, e.Endpoint, e.Code, e.Message)
}

// Is matches the sentinel of the error kind.
func (e *RemoteError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// HandlerError is raised on the server when an endpoint handler fails, panics
// or exceeds its deadline.
type HandlerError struct {
	Endpoint string
	Err      error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("ipc: endpoint %q failed: %v", e.Endpoint, e.Err)
}

func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandler, e.Err}
}

// SerializationError is raised on the server when an endpoint result cannot be
// encoded as JSON.
type SerializationError struct {
	Endpoint string
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("ipc: endpoint %q returned a value that cannot be encoded as JSON: %v", e.Endpoint, e.Err)
}

func (e *SerializationError) Unwrap() []error {
	return []error{ErrSerialization, e.Err}
}

// TransportError is a client-side failure that prevented a well-formed
// response from being received.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ipc: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// ErrorPolicy turns a handler error into the text sent to the client.
type ErrorPolicy func(err error) string

// DefaultErrorPolicy sends the error's own message, or its type when the
// message is empty.
func DefaultErrorPolicy(err error) string {
	if err == nil {
		return ""
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}

// RedactedErrorPolicy hides handler error details from clients.
func RedactedErrorPolicy(error) string {
	return "internal server error"
}
