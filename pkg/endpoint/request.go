package endpoint

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/morezero/ipc-bridge/pkg/wire"
)

// ErrFieldNotFound is returned when a handler asks for a data field the caller did not send.
var ErrFieldNotFound = errors.New("endpoint: field not found")

// Request is the per-call context handed to an endpoint handler. It wraps the
// decoded envelope and gives typed access to the data fields.
type Request struct {
	envelope  *wire.Envelope
	requestID string
}

// NewRequest builds a Request from a decoded envelope.
func NewRequest(env *wire.Envelope, requestID string) *Request {
	if env.Data == nil {
		env.Data = map[string]jsontext.Value{}
	}
	return &Request{envelope: env, requestID: requestID}
}

// Endpoint returns the name the caller asked for.
func (r *Request) Endpoint() string {
	return r.envelope.Endpoint
}

// Envelope returns the raw decoded envelope.
func (r *Request) Envelope() *wire.Envelope {
	return r.envelope
}

// RequestID returns the correlation id of the call.
func (r *Request) RequestID() string {
	return r.requestID
}

// Len returns the number of top-level data fields.
func (r *Request) Len() int {
	return len(r.envelope.Data)
}

// Fields returns the data field names in sorted order.
func (r *Request) Fields() []string {
	names := make([]string, 0, len(r.envelope.Data))
	for name := range r.envelope.Data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Field returns the raw JSON value of a data field.
func (r *Request) Field(name string) (jsontext.Value, bool) {
	v, ok := r.envelope.Data[name]
	return v, ok
}

// Decode unmarshals one data field into v.
func (r *Request) Decode(name string, v any) error {
	raw, ok := r.envelope.Data[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFieldNotFound, name)
	}
	if err := wire.Decode(raw, v); err != nil {
		return fmt.Errorf("endpoint: decode field %s: %w", name, err)
	}
	return nil
}

// Bind unmarshals the whole data object into v, typically a struct.
func (r *Request) Bind(v any) error {
	data, err := wire.Encode(r.envelope.Data)
	if err != nil {
		return fmt.Errorf("endpoint: re-encode data: %w", err)
	}
	if err := wire.Decode(data, v); err != nil {
		return fmt.Errorf("endpoint: bind data: %w", err)
	}
	return nil
}

func (r *Request) String() string {
	return fmt.Sprintf("<Request endpoint=%s length=%d>", r.Endpoint(), r.Len())
}

// FieldAs decodes a data field into a value of type T.
func FieldAs[T any](r *Request, name string) (T, error) {
	var v T
	err := r.Decode(name, &v)
	return v, err
}
