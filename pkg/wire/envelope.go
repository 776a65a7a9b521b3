// Package wire defines the JSON envelopes exchanged between the IPC client and server,
// the codec used to encode them, and the error taxonomy shared by both sides.
package wire

import (
	"github.com/go-json-experiment/json/jsontext"
)

// Header names carried by every IPC request.
const (
	HeaderAuthorization = "Authorization"
	HeaderVersion       = "X-IPC-Version"
	HeaderRequestID     = "X-Request-Id"
)

// Response codes used inside error envelopes. The HTTP status is always 200.
const (
	CodeForbidden   = 403
	CodeServerError = 500
)

// Fixed error messages of the protocol.
const (
	MsgForbidden       = "Forbidden, No token or invalid token provided"
	MsgUnknownEndpoint = "no endpoint provided or invalid provided"
	MsgBodyTooLarge    = "request body too large"
)

// SerializationMessages is sent as the "error" list when an endpoint result cannot be encoded.
var SerializationMessages = []string{
	"IPC route returned values which are not able to be sent over sockets.",
	" If you are trying to send a host object,",
	" please only send the data you need.",
}

// Fields is the data payload a client attaches to a request.
type Fields map[string]any

// Envelope is the inbound request as decoded by the server.
// Data values stay raw until a handler asks for them.
type Envelope struct {
	Endpoint string                    `json:"endpoint"`
	Data     map[string]jsontext.Value `json:"data"`
}

// OutboundEnvelope is the request as built by the client.
type OutboundEnvelope struct {
	Endpoint string `json:"endpoint"`
	Data     Fields `json:"data"`
}

// Response is one outbound answer from the server. Exactly one of the shapes
// (success, error, error_in_server) is encoded.
type Response struct {
	ok            bool
	inServer      bool
	Content       any
	Code          int
	Error         any
	ErrorInServer string
}

// One body type per shape, so every shape keeps its key even when the value
// is empty.
type successBody struct {
	Content any `json:"content"`
}

type errorBody struct {
	Code  int `json:"code"`
	Error any `json:"error"`
}

type handlerErrorBody struct {
	Code          int    `json:"code"`
	ErrorInServer string `json:"error_in_server"`
}

// Success wraps an endpoint result.
func Success(content any) *Response {
	return &Response{ok: true, Content: content}
}

// Forbidden is the authentication failure response.
func Forbidden() *Response {
	return &Response{Code: CodeForbidden, Error: MsgForbidden}
}

// UnknownEndpoint is the response for a missing or unregistered endpoint.
func UnknownEndpoint() *Response {
	return &Response{Code: CodeServerError, Error: MsgUnknownEndpoint}
}

// ProtocolFailure is a 500-coded response with a custom message.
func ProtocolFailure(message string) *Response {
	return &Response{Code: CodeServerError, Error: message}
}

// HandlerFailure is the response for an error raised inside an endpoint handler.
func HandlerFailure(message string) *Response {
	return &Response{inServer: true, Code: CodeServerError, ErrorInServer: message}
}

// SerializationFailure is the response for a result that could not be encoded.
func SerializationFailure() *Response {
	msgs := make([]string, len(SerializationMessages))
	copy(msgs, SerializationMessages)
	return &Response{Code: CodeServerError, Error: msgs}
}

// OK reports whether r is a success response.
func (r *Response) OK() bool {
	return r.ok
}

// Encode serialises the response into its wire shape.
func (r *Response) Encode() ([]byte, error) {
	switch {
	case r.ok:
		return Encode(successBody{Content: r.Content})
	case r.inServer:
		return Encode(handlerErrorBody{Code: r.Code, ErrorInServer: r.ErrorInServer})
	default:
		return Encode(errorBody{Code: r.Code, Error: r.Error})
	}
}
