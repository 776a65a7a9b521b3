package wire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-json-experiment/json/jsontext"
)

// ParseResponse unwraps a response body received by the client. It returns the
// raw content on success, a *RemoteError for protocol-level errors and a
// *TransportError when the body is not a response envelope.
func ParseResponse(endpoint string, body []byte) (jsontext.Value, error) {
	var members map[string]jsontext.Value
	if err := Decode(body, &members); err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}
	if members == nil {
		return nil, &TransportError{Op: "decode response", Err: errors.New("response is not a JSON object")}
	}

	code := CodeServerError
	if raw, ok := members["code"]; ok {
		if err := Decode(raw, &code); err != nil {
			return nil, &TransportError{Op: "decode response code", Err: err}
		}
	}

	if raw, ok := members["error"]; ok {
		return nil, remoteError(endpoint, code, raw)
	}
	if raw, ok := members["error_in_server"]; ok {
		var msg any
		if err := Decode(raw, &msg); err != nil {
			return nil, &TransportError{Op: "decode response error", Err: err}
		}
		return nil, &RemoteError{Kind: KindHandler, Code: code, Message: stringify(msg), Endpoint: endpoint}
	}
	content, ok := members["content"]
	if !ok {
		return nil, &TransportError{Op: "decode response", Err: errors.New("response has neither content nor error")}
	}
	return content, nil
}

func remoteError(endpoint string, code int, raw jsontext.Value) error {
	var msg any
	if err := Decode(raw, &msg); err != nil {
		return &TransportError{Op: "decode response error", Err: err}
	}
	kind := KindProtocol
	switch {
	case code == CodeForbidden:
		kind = KindAuthentication
	case isList(msg):
		kind = KindSerialization
	}
	return &RemoteError{Kind: kind, Code: code, Message: stringify(msg), Endpoint: endpoint}
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func stringify(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case []any:
		var b strings.Builder
		for _, part := range m {
			b.WriteString(stringify(part))
		}
		return b.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(m)
	}
}
