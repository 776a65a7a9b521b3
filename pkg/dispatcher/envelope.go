// Package dispatcher authenticates inbound IPC calls, routes them to registered
// endpoint handlers and encodes the response.
package dispatcher

// Call is one inbound IPC request independent of the transport that carried it.
// Transports set BodyTooLarge instead of Body when the body exceeded their limit.
type Call struct {
	Authorization string
	Version       string
	RequestID     string
	Body          []byte
	BodyTooLarge  bool
}
