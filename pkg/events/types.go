// Package events defines the lifecycle and error events an IPC server reports
// to its host, and publishers that deliver them.
package events

import "time"

// Event names reported by the server.
const (
	NameSetup = "ipc_setup"
	NameReady = "ipc_ready"
	NameError = "ipc_error"
)

// Event is one notification to the host.
type Event struct {
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Path      string    `json:"path,omitempty"`
	Addr      string    `json:"addr,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Err is the original error for in-process observers; it is not serialised.
	Err error `json:"-"`
}

// NewErrorEvent builds an ipc_error event for a failed endpoint call.
func NewErrorEvent(endpoint, requestID string, err error) *Event {
	e := &Event{
		Name:      NameError,
		Endpoint:  endpoint,
		RequestID: requestID,
		Err:       err,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
