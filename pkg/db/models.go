package db

import "time"

// EventRecord is a row in the ipc_events table.
type EventRecord struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Error     string    `json:"error,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Path      string    `json:"path,omitempty"`
	Addr      string    `json:"addr,omitempty"`
	Created   time.Time `json:"created"`
}
