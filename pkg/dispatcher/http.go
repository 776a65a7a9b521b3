package dispatcher

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/morezero/ipc-bridge/pkg/wire"
)

const httpLogPrefix = "dispatcher:http"

// maxBodyBytes caps the request body read from HTTP callers. Larger bodies
// are rejected once the caller is authenticated.
const maxBodyBytes = 2 << 20

// ServeHTTP adapts the dispatcher to net/http. Every protocol outcome is sent
// with status 200; the request id is echoed in X-Request-Id.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(wire.HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	call := &Call{
		Authorization: r.Header.Get(wire.HeaderAuthorization),
		Version:       r.Header.Get(wire.HeaderVersion),
		RequestID:     requestID,
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		slog.Warn(fmt.Sprintf("%s - id=%s: body exceeds %d bytes", httpLogPrefix, requestID, tooLarge.Limit))
		call.BodyTooLarge = true
	case err != nil:
		slog.Warn(fmt.Sprintf("%s - id=%s: failed to read body: %v", httpLogPrefix, requestID, err))
	default:
		call.Body = body
	}

	out, _ := d.Dispatch(r.Context(), call)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set(wire.HeaderRequestID, requestID)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		slog.Debug(fmt.Sprintf("%s - id=%s: failed to write response: %v", httpLogPrefix, requestID, err))
	}
}
