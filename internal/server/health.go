package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/morezero/ipc-bridge/pkg/wire"
)

// healthOutput is the /health response body.
type healthOutput struct {
	Status    string          `json:"status"`
	Checks    map[string]bool `json:"checks"`
	Endpoints int             `json:"endpoints"`
	Timestamp string          `json:"timestamp"`
}

// health checks every configured backend.
func (h *Host) health(ctx context.Context) *healthOutput {
	out := &healthOutput{
		Status:    "healthy",
		Checks:    map[string]bool{},
		Endpoints: h.ipc.Registry().Len(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.nc != nil {
		out.Checks["comms"] = h.nc.IsConnected()
	}
	if h.store != nil {
		out.Checks["database"] = h.store.Ping(ctx) == nil
	}
	for _, ok := range out.Checks {
		if !ok {
			out.Status = "unhealthy"
		}
	}
	return out
}

func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.HealthCheckTimeout)
	defer cancel()

	out := h.health(ctx)
	status := http.StatusOK
	if out.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

func (h *Host) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !h.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := wire.Encode(v)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - encode response: %v", logPrefix, err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}
