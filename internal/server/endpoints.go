package server

import (
	"context"
	"time"

	"github.com/morezero/ipc-bridge/pkg/db"
	"github.com/morezero/ipc-bridge/pkg/endpoint"
	"github.com/morezero/ipc-bridge/pkg/version"
)

const statsModuleName = "stats"

// registerBuiltins adds the endpoints every ipc-host serves.
func registerBuiltins(r endpoint.Registrar, h *Host) {
	r.Add(endpoint.Entry{Name: "ping", Func: ping})
	r.Add(endpoint.Entry{Name: "echo", Func: echo})
	r.Add(endpoint.Entry{Name: "endpoints", Func: func(context.Context, *endpoint.Request) (any, error) {
		return h.ipc.Registry().Names(), nil
	}})
	r.Add(endpoint.Entry{Name: "version", Func: func(context.Context, *endpoint.Request) (any, error) {
		return map[string]string{"protocol": version.Protocol, "service": h.cfg.COMMSName}, nil
	}})
	endpoint.RegisterMethod(r, "stats", statsModuleName, (*statsModule).Stats)
}

func ping(context.Context, *endpoint.Request) (any, error) {
	return "pong", nil
}

// echo returns the request data unchanged.
func echo(_ context.Context, req *endpoint.Request) (any, error) {
	data := map[string]any{}
	if err := req.Bind(&data); err != nil {
		return nil, err
	}
	return data, nil
}

// statsModule is loaded into the host's module set; the stats endpoint is
// bound to it at dispatch time.
type statsModule struct {
	started  time.Time
	registry *endpoint.Registry
	store    *db.EventStore
}

type statsReport struct {
	UptimeSeconds float64 `json:"uptime_seconds"`
	Endpoints     int     `json:"endpoints"`
	Errors        *int64  `json:"errors,omitempty"`
	Endpoint      string  `json:"endpoint,omitempty"`
}

// Stats reports uptime, the endpoint count and, with an event log, the number
// of recorded handler errors. An optional "endpoint" field narrows the count.
func (m *statsModule) Stats(ctx context.Context, req *endpoint.Request) (any, error) {
	report := statsReport{
		UptimeSeconds: time.Since(m.started).Seconds(),
		Endpoints:     m.registry.Len(),
	}
	if _, ok := req.Field("endpoint"); ok {
		name, err := endpoint.FieldAs[string](req, "endpoint")
		if err != nil {
			return nil, err
		}
		report.Endpoint = name
	}
	if m.store != nil {
		n, err := m.store.CountErrors(ctx, report.Endpoint)
		if err != nil {
			return nil, err
		}
		report.Errors = &n
	}
	return report, nil
}
