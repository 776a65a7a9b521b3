package server

import (
	"time"

	"github.com/morezero/ipc-bridge/pkg/endpoint"
	"github.com/morezero/ipc-bridge/pkg/events"
	"github.com/morezero/ipc-bridge/pkg/metrics"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

// Option configures a Server.
type Option func(*Server)

// WithPublisher sets the host event hook. Defaults to a no-op publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Server) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithHost sets the lookup used to bind module-bound endpoints.
func WithHost(h endpoint.Host) Option {
	return func(s *Server) { s.host = h }
}

// WithHandlerTimeout bounds every handler invocation.
func WithHandlerTimeout(d time.Duration) Option {
	return func(s *Server) { s.handlerTimeout = d }
}

// WithMetrics records dispatch metrics into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithErrorPolicy sets how handler errors are rendered for the client.
func WithErrorPolicy(p wire.ErrorPolicy) Option {
	return func(s *Server) { s.errorPolicy = p }
}

// WithPending replaces the process-wide deferred registration list.
func WithPending(p *endpoint.Pending) Option {
	return func(s *Server) {
		if p != nil {
			s.pending = p
		}
	}
}
