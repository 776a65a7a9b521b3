// Package server exposes registered IPC endpoints over HTTP and COMMS (NATS).
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/ipc-bridge/pkg/dispatcher"
	"github.com/morezero/ipc-bridge/pkg/endpoint"
	"github.com/morezero/ipc-bridge/pkg/events"
	"github.com/morezero/ipc-bridge/pkg/metrics"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

const logPrefix = "server:server"

// Defaults applied by Attach and Serve.
const (
	DefaultPath = "/ipc"
	DefaultHost = "localhost"
	DefaultPort = 8080
)

var (
	// ErrEmptySecret is returned by New when no shared secret is given.
	ErrEmptySecret = errors.New("server: secret must not be empty")
	// ErrAlreadyServing is returned by Serve when the server already listens.
	ErrAlreadyServing = errors.New("server: already serving")
	// ErrNotHandler is returned by Serve when the router cannot serve HTTP itself.
	ErrNotHandler = errors.New("server: router does not implement http.Handler")
)

// Router is anything endpoints can be mounted on. *http.ServeMux satisfies it.
type Router interface {
	Handle(pattern string, handler http.Handler)
}

type attachment struct {
	router Router
	path   string
}

// Server owns an endpoint registry and exposes it through one dispatcher.
type Server struct {
	registry       *endpoint.Registry
	pending        *endpoint.Pending
	publisher      events.Publisher
	host           endpoint.Host
	metrics        *metrics.Metrics
	handlerTimeout time.Duration
	errorPolicy    wire.ErrorPolicy
	dispatcher     *dispatcher.Dispatcher

	mu         sync.Mutex
	attached   []attachment
	httpServer *http.Server
	listener   net.Listener
	path       string
	subs       []*comms.Subscription
	wg         sync.WaitGroup
	watchers   sync.WaitGroup
}

// New creates a Server for the shared secret and drains deferred registrations.
func New(secret string, opts ...Option) (*Server, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	s := &Server{
		registry:  endpoint.NewRegistry(),
		pending:   endpoint.DefaultPending(),
		publisher: &events.NoOpPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.dispatcher = dispatcher.NewDispatcher(dispatcher.Params{
		Secret:         secret,
		Registry:       s.registry,
		Host:           s.host,
		Publisher:      s.publisher,
		Metrics:        s.metrics,
		HandlerTimeout: s.handlerTimeout,
		ErrorPolicy:    s.errorPolicy,
	})
	s.LoadPending()

	return s, nil
}

// Register binds fn to name on this server only. An empty name uses the
// function's own identifier.
func (s *Server) Register(name string, fn endpoint.HandlerFunc) endpoint.HandlerFunc {
	return s.registry.Register(name, fn)
}

// Registry returns the server's endpoint registry.
func (s *Server) Registry() *endpoint.Registry {
	return s.registry
}

// Dispatcher returns the dispatcher shared by all transports.
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// LoadPending drains deferred registrations into the registry and returns
// how many were merged.
func (s *Server) LoadPending() int {
	n := s.registry.Merge(s.pending)
	if n > 0 {
		slog.Info(fmt.Sprintf("%s - Loaded %d deferred endpoints", logPrefix, n))
	}
	return n
}

// Attach mounts the IPC handler on router at path and returns the router. A nil
// router is replaced by a new *http.ServeMux. Attaching the same router and path
// twice is a no-op.
func (s *Server) Attach(router Router, path string) (r Router, err error) {
	if router == nil {
		router = http.NewServeMux()
	}
	path = normalizePath(path)
	s.LoadPending()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isAttached(router, path) {
		return router, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s - failed to attach at %s: %v", logPrefix, path, rec)
		}
	}()
	router.Handle(path, postOnly(s.dispatcher))

	s.attached = append(s.attached, attachment{router: router, path: path})
	slog.Info(fmt.Sprintf("%s - IPC handler attached at %s", logPrefix, path))
	s.publish(context.Background(), &events.Event{Name: events.NameSetup, Path: path, Timestamp: time.Now().UTC()})

	return router, nil
}

func (s *Server) isAttached(router Router, path string) bool {
	comparable := reflect.TypeOf(router).Comparable()
	for _, a := range s.attached {
		if a.path != path {
			continue
		}
		if comparable && reflect.TypeOf(a.router) == reflect.TypeOf(router) && a.router == router {
			return true
		}
	}
	return false
}

// Serve attaches to router and listens on host:port in the background. Empty
// host and zero port fall back to localhost:8080. Bind errors are returned.
func (s *Server) Serve(ctx context.Context, router Router, path, host string, port int) error {
	if host == "" {
		host = DefaultHost
	}
	if port == 0 {
		port = DefaultPort
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s - failed to listen on %s: %w", logPrefix, addr, err)
	}
	if err := s.ServeListener(ctx, router, path, ln); err != nil {
		ln.Close()
		return err
	}
	return nil
}

// ServeListener is Serve on an existing listener. The server stops when ctx
// is cancelled or Close is called.
func (s *Server) ServeListener(ctx context.Context, router Router, path string, ln net.Listener) error {
	router, err := s.Attach(router, path)
	if err != nil {
		return err
	}
	handler, ok := router.(http.Handler)
	if !ok {
		return ErrNotHandler
	}

	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	// Registered before Close can observe srv, so a Close that runs first
	// still releases the watcher.
	stopped := s.closed(srv)
	s.httpServer = srv
	s.listener = ln
	s.path = normalizePath(path)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		slog.Info(fmt.Sprintf("%s - IPC server listening on %s%s", logPrefix, ln.Addr(), s.path))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	s.watchers.Add(1)
	go func() {
		defer s.watchers.Done()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.Close(shutdownCtx); err != nil {
				slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
			}
		case <-stopped:
		}
	}()

	s.publish(ctx, &events.Event{Name: events.NameReady, Path: s.path, Addr: ln.Addr().String(), Timestamp: time.Now().UTC()})
	return nil
}

// closed returns a channel closed once srv has been shut down.
func (s *Server) closed(srv *http.Server) <-chan struct{} {
	ch := make(chan struct{})
	srv.RegisterOnShutdown(func() { close(ch) })
	return ch
}

// Addr returns the bound listener address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// URL returns the http URL of the served IPC path, or "" when not serving.
func (s *Server) URL() string {
	addr := s.Addr()
	if addr == "" {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return "http://" + addr + s.path
}

// Close stops the HTTP listener and COMMS subscriptions.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	subs := s.subs
	s.httpServer = nil
	s.listener = nil
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, comms.ErrConnectionClosed) {
			errs = append(errs, fmt.Errorf("%s - failed to unsubscribe %s: %w", logPrefix, sub.Subject, err))
		}
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s - failed to shut down HTTP server: %w", logPrefix, err))
		}
		s.wg.Wait()
	}

	slog.Info(fmt.Sprintf("%s - IPC server closed", logPrefix))
	return errors.Join(errs...)
}

func (s *Server) publish(ctx context.Context, event *events.Event) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to publish %s event: %v", logPrefix, event.Name, err))
	}
}

func normalizePath(path string) string {
	if path == "" {
		return DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func postOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
