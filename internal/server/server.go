// Package server orchestrates the reference IPC host: optional COMMS (NATS) and
// database connections, the IPC server, metrics and HTTP health endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/ipc-bridge/internal/config"
	"github.com/morezero/ipc-bridge/pkg/commsutil"
	"github.com/morezero/ipc-bridge/pkg/db"
	"github.com/morezero/ipc-bridge/pkg/endpoint"
	"github.com/morezero/ipc-bridge/pkg/events"
	"github.com/morezero/ipc-bridge/pkg/metrics"
	ipcserver "github.com/morezero/ipc-bridge/pkg/server"
	"github.com/morezero/ipc-bridge/pkg/wire"
)

const logPrefix = "server:server"

// Host is the ipc-host orchestrator.
type Host struct {
	cfg     *config.Config
	nc      *comms.Conn
	pool    *pgxpool.Pool
	store   *db.EventStore
	ipc     *ipcserver.Server
	modules *endpoint.ModuleSet
	prom    *prometheus.Registry
	mux     *http.ServeMux
	ready   atomic.Bool
	started time.Time
}

// Run starts the host, blocks until a shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	slog.Info(fmt.Sprintf("%s - Starting %s", logPrefix, cfg.COMMSName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	h, err := NewHost(ctx, cfg)
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		h.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	slog.Info(fmt.Sprintf("%s - Received shutdown signal", logPrefix))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Shutdown(shutdownCtx)
}

// NewHost connects the optional backends and builds the IPC server. Nothing
// listens until Start.
func NewHost(ctx context.Context, cfg *config.Config) (*Host, error) {
	h := &Host{
		cfg:     cfg,
		modules: endpoint.NewModuleSet(),
		mux:     http.NewServeMux(),
		started: time.Now(),
	}

	// Step 1: COMMS, optional
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName, commsutil.RoleHost)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		h.nc = nc
	}

	// Step 2: database event log, optional
	if cfg.DatabaseURL != "" {
		if err := h.openDatabase(ctx); err != nil {
			h.closeBackends()
			return nil, err
		}
	}

	// Step 3: metrics
	h.prom = prometheus.NewRegistry()
	h.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics()
	if err := m.Register(h.prom); err != nil {
		h.closeBackends()
		return nil, fmt.Errorf("%s - failed to register metrics: %w", logPrefix, err)
	}

	// Step 4: IPC server with built-in endpoints
	pending := &endpoint.Pending{}
	registerBuiltins(pending, h)

	policy := wire.DefaultErrorPolicy
	if cfg.RedactErrors {
		policy = wire.RedactedErrorPolicy
	}
	ipc, err := ipcserver.New(cfg.SecretKey,
		ipcserver.WithPublisher(h.publisher()),
		ipcserver.WithHost(h.modules),
		ipcserver.WithHandlerTimeout(cfg.HandlerTimeout),
		ipcserver.WithMetrics(m),
		ipcserver.WithErrorPolicy(policy),
		ipcserver.WithPending(pending),
	)
	if err != nil {
		h.closeBackends()
		return nil, fmt.Errorf("%s - failed to create IPC server: %w", logPrefix, err)
	}
	h.ipc = ipc
	if n := ipc.Registry().Merge(endpoint.DefaultPending()); n > 0 {
		slog.Info(fmt.Sprintf("%s - Loaded %d routed endpoints", logPrefix, n))
	}
	h.modules.Load(statsModuleName, &statsModule{started: h.started, registry: ipc.Registry(), store: h.store})

	// Step 5: HTTP routes
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)
	if cfg.MetricsPath != "" {
		h.mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(h.prom, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	}
	if _, err := ipc.Attach(h.mux, cfg.Path); err != nil {
		h.closeBackends()
		return nil, err
	}

	slog.Info(fmt.Sprintf("%s - Registered endpoints: %v", logPrefix, ipc.Registry().Names()))
	return h, nil
}

func (h *Host) openDatabase(ctx context.Context) error {
	if h.cfg.EnsureDatabase {
		if err := db.EnsureDatabase(ctx, h.cfg.DatabaseURL); err != nil {
			return fmt.Errorf("%s - failed to ensure database: %w", logPrefix, err)
		}
	}

	pool, err := db.NewPool(ctx, h.cfg.DatabaseURL, db.DefaultPoolSettings())
	if err != nil {
		return fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	h.pool = pool

	if h.cfg.RunMigrations {
		migrations, err := db.LoadMigrationFiles(h.cfg.MigrationPath)
		if err != nil {
			return fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
		}
		if _, err := db.RunMigrations(ctx, pool, migrations); err != nil {
			return fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
		}
	}

	h.store = db.NewEventStore(pool)
	return nil
}

// publisher fans events out to the log and to whichever backends are configured.
func (h *Host) publisher() events.Publisher {
	pubs := events.MultiPublisher{events.NewCallbackPublisher(logEvent)}
	if h.nc != nil {
		pubs = append(pubs, events.NewCommsPublisher(h.nc, &events.CommsPublisherOpts{SubjectPrefix: h.cfg.EventSubjectPrefix}))
	}
	if h.store != nil {
		pubs = append(pubs, events.NewStorePublisher(h.store))
	}
	return pubs
}

func logEvent(_ context.Context, e *events.Event) error {
	switch e.Name {
	case events.NameError:
		slog.Warn(fmt.Sprintf("%s - %s endpoint=%s id=%s: %s", logPrefix, e.Name, e.Endpoint, e.RequestID, e.Error))
	default:
		slog.Info(fmt.Sprintf("%s - %s path=%s addr=%s", logPrefix, e.Name, e.Path, e.Addr))
	}
	return nil
}

// Start listens on the configured host and port and subscribes to COMMS.
func (h *Host) Start(ctx context.Context) error {
	if err := h.ipc.Serve(ctx, h.mux, h.cfg.Path, h.cfg.Host, h.cfg.Port); err != nil {
		return err
	}
	return h.startComms()
}

// StartListener is Start on an existing listener.
func (h *Host) StartListener(ctx context.Context, ln net.Listener) error {
	if err := h.ipc.ServeListener(ctx, h.mux, h.cfg.Path, ln); err != nil {
		return err
	}
	return h.startComms()
}

func (h *Host) startComms() error {
	if h.nc != nil {
		if err := h.ipc.ServeComms(h.nc, h.cfg.COMMSSubject); err != nil {
			return err
		}
	}
	h.ready.Store(true)
	slog.Info(fmt.Sprintf("%s - %s is ready on %s", logPrefix, h.cfg.COMMSName, h.ipc.URL()))
	return nil
}

// IPC returns the underlying IPC server.
func (h *Host) IPC() *ipcserver.Server {
	return h.ipc
}

// Handler returns the HTTP handler serving IPC, health and metrics routes.
func (h *Host) Handler() http.Handler {
	return h.mux
}

// Shutdown stops serving and closes the backends.
func (h *Host) Shutdown(ctx context.Context) error {
	h.ready.Store(false)

	var errs []error
	if h.ipc != nil {
		if err := h.ipc.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	h.closeBackends()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return errors.Join(errs...)
}

func (h *Host) closeBackends() {
	if h.nc != nil {
		if err := commsutil.Drain(h.nc, 5*time.Second); err != nil {
			slog.Warn(fmt.Sprintf("%s - COMMS drain: %v", logPrefix, err))
		}
		h.nc = nil
	}
	if h.pool != nil {
		h.pool.Close()
		h.pool = nil
	}
}
