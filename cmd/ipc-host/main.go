// Package main is the entrypoint for ipc-host, a reference IPC server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/ipc-bridge/internal/config"
	"github.com/morezero/ipc-bridge/internal/server"
	"github.com/morezero/ipc-bridge/pkg/db"
)

const usage = `Usage: ipc-host [command]
       ipc-host serve              Start the IPC host (HTTP, optional NATS and event log).
       ipc-host migrate up         Run database migrations.
       ipc-host migrate status     Show migration status.
       ipc-host ensure-db          Create the DATABASE_URL database if missing.
       ipc-host clear              Truncate the event log; schema is preserved.
       ipc-host events [n]         Print the n most recent events (default 20).
       ipc-host prune <age>        Delete events older than age (e.g. 72h).

Commands:
  serve           (default) Start the IPC host.
  migrate up      Run database migrations only.
  migrate status  Show applied and pending migrations.
  ensure-db       Create the database on the DATABASE_URL server.
  clear           Truncate the event log.
  events [n]      Show recent ipc_setup, ipc_ready and ipc_error events.
  prune <age>     Delete events older than a Go duration.

Environment: IPC_SECRET_KEY, IPC_HOST, IPC_PORT, IPC_PATH, COMMS_URL (optional),
DATABASE_URL (optional for serve, required for the other commands), MIGRATION_PATH.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("ipc-host migrate: require subcommand (up, status)")
		}
		switch sub := args[1]; sub {
		case "up":
			if err := withPool(runMigrateUp); err != nil {
				log.Fatalf("ipc-host migrate up: %v", err)
			}
		case "status":
			if err := withPool(runMigrateStatus); err != nil {
				log.Fatalf("ipc-host migrate status: %v", err)
			}
		default:
			log.Fatalf("ipc-host migrate: unknown subcommand %q (use up, status)", sub)
		}
		return
	case "ensure-db":
		if err := runEnsureDB(); err != nil {
			log.Fatalf("ipc-host ensure-db: %v", err)
		}
		return
	case "clear":
		if err := withPool(runClear); err != nil {
			log.Fatalf("ipc-host clear: %v", err)
		}
		return
	case "events":
		limit, err := parseLimit(args[1:])
		if err != nil {
			log.Fatalf("ipc-host events: %v", err)
		}
		if err := withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
			return runEvents(ctx, pool, limit)
		}); err != nil {
			log.Fatalf("ipc-host events: %v", err)
		}
		return
	case "prune":
		age, err := parseAge(args[1:])
		if err != nil {
			log.Fatalf("ipc-host prune: %v", err)
		}
		if err := withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
			n, err := db.PruneEvents(ctx, pool, time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d event(s).\n", n)
			return nil
		}); err != nil {
			log.Fatalf("ipc-host prune: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("ipc-host: %v", err)
	}
}

// withPool loads config, opens the database and runs fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.DefaultPoolSettings())
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, cfg, pool)
}

func runMigrateUp(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	n, err := db.RunMigrations(ctx, pool, migrations)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Printf("Applied %d migration(s).\n", n)
	return nil
}

func runMigrateStatus(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
	migrations, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	report, err := db.MigrationStatus(ctx, pool, migrations)
	if err != nil {
		return err
	}
	for _, name := range report.Applied {
		fmt.Printf("applied  %s\n", name)
	}
	for _, name := range report.Pending {
		fmt.Printf("pending  %s\n", name)
	}
	if len(report.Pending) > 0 {
		fmt.Println("Run 'ipc-host migrate up' to apply pending migrations.")
	}
	return nil
}

func runEnsureDB() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	if err := db.EnsureDatabase(context.Background(), cfg.DatabaseURL); err != nil {
		return err
	}
	fmt.Println("Database is ready.")
	return nil
}

func runClear(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
	if err := db.ClearEvents(ctx, pool); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	return nil
}

func runEvents(ctx context.Context, pool *pgxpool.Pool, limit int) error {
	records, err := db.NewEventStore(pool).Recent(ctx, limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Println(formatEvent(r))
	}
	return nil
}

func formatEvent(r db.EventRecord) string {
	line := fmt.Sprintf("%s  %-9s", r.Created.Format("2006-01-02T15:04:05.000Z07:00"), r.Name)
	if r.Endpoint != "" {
		line += " endpoint=" + r.Endpoint
	}
	if r.RequestID != "" {
		line += " id=" + r.RequestID
	}
	if r.Addr != "" {
		line += " addr=" + r.Addr
	}
	if r.Path != "" {
		line += " path=" + r.Path
	}
	if r.Error != "" {
		line += " error=" + strconv.Quote(r.Error)
	}
	return line
}

func parseLimit(args []string) (int, error) {
	if len(args) == 0 || args[0] == "" {
		return db.DefaultRecentLimit, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid event count %q", args[0])
	}
	return n, nil
}

func parseAge(args []string) (time.Duration, error) {
	if len(args) == 0 || args[0] == "" {
		return 0, fmt.Errorf("require an age such as 72h")
	}
	age, err := time.ParseDuration(args[0])
	if err != nil || age <= 0 {
		return 0, fmt.Errorf("invalid age %q", args[0])
	}
	return age, nil
}
