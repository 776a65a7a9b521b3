package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsLogPrefix = "db:migrations"

// Migration is one forward-only SQL file.
type Migration struct {
	Name string
	SQL  string
}

// MigrationReport lists applied and pending migrations by name.
type MigrationReport struct {
	Applied []string
	Pending []string
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS ipc_schema_migrations (
	name    TEXT PRIMARY KEY,
	applied TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// LoadMigrationFiles reads all .sql files from dir, sorted by name.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var out []Migration
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
		}
		out = append(out, Migration{Name: strings.TrimSuffix(name, ".sql"), SQL: string(data)})
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

// RunMigrations applies the migrations not yet recorded, each in its own
// transaction, and returns how many were applied.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (int, error) {
	if _, err := pool.Exec(ctx, createMigrationsTable); err != nil {
		return 0, fmt.Errorf("%s - failed to create migrations table: %w", migrationsLogPrefix, err)
	}

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		slog.Info(fmt.Sprintf("%s - Applying %s", migrationsLogPrefix, m.Name))
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO ipc_schema_migrations (name) VALUES ($1)`, m.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%s - migration %s failed: %w", migrationsLogPrefix, m.Name, err)
		}
		count++
	}

	slog.Info(fmt.Sprintf("%s - Migrations complete, %d applied", migrationsLogPrefix, count))
	return count, nil
}

// MigrationStatus reports which of the given migrations have been applied.
func MigrationStatus(ctx context.Context, pool *pgxpool.Pool, migrations []Migration) (*MigrationReport, error) {
	var exists bool
	err := pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'ipc_schema_migrations')`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to check schema: %w", migrationsLogPrefix, err)
	}

	applied := map[string]bool{}
	if exists {
		if applied, err = appliedMigrations(ctx, pool); err != nil {
			return nil, err
		}
	}

	report := &MigrationReport{}
	for _, m := range migrations {
		if applied[m.Name] {
			report.Applied = append(report.Applied, m.Name)
		} else {
			report.Pending = append(report.Pending, m.Name)
		}
	}
	return report, nil
}

func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, `SELECT name FROM ipc_schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to list applied migrations: %w", migrationsLogPrefix, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s - failed to scan applied migrations: %w", migrationsLogPrefix, err)
	}

	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}
	return applied, nil
}
