package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearEvents truncates the event log. The schema is preserved and the id
// sequence restarts.
func ClearEvents(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing event log", clearLogPrefix))

	if _, err := pool.Exec(ctx, `TRUNCATE TABLE ipc_events RESTART IDENTITY`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Event log cleared", clearLogPrefix))
	return nil
}

// PruneEvents deletes events created before cutoff and reports how many were
// removed.
func PruneEvents(ctx context.Context, pool *pgxpool.Pool, cutoff time.Time) (int64, error) {
	tag, err := pool.Exec(ctx, `DELETE FROM ipc_events WHERE created < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s - prune failed: %w", clearLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - Pruned %d event(s) older than %s", clearLogPrefix, tag.RowsAffected(), cutoff.Format(time.RFC3339)))
	return tag.RowsAffected(), nil
}
