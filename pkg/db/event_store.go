package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/morezero/ipc-bridge/pkg/events"
)

const storeLogPrefix = "db:event_store"

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 20

// EventStore persists server events. It satisfies events.Store.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore with the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertEvent appends one event to the log.
func (s *EventStore) InsertEvent(ctx context.Context, event *events.Event) error {
	created := event.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ipc_events (name, endpoint, error, request_id, path, addr, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.Name, event.Endpoint, event.Error, event.RequestID, event.Path, event.Addr, created)
	if err != nil {
		return fmt.Errorf("%s - failed to insert %s event: %w", storeLogPrefix, event.Name, err)
	}
	return nil
}

// Recent returns the newest events first.
func (s *EventStore) Recent(ctx context.Context, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	slog.Debug(fmt.Sprintf("%s - Recent limit=%d", storeLogPrefix, limit))

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, endpoint, error, request_id, path, addr, created
		 FROM ipc_events
		 ORDER BY created DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to query events: %w", storeLogPrefix, err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (EventRecord, error) {
		var r EventRecord
		err := row.Scan(&r.ID, &r.Name, &r.Endpoint, &r.Error, &r.RequestID, &r.Path, &r.Addr, &r.Created)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to scan events: %w", storeLogPrefix, err)
	}
	return records, nil
}

// CountErrors returns the number of ipc_error events recorded for endpoint,
// or for all endpoints when endpoint is empty.
func (s *EventStore) CountErrors(ctx context.Context, endpoint string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM ipc_events WHERE name = $1 AND ($2 = '' OR endpoint = $2)`,
		events.NameError, endpoint).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s - failed to count errors: %w", storeLogPrefix, err)
	}
	return n, nil
}

// Ping verifies the database is reachable.
func (s *EventStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
