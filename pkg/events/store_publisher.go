package events

import (
	"context"
	"fmt"
)

const storePublisherLogPrefix = "events:store_publisher"

// Store persists events, e.g. the Postgres event log in pkg/db.
type Store interface {
	InsertEvent(ctx context.Context, event *Event) error
}

// StorePublisher writes every event to a Store.
type StorePublisher struct {
	store Store
}

// NewStorePublisher creates a StorePublisher.
func NewStorePublisher(store Store) *StorePublisher {
	return &StorePublisher{store: store}
}

// Publish inserts the event.
func (p *StorePublisher) Publish(ctx context.Context, event *Event) error {
	if err := p.store.InsertEvent(ctx, event); err != nil {
		return fmt.Errorf("%s - failed to store %s event: %w", storePublisherLogPrefix, event.Name, err)
	}
	return nil
}
