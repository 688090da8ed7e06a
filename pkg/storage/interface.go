package storage

import (
	"context"
	"time"
)

// Unlimited as a FindOptions.Limit disables the default result limit
const Unlimited = -1

// Document is one stored record as a flat field map. Backends never return their internal identity field.
type Document map[string]any

// Filter is a conjunction of top-level field equality conditions.
// A nil value matches documents where the field is null or missing.
type Filter map[string]any

// FindOptions controls ordering and paging. Zero Limit means the collection's default limit.
type FindOptions struct {
	SortBy     string
	Descending bool
	Limit      int
	Offset     int
}

// Query is a validated find request handed to a backend. Limit is resolved: > 0, or Unlimited.
type Query struct {
	Filter     Filter
	SortBy     string
	Descending bool
	Limit      int
	Offset     int
}

// DocumentStore is a backend that upserts and queries documents in named collections
type DocumentStore interface {
	// EnsureCollection prepares a collection whose documents are unique on keyFields
	EnsureCollection(ctx context.Context, collection string, keyFields []string) error

	// Upsert merges doc's top-level fields into the document matching doc's key fields,
	// inserting it when absent. created_at is set on insert only; updated_at is set to now on every call.
	Upsert(ctx context.Context, collection string, keyFields []string, doc Document, now time.Time) error

	// Find returns documents matching q
	Find(ctx context.Context, collection string, q Query) ([]Document, error)

	// Close releases the backend connection
	Close() error
}
