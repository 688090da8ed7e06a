package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// Collection is a typed view over one collection of a DocumentStore.
// Records are validated before every write and decoded into T on read.
type Collection[T models.Record] struct {
	store        DocumentStore
	name         string
	keyFields    []string
	fields       map[string]bool // Queryable JSON field names of T
	defaultLimit int
	run          atomic.Int64
	now          func() time.Time
}

// NewCollection binds record type T to the named collection and prepares its key index
func NewCollection[T models.Record](ctx context.Context, store DocumentStore, name string, defaultLimit int) (*Collection[T], error) {
	var zero T
	keyFields := zero.KeyFields()
	if err := store.EnsureCollection(ctx, name, keyFields); err != nil {
		return nil, fmt.Errorf("preparing collection %s: %w", name, err)
	}
	if defaultLimit <= 0 {
		defaultLimit = 30
	}
	fields := jsonFields(reflect.TypeOf(zero))
	fields[fieldCreatedAt] = true
	fields[fieldUpdatedAt] = true
	fields[fieldLastRun] = true

	return &Collection[T]{
		store:        store,
		name:         name,
		keyFields:    keyFields,
		fields:       fields,
		defaultLimit: defaultLimit,
		now:          time.Now,
	}, nil
}

// Name returns the collection name
func (c *Collection[T]) Name() string {
	return c.name
}

// SetRun stamps last_run = run on every subsequent write. Zero leaves last_run untouched.
func (c *Collection[T]) SetRun(run int64) {
	c.run.Store(run)
}

// UpsertByKey inserts rec, or merges its fields into the stored document with the same key
func (c *Collection[T]) UpsertByKey(ctx context.Context, rec T) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	doc, err := toDocument(rec)
	if err != nil {
		return err
	}
	if run := c.run.Load(); run > 0 {
		doc[fieldLastRun] = run
	}
	return c.store.Upsert(ctx, c.name, c.keyFields, doc, c.now().UTC())
}

// UpsertMany applies UpsertByKey to each record in order. There is no batch atomicity:
// it stops at the first failure and returns how many records were written before it.
func (c *Collection[T]) UpsertMany(ctx context.Context, recs []T) (int, error) {
	for i, rec := range recs {
		if err := c.UpsertByKey(ctx, rec); err != nil {
			return i, fmt.Errorf("upsert %d/%d into %s: %w", i+1, len(recs), c.name, err)
		}
	}
	return len(recs), nil
}

// Find returns records matching filter. A zero opts.Limit applies the collection default; Unlimited returns everything.
func (c *Collection[T]) Find(ctx context.Context, filter Filter, opts FindOptions) ([]T, error) {
	if err := validateQuery(filter, opts.SortBy, c.fields); err != nil {
		return nil, err
	}
	if opts.Offset < 0 {
		return nil, fmt.Errorf("%w: negative offset %d", utils.ErrInvalidQuery, opts.Offset)
	}
	limit := opts.Limit
	switch {
	case limit == 0:
		limit = c.defaultLimit
	case limit < 0 && limit != Unlimited:
		return nil, fmt.Errorf("%w: invalid limit %d", utils.ErrInvalidQuery, limit)
	}

	docs, err := c.store.Find(ctx, c.name, Query{
		Filter:     filter,
		SortBy:     opts.SortBy,
		Descending: opts.Descending,
		Limit:      limit,
		Offset:     opts.Offset,
	})
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(docs))
	for _, d := range docs {
		rec, err := fromDocument[T](d)
		if err != nil {
			return nil, fmt.Errorf("decoding document from %s: %w", c.name, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindAll returns every record in the collection
func (c *Collection[T]) FindAll(ctx context.Context, opts FindOptions) ([]T, error) {
	opts.Limit = Unlimited
	return c.Find(ctx, nil, opts)
}

// Exists reports whether any record matches filter
func (c *Collection[T]) Exists(ctx context.Context, filter Filter) (bool, error) {
	recs, err := c.Find(ctx, filter, FindOptions{Limit: 1})
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// toDocument flattens a record into its JSON field map. Timestamps are left to the backend.
func toDocument(rec any) (Document, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding record: %w", utils.ErrInvalidRecord, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: encoding record: %w", utils.ErrInvalidRecord, err)
	}
	delete(doc, fieldCreatedAt)
	delete(doc, fieldUpdatedAt)
	delete(doc, fieldLastRun)
	return doc, nil
}

func fromDocument[T any](doc Document) (T, error) {
	var rec T
	delete(doc, fieldMongoID)
	b, err := json.Marshal(doc)
	if err != nil {
		return rec, fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}
	return rec, nil
}
