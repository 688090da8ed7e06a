package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/log"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

const (
	docKeyPrefix = "doc:" // doc:<collection>:<key values joined by keySep>
	keySep       = "\x00"
)

// OpenBadgerDB opens (creating if needed) a Badger database at path with logging bridged to log
func OpenBadgerDB(path, name string, logger *logrus.Entry) (*badger.DB, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create database directory %s: %w", utils.ErrFilesystem, path, err)
	}
	opts := badger.DefaultOptions(path).
		WithLogger(log.NewBadgerLogrusAdapter(logger, name)).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrStoreUnavailable, path, err)
	}
	return db, nil
}

// RunBadgerGC runs value log garbage collection every interval until ctx is done. Should be run in a goroutine.
func RunBadgerGC(ctx context.Context, db *badger.DB, interval time.Duration, logger *logrus.Entry) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if db == nil || db.IsClosed() {
				continue
			}
			var err error
			for err == nil {
				// Rewrite while at least half of a value log file is reclaimable
				err = db.RunValueLogGC(0.5)
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				logger.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			logger.Debugf("Stopping BadgerDB garbage collection: %v", ctx.Err())
			return
		}
	}
}

// BadgerStore implements DocumentStore on an embedded BadgerDB.
// Documents are stored as JSON; Find scans the collection prefix and filters in memory.
// Upserts of the same key are serialized through keyLocks so they never race on the read-merge-write.
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyLocks [keyLockStripes]sync.Mutex
}

const keyLockStripes = 64

func (s *BadgerStore) lockKey(key []byte) func() {
	mu := &s.keyLocks[xxhash.Sum64(key)%keyLockStripes]
	mu.Lock()
	return mu.Unlock
}

// NewBadgerStore opens the record database under dir
func NewBadgerStore(dir string, logger *logrus.Entry) (*BadgerStore, error) {
	logger.Infof("Opening record database at: %s", dir)
	db, err := OpenBadgerDB(dir, "records", logger)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, log: logger}, nil
}

// DB exposes the underlying database for the store-backed sequence allocator
func (s *BadgerStore) DB() *badger.DB {
	return s.db
}

const (
	maxConflictRetries = 10
	conflictBaseDelay  = time.Millisecond
	conflictMaxDelay   = 50 * time.Millisecond
)

func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	return UpdateWithRetry(s.db, s.log, fn)
}

// UpdateWithRetry runs fn in a read-write transaction, retrying on badger.ErrConflict with
// exponential backoff. Exhaustion is reported as utils.ErrStoreConflict; the store itself is still usable.
func UpdateWithRetry(db *badger.DB, logger *logrus.Entry, fn func(txn *badger.Txn) error) error {
	delay := conflictBaseDelay
	for i := range maxConflictRetries {
		err := db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if i == maxConflictRetries-1 {
			break
		}
		logger.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying in %v", i+1, maxConflictRetries, delay)
		time.Sleep(delay)
		delay = min(2*delay, conflictMaxDelay)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrStoreConflict, maxConflictRetries)
}

func (s *BadgerStore) checkOpen() error {
	if s.db == nil || s.db.IsClosed() {
		return fmt.Errorf("%w: record database is closed", utils.ErrStoreUnavailable)
	}
	return nil
}

// EnsureCollection implements DocumentStore. Uniqueness is structural: the key is part of the Badger key.
func (s *BadgerStore) EnsureCollection(ctx context.Context, collection string, keyFields []string) error {
	if collection == "" || strings.Contains(collection, ":") {
		return fmt.Errorf("%w: invalid collection name %q", utils.ErrInvalidQuery, collection)
	}
	if len(keyFields) == 0 {
		return fmt.Errorf("%w: collection %s has no key fields", utils.ErrInvalidQuery, collection)
	}
	return s.checkOpen()
}

func collectionPrefix(collection string) []byte {
	return []byte(docKeyPrefix + collection + ":")
}

func documentKey(collection string, keyFields []string, doc Document) ([]byte, error) {
	parts := make([]string, len(keyFields))
	for i, f := range keyFields {
		v, ok := doc[f].(string)
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: document in %s has no string key field '%s'", utils.ErrInvalidRecord, collection, f)
		}
		parts[i] = v
	}
	return append(collectionPrefix(collection), strings.Join(parts, keySep)...), nil
}

// Upsert implements DocumentStore
func (s *BadgerStore) Upsert(ctx context.Context, collection string, keyFields []string, doc Document, now time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := documentKey(collection, keyFields, doc)
	if err != nil {
		return err
	}

	unlock := s.lockKey(key)
	defer unlock()

	inserted := false
	err = s.dbUpdate(func(txn *badger.Txn) error {
		merged := Document{}
		item, errGet := txn.Get(key)
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			merged[fieldCreatedAt] = now
			inserted = true
		case errGet != nil:
			return errGet
		default:
			errVal := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &merged)
			})
			if errVal != nil {
				return fmt.Errorf("%w: stored document %q: %w", utils.ErrParsing, string(key), errVal)
			}
			if _, ok := merged[fieldCreatedAt]; !ok {
				merged[fieldCreatedAt] = now
			}
		}

		// Shallow merge: top-level fields replace, nested values are not merged
		for k, v := range doc {
			if k == fieldCreatedAt || k == fieldUpdatedAt || k == fieldMongoID {
				continue
			}
			merged[k] = v
		}
		merged[fieldUpdatedAt] = now

		val, errJSON := json.Marshal(merged)
		if errJSON != nil {
			return fmt.Errorf("%w: encoding document %q: %w", utils.ErrParsing, string(key), errJSON)
		}
		return txn.SetEntry(badger.NewEntry(key, val))
	})
	if err != nil {
		if errors.Is(err, utils.ErrParsing) || errors.Is(err, utils.ErrStoreUnavailable) || errors.Is(err, utils.ErrStoreConflict) {
			return err
		}
		return fmt.Errorf("%w: upsert into %s: %w", utils.ErrStoreUnavailable, collection, err)
	}

	s.log.WithFields(logrus.Fields{"collection": collection, "inserted": inserted}).Tracef("Upserted %s", strings.ReplaceAll(string(key), keySep, "|"))
	return nil
}

// Find implements DocumentStore
func (s *BadgerStore) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateQuery(q.Filter, q.SortBy, nil); err != nil {
		return nil, err
	}

	var docs []Document
	prefix := collectionPrefix(collection)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			var doc Document
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			}); err != nil {
				s.log.Warnf("Skipping undecodable document %q: %v", strings.ReplaceAll(string(item.Key()), keySep, "|"), err)
				continue
			}
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scanning %s: %w", utils.ErrStoreUnavailable, collection, err)
	}

	return applyQuery(docs, q), nil
}

// Close implements DocumentStore
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing record DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing record DB: %v", err)
			return err
		}
		return nil
	}
	return nil
}
