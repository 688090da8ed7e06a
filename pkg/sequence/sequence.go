// Package sequence allocates monotonically increasing integers from named counters.
package sequence

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/models"
	"github.com/Sriram-PR/proceedings-scraper/pkg/storage"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// Allocator hands out the next value of a named counter.
// A missing counter starts at its default, so the first Next returns default+1.
type Allocator interface {
	Next(ctx context.Context, name string) (int64, error)
}

// New returns the allocator selected by cfg.Sequence.Backend. The store-backed
// allocator shares the record store's database.
func New(cfg *config.AppConfig, store storage.DocumentStore, logger *logrus.Entry) (Allocator, error) {
	seq := cfg.Sequence
	logger = logger.WithFields(logrus.Fields{"component": "sequence", "backend": seq.Backend})

	switch seq.Backend {
	case config.SequenceBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: seq.RedisAddr, DB: seq.RedisDB})
		return NewRedisAllocator(client, seq.KeyPrefix, seq.DefaultValue, logger), nil
	case config.SequenceBackendStore, "":
		switch s := store.(type) {
		case *storage.BadgerStore:
			return NewBadgerAllocator(s.DB(), seq.KeyPrefix, seq.DefaultValue, logger), nil
		case *storage.MongoStore:
			return NewMongoAllocator(s.Database().Collection(cfg.Store.Collections.Counters), seq.DefaultValue, cfg.Store.Mongo.OperationTimeout, logger), nil
		default:
			return nil, fmt.Errorf("%w: store backend %T cannot hold sequences", utils.ErrConfigValidation, store)
		}
	default:
		return nil, fmt.Errorf("%w: unknown sequence backend '%s'", utils.ErrConfigValidation, seq.Backend)
	}
}

// BadgerAllocator keeps counters as 8-byte big-endian values next to the records.
// Badger holds a directory lock, so serializing in-process callers is enough.
type BadgerAllocator struct {
	mu           sync.Mutex
	db           *badger.DB
	prefix       string
	defaultValue int64
	log          *logrus.Entry
}

func NewBadgerAllocator(db *badger.DB, prefix string, defaultValue int64, logger *logrus.Entry) *BadgerAllocator {
	return &BadgerAllocator{db: db, prefix: prefix, defaultValue: defaultValue, log: logger}
}

// Next implements Allocator
func (a *BadgerAllocator) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty counter name", utils.ErrInvalidQuery)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if a.db == nil || a.db.IsClosed() {
		return 0, fmt.Errorf("%w: sequence database is closed", utils.ErrStoreUnavailable)
	}

	key := []byte(a.prefix + name)
	var next int64
	err := storage.UpdateWithRetry(a.db, a.log, func(txn *badger.Txn) error {
		current := a.defaultValue
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			errVal := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("%w: counter '%s' has %d bytes", utils.ErrParsing, name, len(val))
				}
				current = int64(binary.BigEndian.Uint64(val))
				return nil
			})
			if errVal != nil {
				return errVal
			}
		}
		next = current + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(next))
		return txn.Set(key, buf)
	})
	if err != nil {
		if errors.Is(err, utils.ErrStoreUnavailable) || errors.Is(err, utils.ErrParsing) {
			return 0, err
		}
		return 0, fmt.Errorf("%w: incrementing '%s': %w", utils.ErrStoreUnavailable, name, err)
	}
	a.log.WithFields(logrus.Fields{"counter": name, "value": next}).Trace("Sequence allocated")
	return next, nil
}

// MongoAllocator keeps counters as {_id: name, sequence_value: n} documents
type MongoAllocator struct {
	coll         *mongo.Collection
	defaultValue int64
	opTimeout    time.Duration
	log          *logrus.Entry
}

func NewMongoAllocator(coll *mongo.Collection, defaultValue int64, opTimeout time.Duration, logger *logrus.Entry) *MongoAllocator {
	return &MongoAllocator{coll: coll, defaultValue: defaultValue, opTimeout: opTimeout, log: logger}
}

// Next implements Allocator with a seed upsert followed by an atomic $inc
func (a *MongoAllocator) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty counter name", utils.ErrInvalidQuery)
	}
	if a.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opTimeout)
		defer cancel()
	}

	// Two callers seeding the same counter race on _id; the loser sees a duplicate key and moves on
	_, err := a.coll.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$setOnInsert": bson.M{"sequence_value": a.defaultValue}},
		options.Update().SetUpsert(true))
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return 0, mongoErr(name, err)
	}

	var counter models.SequenceCounter
	err = a.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"sequence_value": int64(1)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, mongoErr(name, err)
	}
	a.log.WithFields(logrus.Fields{"counter": name, "value": counter.Value}).Trace("Sequence allocated")
	return counter.Value, nil
}

func mongoErr(name string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: incrementing '%s': %w", utils.ErrStoreUnavailable, name, err)
}

// RedisAllocator keeps counters as plain Redis integers
type RedisAllocator struct {
	client       *redis.Client
	prefix       string
	defaultValue int64
	log          *logrus.Entry
}

func NewRedisAllocator(client *redis.Client, prefix string, defaultValue int64, logger *logrus.Entry) *RedisAllocator {
	return &RedisAllocator{client: client, prefix: prefix, defaultValue: defaultValue, log: logger}
}

// Next implements Allocator with SETNX to seed and INCR to advance
func (a *RedisAllocator) Next(ctx context.Context, name string) (int64, error) {
	if name == "" {
		return 0, fmt.Errorf("%w: empty counter name", utils.ErrInvalidQuery)
	}
	key := a.prefix + name
	if err := a.client.SetNX(ctx, key, a.defaultValue, 0).Err(); err != nil {
		return 0, redisErr(name, err)
	}
	next, err := a.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, redisErr(name, err)
	}
	a.log.WithFields(logrus.Fields{"counter": name, "value": next}).Trace("Sequence allocated")
	return next, nil
}

// Close releases the Redis connection pool
func (a *RedisAllocator) Close() error {
	return a.client.Close()
}

func redisErr(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: incrementing '%s': %w", utils.ErrStoreUnavailable, name, err)
}
