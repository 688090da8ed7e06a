package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// MongoStore implements DocumentStore on MongoDB
type MongoStore struct {
	client    *mongo.Client
	database  *mongo.Database
	opTimeout time.Duration
	log       *logrus.Entry
}

// NewMongoStore connects and pings the server; an unreachable server is ErrStoreUnavailable
func NewMongoStore(ctx context.Context, cfg config.MongoConfig, logger *logrus.Entry) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true}) // Embedded documents decode as maps

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to MongoDB: %w", utils.ErrStoreUnavailable, err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: can't ping MongoDB: %w", utils.ErrStoreUnavailable, err)
	}

	logger.WithField("database", cfg.Database).Info("Connected to MongoDB")
	return &MongoStore{
		client:    client,
		database:  client.Database(cfg.Database),
		opTimeout: cfg.OperationTimeout,
		log:       logger,
	}, nil
}

// Database exposes the database for the store-backed sequence allocator
func (s *MongoStore) Database() *mongo.Database {
	return s.database
}

func (s *MongoStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// EnsureCollection implements DocumentStore by creating a unique index on keyFields
func (s *MongoStore) EnsureCollection(ctx context.Context, collection string, keyFields []string) error {
	if len(keyFields) == 0 {
		return fmt.Errorf("%w: collection %s has no key fields", utils.ErrInvalidQuery, collection)
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	keys := bson.D{}
	for _, f := range keyFields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	_, err := s.database.Collection(collection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return classifyMongoError(fmt.Sprintf("creating key index on %s", collection), err)
	}
	return nil
}

// Upsert implements DocumentStore with $set for the fields and $setOnInsert for created_at
func (s *MongoStore) Upsert(ctx context.Context, collection string, keyFields []string, doc Document, now time.Time) error {
	filter := bson.M{}
	for _, f := range keyFields {
		v, ok := doc[f]
		if !ok || v == nil || v == "" {
			return fmt.Errorf("%w: document in %s has no key field '%s'", utils.ErrInvalidRecord, collection, f)
		}
		filter[f] = v
	}

	set := bson.M{}
	for k, v := range doc {
		if k == fieldCreatedAt || k == fieldUpdatedAt || k == fieldMongoID {
			continue
		}
		set[k] = v
	}
	set[fieldUpdatedAt] = now

	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{fieldCreatedAt: now},
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err := s.database.Collection(collection).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return classifyMongoError(fmt.Sprintf("upsert into %s", collection), err)
	}
	return nil
}

// Find implements DocumentStore; the _id field is projected away
func (s *MongoStore) Find(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q.Filter, q.SortBy, nil); err != nil {
		return nil, err
	}

	filter := bson.M{}
	for k, v := range q.Filter {
		filter[k] = v
	}

	opts := options.Find().SetProjection(bson.M{fieldMongoID: 0})
	if q.SortBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.SortBy, Value: dir}})
	}
	if q.Offset > 0 {
		opts.SetSkip(int64(q.Offset))
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	cursor, err := s.database.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, classifyMongoError(fmt.Sprintf("find in %s", collection), err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, classifyMongoError(fmt.Sprintf("reading results from %s", collection), err)
	}

	docs := make([]Document, 0, len(raw))
	for _, m := range raw {
		delete(m, fieldMongoID)
		docs = append(docs, Document(m))
	}
	return docs, nil
}

// Close implements DocumentStore
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// classifyMongoError maps driver errors onto the store sentinels
func classifyMongoError(op string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case mongo.IsNetworkError(err), mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", utils.ErrStoreUnavailable, op, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(2) || se.HasErrorCode(9)) { // BadValue, FailedToParse
		return fmt.Errorf("%w: %s: %w", utils.ErrInvalidQuery, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
