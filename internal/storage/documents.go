package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketplace-ledger-reconciler/pkg/errors"
	"marketplace-ledger-reconciler/pkg/logger"
)

// Document operations carried by DocumentEvent
const (
	OpSet    = "set"
	OpDelete = "delete"
)

// DocumentEvent is published whenever a document is written or deleted
type DocumentEvent struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Op         string          `json:"op"`
	Data       json.RawMessage `json:"data,omitempty"`
	At         time.Time       `json:"at"`
}

// DocumentStore keeps opaque JSON documents by collection and id
type DocumentStore interface {
	// Get decodes the document into out; a missing document has code store_not_found
	Get(ctx context.Context, collection, id string, out interface{}) error
	Set(ctx context.Context, collection, id string, doc interface{}) error
	Delete(ctx context.Context, collection, id string) error
	// List returns up to limit documents, most recently written first,
	// skipping the offset newest ones
	List(ctx context.Context, collection string, offset, limit int64) ([]json.RawMessage, error)
	// Subscribe streams events for collection until ctx is cancelled
	Subscribe(ctx context.Context, collection string) (<-chan DocumentEvent, error)
}

const keyPrefix = "reconciler"

// RedisOptions configures the Redis connection
type RedisOptions struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewRedisClient connects to Redis and verifies the connection with a ping
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "connect", opts.Address, err)
	}
	return rdb, nil
}

// RedisDocumentStore stores documents as JSON strings, keeps a per-collection
// sorted index by write time and publishes change events on a channel.
type RedisDocumentStore struct {
	rdb    *redis.Client
	logger logger.Logger
}

// NewRedisDocumentStore creates a document store on rdb
func NewRedisDocumentStore(rdb *redis.Client) *RedisDocumentStore {
	return &RedisDocumentStore{
		rdb:    rdb,
		logger: logger.GetGlobalLogger().WithComponent("redis_document_store"),
	}
}

func documentKey(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, collection, id)
}

func indexKey(collection string) string {
	return fmt.Sprintf("%s:%s:_index", keyPrefix, collection)
}

// EventChannel returns the pub/sub channel for collection
func EventChannel(collection string) string {
	return fmt.Sprintf("%s:events:%s", keyPrefix, collection)
}

// Get reads a document
func (s *RedisDocumentStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	key := documentKey(collection, id)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return errors.StorageError(errors.CodeStoreNotFound, "get document", key, err)
		}
		return errors.StorageError(errors.CodeStoreUnavailable, "get document", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.CategoryStorage, errors.CodeStoreUnavailable, "invalid document").
			WithContext("key", key)
	}
	return nil
}

// Set writes a document, indexes it and publishes an event in one transaction
func (s *RedisDocumentStore) Set(ctx context.Context, collection, id string, doc interface{}) error {
	key := documentKey(collection, id)
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "cannot encode document").
			WithContext("key", key)
	}

	now := time.Now().UTC()
	event, err := json.Marshal(DocumentEvent{Collection: collection, ID: id, Op: OpSet, Data: data, At: now})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "cannot encode event")
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.ZAdd(ctx, indexKey(collection), redis.Z{Score: float64(now.UnixMilli()), Member: id})
		pipe.Publish(ctx, EventChannel(collection), event)
		return nil
	})
	if err != nil {
		return errors.StorageError(errors.CodeStoreUnavailable, "set document", key, err)
	}

	s.logger.WithFields(logger.Fields{"collection": collection, "id": id}).Debug("Stored document")
	return nil
}

// Delete removes a document; deleting a missing document is not an error
func (s *RedisDocumentStore) Delete(ctx context.Context, collection, id string) error {
	key := documentKey(collection, id)
	event, err := json.Marshal(DocumentEvent{Collection: collection, ID: id, Op: OpDelete, At: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, errors.CodeUnexpectedError, "cannot encode event")
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, indexKey(collection), id)
		pipe.Publish(ctx, EventChannel(collection), event)
		return nil
	})
	if err != nil {
		return errors.StorageError(errors.CodeStoreUnavailable, "delete document", key, err)
	}
	return nil
}

// List returns one page of the newest documents of collection
func (s *RedisDocumentStore) List(ctx context.Context, collection string, offset, limit int64) ([]json.RawMessage, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.ZRevRange(ctx, indexKey(collection), offset, offset+limit-1).Result()
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "list documents", indexKey(collection), err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = documentKey(collection, id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "list documents", indexKey(collection), err)
	}

	docs := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// indexed but deleted between the two calls
			continue
		}
		docs = append(docs, json.RawMessage(str))
	}
	return docs, nil
}

// Subscribe streams change events of collection. The returned channel is
// closed when ctx is done.
func (s *RedisDocumentStore) Subscribe(ctx context.Context, collection string) (<-chan DocumentEvent, error) {
	channel := EventChannel(collection)
	pubsub := s.rdb.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, errors.StorageError(errors.CodeStoreUnavailable, "subscribe", channel, err)
	}

	out := make(chan DocumentEvent)
	go func() {
		defer close(out)
		defer pubsub.Close()

		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var event DocumentEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					s.logger.WithError(err).WithField("channel", channel).Warn("Dropping malformed event")
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
