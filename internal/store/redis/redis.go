package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/borsabridge/control-plane/internal/store"
)

const keyPrefix = "bridge:doc:"

// RedisStore keeps each document in one hash, one JSON-encoded value per
// top-level field, so Update is a plain HSET.
type RedisStore struct {
	client goredis.UniversalClient
}

func New(url string) (*RedisStore, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

func NewWithClient(client goredis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, path string) (store.Document, error) {
	key := store.CleanPath(path)
	fields, err := r.client.HGetAll(ctx, keyPrefix+key).Result()
	if err != nil {
		return nil, store.Wrap("get", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	doc := make(store.Document, len(fields))
	for field, raw := range fields {
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, store.Wrap("get", key, err)
		}
		doc[field] = value
	}
	return doc, nil
}

func (r *RedisStore) Set(ctx context.Context, path string, doc store.Document) error {
	key := store.CleanPath(path)
	values, err := encodeFields(doc)
	if err != nil {
		return store.Wrap("set", key, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, keyPrefix+key)
		if len(values) > 0 {
			pipe.HSet(ctx, keyPrefix+key, values...)
		}
		return nil
	})
	return store.Wrap("set", key, err)
}

func (r *RedisStore) Update(ctx context.Context, path string, fields store.Document) error {
	key := store.CleanPath(path)
	values, err := encodeFields(fields)
	if err != nil {
		return store.Wrap("update", key, err)
	}
	if len(values) == 0 {
		return nil
	}
	return store.Wrap("update", key, r.client.HSet(ctx, keyPrefix+key, values...).Err())
}

func (r *RedisStore) Delete(ctx context.Context, path string) error {
	key := store.CleanPath(path)
	return store.Wrap("delete", key, r.client.Del(ctx, keyPrefix+key).Err())
}

func encodeFields(doc store.Document) ([]any, error) {
	values := make([]any, 0, len(doc)*2)
	for field, value := range doc {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		values = append(values, field, string(raw))
	}
	return values, nil
}
