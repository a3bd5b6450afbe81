package qtable

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key RedisStore uses unless told otherwise.
const DefaultRedisKey = "qlearner:qtables"

// #region redis-store
// RedisStore keeps the JSON document under a single key; SET replaces it
// atomically.
type RedisStore struct {
	rdb redis.Cmdable
	key string
}

// NewRedisStore returns a store writing to key.
func NewRedisStore(rdb redis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{rdb: rdb, key: key}
}

// Load reads the document. A missing key yields empty Tables.
func (s *RedisStore) Load(ctx context.Context) (Tables, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Tables{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	t, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.key, err)
	}
	return t, nil
}

// Save overwrites the document.
func (s *RedisStore) Save(ctx context.Context, t Tables) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}
// #endregion redis-store
