package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// keySession is the Redis hash holding all values of one session.
const keySession = "session:%s"

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each session in a Redis hash that expires after ttl of
// inactivity.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient parses a redis:// URL and returns a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisStore returns a RedisStore using rdb.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Get returns the value stored under key.
func (s *RedisStore) Get(ctx context.Context, id, key string) ([]byte, error) {
	b, err := s.rdb.HGet(ctx, fmt.Sprintf(keySession, id), key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoValue
		}
		return nil, fmt.Errorf("reading session %q key %q: %w", id, key, err)
	}
	return b, nil
}

// Set stores value under key and refreshes the session TTL.
func (s *RedisStore) Set(ctx context.Context, id, key string, value []byte) error {
	k := fmt.Sprintf(keySession, id)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k, key, value)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing session %q key %q: %w", id, key, err)
	}
	return nil
}

// Delete removes the given keys from the session.
func (s *RedisStore) Delete(ctx context.Context, id string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.HDel(ctx, fmt.Sprintf(keySession, id), keys...).Err(); err != nil {
		return fmt.Errorf("deleting session %q keys: %w", id, err)
	}
	return nil
}

// Destroy removes the whole session.
func (s *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, fmt.Sprintf(keySession, id)).Err(); err != nil {
		return fmt.Errorf("destroying session %q: %w", id, err)
	}
	return nil
}
