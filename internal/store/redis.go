package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Addr   string
	DB     int
	Prefix string
}

// RedisStore keeps the seen set in a Redis set and cached pages in plain keys with expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore initializes a Redis-backed store.
func NewRedisStore(opts RedisOptions) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{
		Addr: opts.Addr,
		DB:   opts.DB,
	}), opts.Prefix)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Ping verifies the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// MarkSeen adds url to the seen set. SADD reports whether the member was new.
func (s *RedisStore) MarkSeen(ctx context.Context, url string) (bool, error) {
	added, err := s.client.SAdd(ctx, s.seenKey(), url).Result()
	if err != nil {
		return false, unavailable("sadd", err)
	}
	return added == 1, nil
}

// TryGet reads cached page text. Redis drops expired keys itself.
func (s *RedisStore) TryGet(ctx context.Context, url string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.pageKey(url)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, unavailable("get", err)
	}
	return val, true, nil
}

// Put caches page text for ttl. Empty content is not stored.
func (s *RedisStore) Put(ctx context.Context, url, content string, ttl time.Duration) error {
	if content == "" {
		return nil
	}
	if err := s.client.Set(ctx, s.pageKey(url), content, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Reset deletes the seen set. Cached pages survive until they expire.
func (s *RedisStore) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.seenKey()).Err(); err != nil {
		return unavailable("del", err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) seenKey() string {
	return s.prefix + "seen"
}

func (s *RedisStore) pageKey(url string) string {
	return s.prefix + "page:" + url
}
