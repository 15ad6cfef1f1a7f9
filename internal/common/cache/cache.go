// Package cache holds the Redis-backed helpers used by the HTTP layer:
// idempotent response replay and fixed-window rate limiting.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration. An empty Addr disables Redis and the
// in-memory implementations are used instead.
type Config struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	Prefix   string `envconfig:"REDIS_PREFIX" default:"p2p:"`
}

// NewClient connects to Redis and pings it.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// RedisIdempotencyStore stores replayable HTTP responses in Redis.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisIdempotencyStore creates a store using client.
func NewRedisIdempotencyStore(client *redis.Client, prefix string, logger *slog.Logger) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: prefix + "idem:", logger: logger}
}

// Get returns the cached response for key. A miss is not an error.
func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error("idempotency cache get", "key", key, "error", err)
		return nil, false, err
	}
	return val, true, nil
}

// Set stores response under key for ttl.
func (s *RedisIdempotencyStore) Set(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, response, ttl).Err()
}

// RedisRateLimiter allows Limit requests per key in each Window.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

// NewRedisRateLimiter creates a fixed-window limiter.
func NewRedisRateLimiter(client *redis.Client, prefix string, limit int64, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: prefix + "rl:", limit: limit, window: window}
}

// Allow counts a request against key's current window.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := time.Now().UnixNano() / int64(l.window)
	k := fmt.Sprintf("%s%s:%d", l.prefix, key, bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}

// MemoryIdempotencyStore is a process-local IdempotencyStore.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements the idempotency store.
func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.body, true, nil
}

// Set implements the idempotency store.
func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{body: append([]byte(nil), response...), expiresAt: s.now().Add(ttl)}
	return nil
}

// MemoryRateLimiter is a process-local fixed-window limiter.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	limit   int64
	window  time.Duration
	buckets map[string]int64
	current int64
	now     func() time.Time
}

// NewMemoryRateLimiter creates a limiter allowing limit requests per window.
func NewMemoryRateLimiter(limit int64, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{limit: limit, window: window, buckets: make(map[string]int64), now: time.Now}
}

// Allow implements the rate limiter.
func (l *MemoryRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	bucket := l.now().UnixNano() / int64(l.window)
	if bucket != l.current {
		l.current = bucket
		clear(l.buckets)
	}
	l.buckets[key]++
	return l.buckets[key] <= l.limit, nil
}
