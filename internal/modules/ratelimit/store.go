package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store counts requests per key inside a fixed window. Incr returns the
// count after this request and how long until the window resets.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

// ── In-process store ──────────────────────────────────────────────────────────
// Per-instance counters: in a multi-instance deployment each instance
// enforces its own window, which is acceptable for abuse dampening.

type memoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	count   int64
	resetAt time.Time
}

func NewMemoryStore() Store {
	return &memoryStore{windows: make(map[string]*window), now: time.Now}
}

func (s *memoryStore) Incr(_ context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(d)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// ── Redis store ───────────────────────────────────────────────────────────────
// Shared fixed-window counters for horizontally scaled deployments: INCR the
// key, stamp the expiry on the first hit of each window.

type redisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client, prefix: "ratelimit:"}
}

func (s *redisStore) Incr(ctx context.Context, key string, d time.Duration) (int64, time.Duration, error) {
	k := s.prefix + key
	count, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, k, d).Err(); err != nil {
			return count, d, err
		}
		return count, d, nil
	}
	ttl, err := s.client.TTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		return count, d, err
	}
	return count, ttl, nil
}
