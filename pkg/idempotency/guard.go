// Package idempotency tracks already-processed identifiers so at-least-once
// deliveries (payment provider webhooks in particular) can be collapsed to
// exactly-once handling.
package idempotency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard records identifiers and reports whether an identifier is seen for the
// first time. Implementations must be safe for concurrent use.
type Guard interface {
	// FirstSeen returns true exactly once per key within the retention
	// window. Subsequent calls with the same key return false.
	FirstSeen(ctx context.Context, key string) (bool, error)
}

type redisGuard struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisGuard returns a Guard backed by Redis SET NX with a TTL.
// The TTL bounds memory usage; providers stop redelivering events long before
// a reasonable retention window expires.
func NewRedisGuard(client redis.UniversalClient, prefix string, ttl time.Duration) Guard {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &redisGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *redisGuard) FirstSeen(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+":"+key, 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: setnx: %w", err)
	}
	return ok, nil
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewMemoryGuard returns an in-process Guard for tests and single-instance
// deployments without Redis.
func NewMemoryGuard(ttl time.Duration) Guard {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &memoryGuard{seen: make(map[string]time.Time), ttl: ttl}
}

func (g *memoryGuard) FirstSeen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	for k, expires := range g.seen {
		if now.After(expires) {
			delete(g.seen, k)
		}
	}

	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = now.Add(g.ttl)
	return true, nil
}
