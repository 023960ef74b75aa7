// Package revocation keeps a denylist of token ids so a logout can
// invalidate the token it was called with.
//
// Tokens are stateless by default (Noop): logout only clears the browser's
// cookie and a copied token stays valid until it expires. Memory and Redis
// close that gap. Entries only need to live until the token would have
// expired anyway.
package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	// Revoke denies tokenID until the given time.
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

var (
	_ Store = Noop{}
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)

// Noop never revokes anything.
type Noop struct{}

func (Noop) Revoke(context.Context, string, time.Time) error { return nil }

func (Noop) IsRevoked(context.Context, string) (bool, error) { return false, nil }

// Memory is a process-local denylist. Expired entries are dropped on
// lookup and by a sweep in Revoke that runs at most once per sweepEvery.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	sweepEvery time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries:    make(map[string]time.Time),
		sweepEvery: time.Minute,
		now:        time.Now,
	}
}

func (m *Memory) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.sweepEvery {
		for id, exp := range m.entries {
			if !exp.After(now) {
				delete(m.entries, id)
			}
		}
		m.lastSweep = now
	}
	if until.After(now) {
		m.entries[tokenID] = until
	}
	return nil
}

func (m *Memory) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !exp.After(m.now()) {
		delete(m.entries, tokenID)
		return false, nil
	}
	return true, nil
}

// Redis stores "revoked:<jti>" keys whose TTL is the token's remaining life.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, now: time.Now}
}

func key(tokenID string) string {
	return "revoked:" + tokenID
}

func (r *Redis) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.Set(ctx, key(tokenID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("revocation: storing %s: %w", tokenID, err)
	}
	return nil
}

func (r *Redis) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("revocation: checking %s: %w", tokenID, err)
	}
	return n > 0, nil
}
