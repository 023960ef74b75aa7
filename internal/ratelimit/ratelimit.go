// Package ratelimit throttles credential submissions per client.
//
// Limiters are token buckets: Burst attempts are allowed at once, then
// attempts refill at Rate per second. Memory keeps the buckets in process;
// Redis shares them between instances through a Lua script.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RejectMessage is shown when a client is throttled.
const RejectMessage = "Too many attempts, please try again later"

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

var (
	_ Limiter = (*Memory)(nil)
	_ Limiter = (*Redis)(nil)
)

// Memory holds one rate.Limiter per key. Buckets idle for longer than
// idleTTL are dropped by a sweep that runs at most once per sweepEvery.
type Memory struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	rate       rate.Limit
	burst      int
	idleTTL    time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemory(perSecond float64, burst int) *Memory {
	return &Memory{
		buckets: make(map[string]*bucket),
		rate:    rate.Limit(perSecond),
		burst:   burst,
		idleTTL:    10 * time.Minute,
		sweepEvery: time.Minute,
		now:        time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastSweep) >= m.sweepEvery {
		for k, b := range m.buckets {
			if now.Sub(b.lastSeen) > m.idleTTL {
				delete(m.buckets, k)
			}
		}
		m.lastSweep = now
	}

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(m.rate, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1), nil
}

var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local capacity = tonumber(ARGV[1])
	local rate = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local requested = tonumber(ARGV[4])

	local info = redis.call("HMGET", key, "tokens", "last_refill")
	local tokens = tonumber(info[1])
	local last_refill = tonumber(info[2])

	if tokens == nil then
		tokens = capacity
		last_refill = now
	end

	local delta = math.max(0, now - last_refill)
	local filled = math.min(capacity, tokens + (delta / 1000 * rate))

	local allowed = 0
	if filled >= requested then
		filled = filled - requested
		allowed = 1
	end
	redis.call("HSET", key, "tokens", filled, "last_refill", now)
	redis.call("EXPIRE", key, math.ceil(capacity / rate) * 2)

	return allowed
`)

// Redis runs the token bucket inside Redis so every instance sees the same
// counts. Keys are "rate_limit:<key>".
type Redis struct {
	rdb      *redis.Client
	capacity int
	rate     float64
	now      func() time.Time
}

func NewRedis(rdb *redis.Client, perSecond float64, burst int) *Redis {
	return &Redis{rdb: rdb, capacity: burst, rate: perSecond, now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	keys := []string{"rate_limit:" + key}
	args := []interface{}{r.capacity, r.rate, r.now().UnixMilli(), 1}

	res, err := tokenBucketScript.Run(ctx, r.rdb, keys, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit: running token bucket: %w", err)
	}
	return res == 1, nil
}

// Middleware limits requests per client IP. Throttled requests are handed
// to onLimit. Limiter errors are logged and the request is let through.
func Middleware(l Limiter, onLimit http.HandlerFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 200*time.Millisecond)
			defer cancel()

			key := r.URL.Path + ":" + clientIP(r)
			allowed, err := l.Allow(ctx, key)
			if err != nil {
				logger.Warn("rate limiter unavailable", slog.String("key", key), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.Info("request throttled", slog.String("key", key))
				onLimit(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. Forwarded headers are never
// read here; when the server trusts its proxy, chi's RealIP has already
// rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
