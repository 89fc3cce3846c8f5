// Package ratelimit bounds OTP verification attempts per email address.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyNamespace = "otp_attempts"

// OTPLimiter counts verification attempts within a fixed window.
type OTPLimiter interface {
	// Allow reports whether key is still under the limit without counting an attempt.
	Allow(ctx context.Context, key string) (bool, error)
	// Reserve counts an attempt for key and reports whether it is within the
	// limit. Call it before evaluating the attempt.
	Reserve(ctx context.Context, key string) (bool, error)
	// Reset clears the counter after a successful verification.
	Reset(ctx context.Context, key string) error
}

// reserveScript increments the counter and opens the window in one step, so a
// counter never exists without a TTL.
var reserveScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisOTPLimiter stores counters in Redis so the limit holds across instances.
type RedisOTPLimiter struct {
	client      redis.UniversalClient
	maxAttempts int64
	window      time.Duration
}

func NewRedisOTPLimiter(client redis.UniversalClient, maxAttempts int, window time.Duration) *RedisOTPLimiter {
	return &RedisOTPLimiter{client: client, maxAttempts: int64(maxAttempts), window: window}
}

func (l *RedisOTPLimiter) Allow(ctx context.Context, key string) (bool, error) {
	cnt, err := l.client.Get(ctx, redisKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	return cnt < l.maxAttempts, nil
}

func (l *RedisOTPLimiter) Reserve(ctx context.Context, key string) (bool, error) {
	cnt, err := reserveScript.Run(ctx, l.client, []string{redisKey(key)}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}

	return cnt <= l.maxAttempts, nil
}

func (l *RedisOTPLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, redisKey(key)).Err()
}

func redisKey(key string) string {
	return keyNamespace + ":" + key
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// MemoryOTPLimiter keeps counters in process memory. Run RunCleanup alongside
// it so counters for addresses that are never retried get dropped.
type MemoryOTPLimiter struct {
	mu          sync.Mutex
	counters    map[string]*counter
	maxAttempts int64
	window      time.Duration
	now         func() time.Time
}

func NewMemoryOTPLimiter(maxAttempts int, window time.Duration) *MemoryOTPLimiter {
	return &MemoryOTPLimiter{
		counters:    make(map[string]*counter),
		maxAttempts: int64(maxAttempts),
		window:      window,
		now:         time.Now,
	}
}

func (l *MemoryOTPLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.current(key)
	return c == nil || c.count < l.maxAttempts, nil
}

func (l *MemoryOTPLimiter) Reserve(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.current(key)
	if c == nil {
		c = &counter{expiresAt: l.now().Add(l.window)}
		l.counters[key] = c
	}
	c.count++

	return c.count <= l.maxAttempts, nil
}

func (l *MemoryOTPLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.counters, key)
	return nil
}

// Prune drops every counter whose window has closed.
func (l *MemoryOTPLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, c := range l.counters {
		if !now.Before(c.expiresAt) {
			delete(l.counters, key)
		}
	}
}

// RunCleanup prunes expired counters every interval until ctx is done.
func (l *MemoryOTPLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}

// current returns the live counter for key, dropping it once expired.
func (l *MemoryOTPLimiter) current(key string) *counter {
	c, ok := l.counters[key]
	if !ok {
		return nil
	}
	if !l.now().Before(c.expiresAt) {
		delete(l.counters, key)
		return nil
	}
	return c
}
