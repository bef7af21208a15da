// Package limiter enforces the per-user operation budget. The counter for
// the current wall-clock minute lives in the shared cache; when the cache
// is unreachable the check degrades to a process-local bounded registry so
// a cache outage never opens the floodgates.
package limiter

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/cache"
	"github.com/driftlab/driftchat/internal/registry"
)

// ErrLimitExceeded is returned once a user exhausts the window budget.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter counts operations per user per fixed window.
type Limiter struct {
	cache  cache.Cache
	window time.Duration
	max    int
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	fallback *registry.Bounded[string, int]
}

// New creates a limiter with the given window and per-window maximum.
// bucketCap bounds the in-process fallback registry.
func New(c cache.Cache, window time.Duration, max, bucketCap int, log *zap.Logger) *Limiter {
	return &Limiter{
		cache:    c,
		window:   window,
		max:      max,
		log:      log,
		now:      time.Now,
		fallback: registry.NewBounded[string, int](bucketCap),
	}
}

// SetClock overrides the time source for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Check counts one operation for userID and returns ErrLimitExceeded when
// the post-increment count is over the maximum.
func (l *Limiter) Check(ctx context.Context, userID string) error {
	window := l.now().UnixMilli() / l.window.Milliseconds()
	key := cache.RateKey(userID, window)

	count, err := l.cache.Incr(ctx, key, l.window)
	if err != nil {
		l.log.Warn("rate cache unavailable, using local counter",
			zap.String("userId", userID), zap.Error(err))
		count = l.incrLocal(key)
	}

	if count > int64(l.max) {
		return ErrLimitExceeded
	}
	return nil
}

func (l *Limiter) incrLocal(key string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	n, _ := l.fallback.Get(key)
	n++
	l.fallback.Put(key, n)
	return int64(n)
}

// Sweep drops local buckets older than maxAge. The janitor calls this.
func (l *Limiter) Sweep(maxAge time.Duration) int {
	cutoff := (l.now().Add(-maxAge).UnixMilli()) / l.window.Milliseconds()

	var stale []string
	l.fallback.Range(func(key string, _ int) bool {
		if windowOf(key) < cutoff {
			stale = append(stale, key)
		}
		return true
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range stale {
		l.fallback.Delete(key)
	}
	return len(stale)
}

// Clear empties the local fallback registry (memory-pressure response).
func (l *Limiter) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fallback.Clear()
}

// LocalLen reports the fallback registry size.
func (l *Limiter) LocalLen() int { return l.fallback.Len() }

func windowOf(key string) int64 {
	idx := strings.LastIndexByte(key, ':')
	if idx < 0 {
		return 0
	}
	n, _ := strconv.ParseInt(key[idx+1:], 10, 64)
	return n
}
