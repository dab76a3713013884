package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/livepage/livepage/internal/httputil"
)

const idleVisitorTTL = 10 * time.Minute

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(r *http.Request) string

type visitor struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter is a token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     float64
	burst    float64
	key      KeyFunc
	now      func() time.Time
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		visitors: make(map[string]*visitor),
		rate:     requestsPerSecond,
		burst:    float64(burst),
		key:      httputil.ClientIP,
		now:      time.Now,
	}
}

// WithKey charges requests to the bucket returned by fn instead of the client IP.
func (l *Limiter) WithKey(fn KeyFunc) *Limiter {
	l.key = fn
	return l
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, exists := l.visitors[key]
	if !exists {
		l.visitors[key] = &visitor{tokens: l.burst - 1, lastSeen: now}
		return true
	}

	v.tokens += now.Sub(v.lastSeen).Seconds() * l.rate
	v.lastSeen = now
	if v.tokens > l.burst {
		v.tokens = l.burst
	}

	if v.tokens < 1 {
		return false
	}

	v.tokens--
	return true
}

func (l *Limiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	now := l.now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > idleVisitorTTL {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// StartCleanupLoop drops idle buckets every interval until ctx is done.
func (l *Limiter) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.sweep()
			}
		}
	}()
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.key(r)) {
			w.Header().Set("Retry-After", "10")
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
