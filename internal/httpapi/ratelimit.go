package httpapi

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a token bucket per client IP. Buckets refill on access, so
// no sweeper is needed; an idle bucket just sits full.
type rateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	limit    int
	interval time.Duration
	now      func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

func newRateLimiter(limit int, interval time.Duration) *rateLimiter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &rateLimiter{
		buckets:  make(map[string]*bucket),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.limit), lastSeen: now}
		rl.buckets[key] = b
	}
	refill := now.Sub(b.lastSeen).Seconds() * float64(rl.limit) / rl.interval.Seconds()
	b.tokens += refill
	if b.tokens > float64(rl.limit) {
		b.tokens = float64(rl.limit)
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
