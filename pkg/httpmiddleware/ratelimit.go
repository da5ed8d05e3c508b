package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	// Max requests per Window.
	Max int
	// Window length of the sliding window.
	Window time.Duration
	// KeyFunc derives the limiter key from a request. Nil means client IP.
	KeyFunc func(*http.Request) string
	// Exempt requests bypass the limiter entirely. Nil exempts nothing.
	Exempt func(*http.Request) bool
}

// bucket counts requests in the current window and remembers the previous
// window's count for sliding-window weighting.
type bucket struct {
	start time.Time
	count int
	prev  int
}

type limiter struct {
	max     int
	window  time.Duration
	keyFunc func(*http.Request) string

	mu      sync.Mutex
	buckets map[string]*bucket
}

// take records one request for key and reports whether it fits the limit,
// along with the remaining allowance and when the current window resets.
func (l *limiter) take(key string, now time.Time) (allowed bool, remaining int, resetAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[key]
	if b == nil {
		b = &bucket{start: now}
		l.buckets[key] = b
	}

	if age := now.Sub(b.start); age >= l.window {
		if age >= 2*l.window {
			b.prev = 0
		} else {
			b.prev = b.count
		}
		b.count = 0
		b.start = now.Truncate(l.window)
	}

	// Weight the previous window by its remaining overlap with the sliding
	// window ending now.
	overlap := 1 - now.Sub(b.start).Seconds()/l.window.Seconds()
	if overlap < 0 {
		overlap = 0
	}
	used := float64(b.prev)*overlap + float64(b.count)
	resetAt = b.start.Add(l.window)

	// The incoming request itself counts toward the window.
	if used+1 > float64(l.max) {
		return false, 0, resetAt
	}

	b.count++
	remaining = int(float64(l.max) - used - 1)
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, resetAt
}

// sweep drops buckets idle for two full windows.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.start) >= 2*l.window {
			delete(l.buckets, key)
		}
	}
}

// RateLimit enforces a sliding window limit per client. It rejects excess
// requests with 429 and stamps X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset on every response. A background sweeper evicts idle
// clients until ctx is cancelled.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := &limiter{
		max:     cfg.Max,
		window:  cfg.Window,
		keyFunc: cfg.KeyFunc,
		buckets: make(map[string]*bucket),
	}
	if l.keyFunc == nil {
		l.keyFunc = clientIP
	}

	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Exempt != nil && cfg.Exempt(r) {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetAt := l.take(l.keyFunc(r), time.Now())

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				retryAfter := math.Ceil(time.Until(resetAt).Seconds())
				if retryAfter < 0 {
					retryAfter = 0
				}
				h.Set("Retry-After", strconv.Itoa(int(retryAfter)))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers proxy headers over the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(ip)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
