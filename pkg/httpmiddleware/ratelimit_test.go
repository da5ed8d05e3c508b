package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitRejectsOverMax(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{Max: 3, Window: time.Minute})(okHandler())

	for i := 0; i < 3; i++ {
		rec := hit(h, "10.0.0.1")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := hit(h, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, rec.Body.String())
}

func TestRateLimitHeaders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{Max: 5, Window: time.Minute})(okHandler())

	rec := hit(h, "10.0.0.2")
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimitKeysAreIndependent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{Max: 1, Window: time.Minute})(okHandler())

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.3").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.3").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.4").Code)
}

func TestRateLimitCustomKeyFunc(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		KeyFunc: func(r *http.Request) string {
			return r.Header.Get("api_key")
		},
	})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("api_key", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitExempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := RateLimit(ctx, RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		Exempt: func(r *http.Request) bool { return r.URL.Path == "/readyz" },
	})(okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		req.RemoteAddr = "10.0.0.5:1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.5").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.5").Code)
}

func TestTakeSlidingWindow(t *testing.T) {
	l := &limiter{max: 10, window: time.Minute, buckets: make(map[string]*bucket)}
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Fill the first window.
	for i := 0; i < 10; i++ {
		allowed, _, _ := l.take("k", base.Add(time.Duration(i)*time.Second))
		require.True(t, allowed)
	}
	allowed, _, _ := l.take("k", base.Add(30*time.Second))
	assert.False(t, allowed)

	// Early in the next window the previous one still weighs in.
	allowed, _, _ = l.take("k", base.Add(61*time.Second))
	assert.False(t, allowed, "previous window still near fully weighted")

	// Far enough in, the weighted count decays below the limit.
	allowed, _, _ = l.take("k", base.Add(110*time.Second))
	assert.True(t, allowed)

	// Two idle windows clear all history.
	allowed, remaining, _ := l.take("k", base.Add(5*time.Minute))
	assert.True(t, allowed)
	assert.Equal(t, 9, remaining)
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	l := &limiter{max: 1, window: time.Minute, buckets: make(map[string]*bucket)}
	base := time.Now()

	l.take("stale", base)
	l.take("fresh", base.Add(2*time.Minute))
	l.sweep(base.Add(2 * time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "stale")
	assert.Contains(t, l.buckets, "fresh")
}

func TestClientIPExtraction(t *testing.T) {
	cases := []struct {
		name string
		set  func(r *http.Request)
		want string
	}{
		{"remote addr", func(r *http.Request) {}, "192.0.2.1"},
		{"x-forwarded-for single", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.7")
		}, "203.0.113.7"},
		{"x-forwarded-for chain", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		}, "203.0.113.7"},
		{"x-real-ip", func(r *http.Request) {
			r.Header.Set("X-Real-IP", "198.51.100.9")
		}, "198.51.100.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tc.set(req)
			assert.Equal(t, tc.want, clientIP(req))
		})
	}
}
