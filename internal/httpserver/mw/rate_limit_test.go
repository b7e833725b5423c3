package mw

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrSnakeDoc/pokefav/internal/logger"
)

func TestMemoryLimiterRefill(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{Burst: 2, RefillPerIPPerMin: 60})
	ctx := context.Background()
	now := time.Now()

	for i, wantRemaining := range []int{1, 0} {
		ok, remaining, _, err := l.Allow(ctx, "1.2.3.4", now)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v, want allowed", i, ok, err)
		}
		if remaining != wantRemaining {
			t.Errorf("request %d: remaining = %d, want %d", i, remaining, wantRemaining)
		}
	}

	ok, _, retry, _ := l.Allow(ctx, "1.2.3.4", now)
	if ok {
		t.Fatal("third request should be limited")
	}
	if retry != 1 {
		t.Errorf("retryAfter = %d, want 1", retry)
	}

	if ok, _, _, _ := l.Allow(ctx, "5.6.7.8", now); !ok {
		t.Error("another client should have its own bucket")
	}

	// one token per second at 60/min
	if ok, _, _, _ := l.Allow(ctx, "1.2.3.4", now.Add(time.Second)); !ok {
		t.Error("request after refill should be allowed")
	}
}

func TestMemoryLimiterSweepsIdleBuckets(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{Burst: 1, RefillPerIPPerMin: 1, SweepInterval: time.Minute, IdleTTL: time.Minute})
	now := time.Now()

	_, _, _, _ = l.Allow(context.Background(), "a", now)
	_, _, _, _ = l.Allow(context.Background(), "b", now.Add(2*time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.buckets["a"]; ok {
		t.Error("idle bucket should have been swept")
	}
	if _, ok := l.buckets["b"]; !ok {
		t.Error("active bucket should be kept")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, time.Time) (bool, int, int, error) {
	return false, 0, 0, errors.New("redis: connection refused")
}

func (failingLimiter) Limit() int { return 5 }

func TestRateLimitFailsOpen(t *testing.T) {
	called := false
	h := RateLimit(failingLimiter{}, false, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/favorites?user=ash", nil))

	if !called || rec.Code != http.StatusOK {
		t.Errorf("limiter error should let the request through, got status %d", rec.Code)
	}
}

func TestRateLimitRejects(t *testing.T) {
	l := NewMemoryLimiter(RateLimitConfig{Burst: 1, RefillPerIPPerMin: 1})
	h := RateLimit(l, true, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("203.0.113.1"); rec.Code != http.StatusOK || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("first request: status %d remaining %q", rec.Code, rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec := send("203.0.113.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}

	if rec := send("203.0.113.2"); rec.Code != http.StatusOK {
		t.Errorf("forwarded client should be limited separately, got %d", rec.Code)
	}
}
