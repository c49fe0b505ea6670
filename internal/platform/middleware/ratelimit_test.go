package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimitWithRetryAfter(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	_ = handler(e.NewContext(req, httptest.NewRecorder()))

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	err := handler(e.NewContext(req, rec))

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	retry, parseErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if parseErr != nil || retry < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0")
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	send := func(ip string) error {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = ip + ":1234"
		return handler(e.NewContext(req, httptest.NewRecorder()))
	}

	if err := send("10.0.0.1"); err != nil {
		t.Fatalf("client a first request: %v", err)
	}
	if err := send("10.0.0.2"); err != nil {
		t.Fatalf("client b should have its own bucket: %v", err)
	}
	if err := send("10.0.0.1"); err == nil {
		t.Fatal("expected client a to be limited")
	}
}

func TestRateLimit_SessionIDDoesNotSplitBucket(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1}))
	e.GET("/sessions/:id/metrics", okHandler)

	limited := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/sessions/fake-"+strconv.Itoa(i)+"/metrics", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited < 48 {
		t.Errorf("expected varying ids to share one bucket, only %d of 50 limited", limited)
	}
}

func TestRateLimiterStore_EvictsIdleBuckets(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 10, IdleTTL: time.Minute})
	start := time.Now()

	for i := 0; i < 100; i++ {
		store.getBucket("10.0.1."+strconv.Itoa(i), start)
	}
	if got := store.size(); got != 100 {
		t.Fatalf("expected 100 buckets, got %d", got)
	}

	// one active client keeps its bucket across the sweep
	store.getBucket("10.0.1.7", start.Add(30*time.Second)).allow(start.Add(30 * time.Second))
	store.getBucket("10.0.2.1", start.Add(61*time.Second))

	if got := store.size(); got != 2 {
		t.Errorf("expected idle buckets swept, %d remain", got)
	}
}

func TestRateLimiterStore_TTLCoversRefill(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 600, IdleTTL: time.Minute})
	if store.ttl != 10*time.Minute {
		t.Errorf("expected ttl stretched to the refill time, got %v", store.ttl)
	}
}

func TestTokenBucket_Refills(t *testing.T) {
	b := newTokenBucket(10, 1)
	now := time.Now()
	if !b.allow(now) {
		t.Fatal("expected first token")
	}
	if b.allow(now) {
		t.Fatal("expected bucket to be empty")
	}
	if !b.allow(now.Add(150 * time.Millisecond)) {
		t.Fatal("expected refill after 150ms at 10 rps")
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1)
	if got := b.retryAfter(); got != 1 {
		t.Errorf("expected retryAfter 1, got %d", got)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 || cfg.IdleTTL != 5*time.Minute {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
