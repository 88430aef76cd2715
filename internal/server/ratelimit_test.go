package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRequest(xff, realIP, remoteAddr string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if xff != "" {
		r.Header.Set("X-Forwarded-For", xff)
	}
	if realIP != "" {
		r.Header.Set("X-Real-IP", realIP)
	}
	r.RemoteAddr = remoteAddr
	return r
}

func TestTokenBucketExhaustion(t *testing.T) {
	bucket := newTokenBucket(1, 2)
	if !bucket.Allow() || !bucket.Allow() {
		t.Fatal("expected burst capacity to allow two requests")
	}
	if bucket.Allow() {
		t.Fatal("expected bucket to be exhausted")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	bucket := newTokenBucket(100, 1)
	if !bucket.Allow() {
		t.Fatal("expected first request to pass")
	}
	if bucket.Allow() {
		t.Fatal("expected bucket to be empty")
	}
	time.Sleep(20 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatal("expected bucket to refill")
	}
}

func TestRateLimiterDisabledByDefault(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		if !rl.AllowRequest() {
			t.Fatal("expected unlimited requests without a global limit")
		}
	}
	allowed, _, err := rl.AllowLogin("203.0.113.9")
	if err != nil || !allowed {
		t.Fatalf("expected unlimited logins without a login limit, got allowed=%v err=%v", allowed, err)
	}
}

func TestRateLimiterPerAddressLoginBudget(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{LoginLimit: 2, LoginWindow: time.Hour})

	for i := 0; i < 2; i++ {
		allowed, _, err := rl.AllowLogin("203.0.113.9")
		if err != nil {
			t.Fatalf("AllowLogin returned error: %v", err)
		}
		if !allowed {
			t.Fatalf("attempt %d: expected to be allowed", i)
		}
	}
	allowed, retryAfter, err := rl.AllowLogin("203.0.113.9")
	if err != nil {
		t.Fatalf("AllowLogin returned error: %v", err)
	}
	if allowed {
		t.Fatal("expected third attempt to be throttled")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a retry-after hint")
	}

	// Another address is unaffected.
	if allowed, _, _ := rl.AllowLogin("198.51.100.7"); !allowed {
		t.Fatal("expected other address to keep its budget")
	}
}

func TestRateLimiterGlobalLimit(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{GlobalRPS: 1, GlobalBurst: 1})
	if !rl.AllowRequest() {
		t.Fatal("expected first request to pass")
	}
	if rl.AllowRequest() {
		t.Fatal("expected second request to be throttled")
	}
}

func TestExtractClientIP(t *testing.T) {
	cases := []struct {
		name       string
		xff        string
		realIP     string
		remoteAddr string
		want       string
	}{
		{name: "forwarded chain", xff: "203.0.113.9, 10.0.0.1", remoteAddr: "10.0.0.2:80", want: "203.0.113.9"},
		{name: "real ip", realIP: "203.0.113.9", remoteAddr: "10.0.0.2:80", want: "203.0.113.9"},
		{name: "remote addr", remoteAddr: "203.0.113.9:443", want: "203.0.113.9"},
		{name: "remote addr without port", remoteAddr: "203.0.113.9", want: "203.0.113.9"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRequest(tc.xff, tc.realIP, tc.remoteAddr)
			if got := extractClientIP(r); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
