package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowCapPerWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("Request %d should be admitted", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("Fourth request in the window should be denied")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("Other IPs have their own window")
	}
}

func TestWindowResets(t *testing.T) {
	rl := NewRateLimiter(1, 50*time.Millisecond)

	if !rl.Allow("1.2.3.4") {
		t.Fatal("First request should be admitted")
	}
	if rl.Allow("1.2.3.4") {
		t.Fatal("Second request should be denied")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow("1.2.3.4") {
		t.Error("Request after window expiry should be admitted")
	}
}

func TestEvictRemovesExpired(t *testing.T) {
	rl := NewRateLimiter(10, 10*time.Millisecond)

	rl.Allow("1.2.3.4")
	time.Sleep(20 * time.Millisecond)
	rl.evict(time.Now())

	rl.mu.Lock()
	n := len(rl.windows)
	rl.mu.Unlock()
	if n != 0 {
		t.Errorf("Expected empty window map after eviction, got %d", n)
	}
}

func TestClientIPResolution(t *testing.T) {
	cases := []struct {
		name       string
		xff        string
		cfIP       string
		remoteAddr string
		want       string
	}{
		{"forwarded first entry", "9.9.9.9, 10.0.0.1", "", "127.0.0.1:1234", "9.9.9.9"},
		{"forwarded trimmed", "  9.9.9.9  ", "", "127.0.0.1:1234", "9.9.9.9"},
		{"cloudflare header", "", "8.8.8.8", "127.0.0.1:1234", "8.8.8.8"},
		{"socket peer", "", "", "192.168.1.5:5555", "192.168.1.5"},
		{"bare peer", "", "", "192.168.1.5", "192.168.1.5"},
		{"nothing", "", "", "", "unknown"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/webhook/x", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.cfIP != "" {
				r.Header.Set("CF-Connecting-IP", tc.cfIP)
			}
			if got := ClientIP(r); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	handler := RateLimit(rl)(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest("POST", "/webhook/x", nil)
		r.RemoteAddr = "1.2.3.4:999"
		handler(rec, r)
		if rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/webhook/x", nil)
	r.RemoteAddr = "1.2.3.4:999"
	handler(rec, r)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Error("Expected Retry-After header")
	}
}
