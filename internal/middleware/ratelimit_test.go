package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    3,
		LoginRate:       rate.Limit(1),
		LoginBurst:      2,
		CleanupInterval: time.Hour,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doLimitedRequest(handler http.Handler, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_GeneralBurstThenRejection(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		if code := doLimitedRequest(handler, "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200 within burst", i+1, code)
		}
	}

	if code := doLimitedRequest(handler, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429 after burst exhausted", code)
	}
}

func TestRateLimiter_IPsAreIsolated(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 4; i++ {
		doLimitedRequest(handler, "10.0.0.1:1234")
	}

	// 別IPはバーストを消費していない
	if code := doLimitedRequest(handler, "10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a fresh IP", code)
	}

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
}

func TestRateLimiter_LoginTierIsIndependent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	general := rl.GeneralMiddleware()(okHandler())
	login := rl.LoginMiddleware()(okHandler())

	// ログイン枠を使い切る
	doLimitedRequest(login, "10.0.0.1:1234")
	doLimitedRequest(login, "10.0.0.1:1234")
	if code := doLimitedRequest(login, "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after login burst exhausted", code)
	}

	// API全般の枠には影響しない
	if code := doLimitedRequest(general, "10.0.0.1:1234"); code != http.StatusOK {
		t.Errorf("status = %d, want 200 on the general tier", code)
	}
}

func TestRateLimiter_RejectionResponseShape(t *testing.T) {
	config := testRateLimiterConfig()
	config.GeneralBurst = 1
	rl := NewRateLimiter(config)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler())
	doLimitedRequest(handler, "10.0.0.1:1234")

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 response should carry a Retry-After header")
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.10:54321", "192.168.1.10"},
		{"[::1]:54321", "::1"},
		{"no-port", "no-port"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}
