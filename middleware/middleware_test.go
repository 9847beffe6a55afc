package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

var epoch = time.Unix(1_700_000_000, 0)

func newTestLimiter(t *testing.T, quota int, config Config) (*Limiter, *windowfence.ManualClock) {
	t.Helper()
	clock := windowfence.NewManualClock(epoch)
	throttle, err := windowfence.NewThrottle(quota, time.Minute, windowfence.WithClock(clock))
	if err != nil {
		t.Fatalf("NewThrottle() failed: %v", err)
	}
	limiter, err := New(throttle, config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return limiter, clock
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("success"))
})

func serve(h http.Handler, remoteAddr string, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type recorderFunc func(identity string, allowed bool)

func (f recorderFunc) RecordDecision(identity string, allowed bool) { f(identity, allowed) }

func TestNew_RequiresThrottle(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("New(nil) expected error, got nil")
	}
}

func TestMiddleware_AllowedRequest(t *testing.T) {
	limiter, _ := newTestLimiter(t, 5, Config{})
	handler := limiter.Middleware(okHandler)

	rr := serve(handler, "192.168.1.1:12345", nil)

	if rr.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %s, want 5", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %s, want 4", got)
	}
	wantReset := strconv.FormatInt(epoch.Add(time.Minute).Unix(), 10)
	if got := rr.Header().Get("X-RateLimit-Reset"); got != wantReset {
		t.Errorf("X-RateLimit-Reset = %s, want %s", got, wantReset)
	}
	if rr.Header().Get("Retry-After") != "" {
		t.Error("Retry-After should not be set on admitted requests")
	}
	if rr.Body.String() != "success" {
		t.Errorf("body = %s, want success", rr.Body.String())
	}
}

func TestMiddleware_RateLimited(t *testing.T) {
	limiter, clock := newTestLimiter(t, 3, Config{})
	handler := limiter.Middleware(okHandler)

	for i := 0; i < 3; i++ {
		if rr := serve(handler, "192.168.1.1:12345", nil); rr.Code != http.StatusOK {
			t.Errorf("request %d: status code = %d, want %d", i+1, rr.Code, http.StatusOK)
		}
		clock.Advance(time.Second)
	}

	rr := serve(handler, "192.168.1.1:12345", nil)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %s, want 0", got)
	}
	// 3s into a 60s window
	if got := rr.Header().Get("Retry-After"); got != "57" {
		t.Errorf("Retry-After = %s, want 57", got)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}

	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "rate_limit_exceeded" {
		t.Errorf("error = %s, want rate_limit_exceeded", body.Error)
	}
	if body.RetryAfterSeconds != 57 {
		t.Errorf("retry_after_seconds = %d, want 57", body.RetryAfterSeconds)
	}

	// New window after it elapses
	clock.Advance(58 * time.Second)
	if rr := serve(handler, "192.168.1.1:12345", nil); rr.Code != http.StatusOK {
		t.Errorf("after window: status code = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	clock := windowfence.NewManualClock(epoch)
	tests := []struct {
		name    string
		resetAt time.Time
		want    int64
	}{
		{"whole seconds", epoch.Add(30 * time.Second), 30},
		{"rounds up", epoch.Add(1500 * time.Millisecond), 2},
		{"sub-second is one", epoch.Add(10 * time.Millisecond), 1},
		{"already past", epoch.Add(-time.Second), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RetryAfterSeconds(windowfence.Decision{ResetAt: tt.resetAt}, clock)
			if got != tt.want {
				t.Errorf("RetryAfterSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMiddleware_DifferentIPs(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, Config{})
	handler := limiter.Middleware(okHandler)

	for i := 0; i < 2; i++ {
		serve(handler, "192.168.1.1:12345", nil)
	}
	if rr := serve(handler, "192.168.1.1:12345", nil); rr.Code != http.StatusTooManyRequests {
		t.Errorf("IP1 third request: status code = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr := serve(handler, "192.168.1.2:12345", nil); rr.Code != http.StatusOK {
		t.Errorf("IP2 first request: status code = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestMiddleware_WithAPIKey(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, Config{KeyFunc: ExtractHeader("X-API-Key")})
	handler := limiter.Middleware(okHandler)

	// Same key from different addresses shares one window
	if rr := serve(handler, "10.0.0.1:1", map[string]string{"X-API-Key": "key-a"}); rr.Code != http.StatusOK {
		t.Errorf("first request: status code = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr := serve(handler, "10.0.0.2:1", map[string]string{"X-API-Key": "key-a"}); rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request: status code = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr := serve(handler, "10.0.0.1:1", map[string]string{"X-API-Key": "key-b"}); rr.Code != http.StatusOK {
		t.Errorf("other key: status code = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestMiddleware_MissingAPIKey(t *testing.T) {
	var called bool
	limiter, _ := newTestLimiter(t, 5, Config{KeyFunc: ExtractHeader("X-API-Key")})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := serve(handler, "10.0.0.1:1", nil)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("handler should not run without an identity")
	}
	if limiter.throttle.Count() != 0 {
		t.Errorf("throttle tracked %d identities, want 0", limiter.throttle.Count())
	}
}

func TestMiddleware_Recorder(t *testing.T) {
	var allowed, denied int
	rec := recorderFunc(func(identity string, ok bool) {
		if identity != "global" {
			t.Errorf("recorded identity = %q, want global", identity)
		}
		if ok {
			allowed++
		} else {
			denied++
		}
	})

	limiter, _ := newTestLimiter(t, 2, Config{KeyFunc: ExtractStatic("global"), Recorder: rec})
	handler := limiter.Handler(okHandler)

	for i := 0; i < 5; i++ {
		serve(handler, fmt.Sprintf("10.0.0.%d:1", i), nil)
	}

	if allowed != 2 || denied != 3 {
		t.Errorf("recorded allowed=%d denied=%d, want 2 and 3", allowed, denied)
	}
}

func TestMiddleware_Concurrent(t *testing.T) {
	const quota, requests = 10, 50

	limiter, _ := newTestLimiter(t, quota, Config{})
	var served atomic.Int64
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		served.Add(1)
	}))

	var wg sync.WaitGroup
	var limited atomic.Int64
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rr := serve(handler, "192.168.1.1:12345", nil); rr.Code == http.StatusTooManyRequests {
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	if served.Load() != quota {
		t.Errorf("served %d requests, want %d", served.Load(), quota)
	}
	if limited.Load() != requests-quota {
		t.Errorf("limited %d requests, want %d", limited.Load(), requests-quota)
	}
}
