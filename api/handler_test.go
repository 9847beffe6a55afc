package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KanavDutta/windowfence/metrics"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
	"github.com/KanavDutta/windowfence/store"
)

var epoch = time.Unix(1_700_000_000, 0)

type testServer struct {
	router   http.Handler
	throttle *windowfence.Throttle
	clock    *windowfence.ManualClock
	metrics  *metrics.Metrics
	mirror   *store.MemoryMirror
}

func newTestServer(t *testing.T, quota int) *testServer {
	t.Helper()
	clock := windowfence.NewManualClock(epoch)
	throttle, err := windowfence.NewThrottle(quota, time.Minute, windowfence.WithClock(clock))
	require.NoError(t, err)

	m := metrics.New(clock)
	mirror := store.NewMemoryMirror(clock)
	h := NewHandler(throttle, m, mirror, nil)

	return &testServer{
		router:   NewRouter(RouterConfig{Handler: h, Metrics: m, Version: "test"}),
		throttle: throttle,
		clock:    clock,
		metrics:  m,
		mirror:   mirror,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) check(t *testing.T, identity string) (*httptest.ResponseRecorder, CheckResponse) {
	t.Helper()
	body, err := json.Marshal(CheckRequest{Identity: identity})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/check", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp CheckResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return w, resp
}

func TestCheck_AllowsRequests(t *testing.T) {
	s := newTestServer(t, 3)

	w, resp := s.check(t, "user-A")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Allowed)
	assert.Equal(t, 2, resp.Remaining)
	assert.Equal(t, 3, resp.Limit)
	assert.Equal(t, epoch.Add(time.Minute).Unix(), resp.ResetAt)
	assert.Zero(t, resp.RetryAfterSeconds)
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
}

func TestCheck_BlocksWhenExceeded(t *testing.T) {
	s := newTestServer(t, 3)

	for i := 0; i < 3; i++ {
		w, _ := s.check(t, "user-A")
		require.Equal(t, http.StatusOK, w.Code)
	}
	s.clock.Advance(20 * time.Second)

	w, resp := s.check(t, "user-A")

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, resp.Allowed)
	assert.Zero(t, resp.Remaining)
	assert.Equal(t, int64(40), resp.RetryAfterSeconds)

	// Other identities are independent
	w, resp = s.check(t, "user-B")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Allowed)
}

func TestCheck_WindowResets(t *testing.T) {
	s := newTestServer(t, 1)

	s.check(t, "user-A")
	s.clock.Advance(time.Minute)
	w, _ := s.check(t, "user-A")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "exactly one window later still belongs to the old window")

	s.clock.Advance(time.Nanosecond)
	w, resp := s.check(t, "user-A")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Remaining)
}

func TestCheck_InvalidJSON(t *testing.T) {
	s := newTestServer(t, 3)

	w := s.do(t, http.MethodPost, "/check", "{not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "invalid_request", resp.Error)
	assert.Zero(t, s.throttle.Count())
}

func TestCheck_EmptyIdentity(t *testing.T) {
	s := newTestServer(t, 1)

	w := s.do(t, http.MethodPost, "/check", "{}")
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodPost, "/check", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "empty body counts against the empty identity")
}

func TestCheck_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, 3)

	w := s.do(t, http.MethodGet, "/check", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCheck_RecordsMetricsAndMirror(t *testing.T) {
	s := newTestServer(t, 1)

	s.check(t, "user-A")
	s.check(t, "user-A")

	snap := s.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, int64(1), snap.Denied)

	rec, ok, err := s.mirror.Get(context.Background(), "user-A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, rec.Count)
	assert.True(t, rec.ResetAt.Equal(epoch.Add(time.Minute)))
}

func TestGetIdentity(t *testing.T) {
	s := newTestServer(t, 3)

	w := s.do(t, http.MethodGet, "/identities/user-A", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.check(t, "user-A")
	s.check(t, "user-A")

	w = s.do(t, http.MethodGet, "/identities/user-A", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp IdentityResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "user-A", resp.Identity)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 1, resp.Remaining)
	assert.False(t, resp.Expired)

	// Peeking does not count
	state, _ := s.throttle.Peek("user-A")
	assert.Equal(t, 2, state.Count)

	s.clock.Advance(2 * time.Minute)
	w = s.do(t, http.MethodGet, "/identities/user-A", "")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Expired)
}

func TestResetIdentity(t *testing.T) {
	s := newTestServer(t, 1)

	s.check(t, "user-A")
	w, _ := s.check(t, "user-A")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	w = s.do(t, http.MethodDelete, "/identities/user-A", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Removed)

	_, ok, _ := s.mirror.Get(context.Background(), "user-A")
	assert.False(t, ok, "reset should remove the mirrored record")

	w, _ = s.check(t, "user-A")
	assert.Equal(t, http.StatusOK, w.Code)

	// Unknown identity
	w = s.do(t, http.MethodDelete, "/identities/nobody", "")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Zero(t, resp.Removed)
}

func TestIdentity_EscapedSlash(t *testing.T) {
	s := newTestServer(t, 3)
	identity := "bearer:abc/def+=="
	path := "/identities/" + url.PathEscape(identity)

	s.check(t, identity)
	s.check(t, identity)

	w := s.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp IdentityResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, identity, resp.Identity)
	assert.Equal(t, 2, resp.Count)

	w = s.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, w.Code)
	var reset ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reset))
	assert.Equal(t, 1, reset.Removed)
	assert.Zero(t, s.throttle.Count())
}

func TestIdentity_InvalidEscape(t *testing.T) {
	s := newTestServer(t, 3)

	// Routing follows the escaped path, whose %zz cannot be decoded.
	req := httptest.NewRequest(http.MethodGet, "/identities/x", nil)
	req.URL.Path = "/identities/a/b%zz"
	req.URL.RawPath = "/identities/a%2Fb%zz"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetIdentity_TrailingSlashIsEmptyIdentity(t *testing.T) {
	s := newTestServer(t, 3)

	for _, id := range []string{"a", "b", ""} {
		s.check(t, id)
	}

	w := s.do(t, http.MethodGet, "/identities/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp IdentityResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "", resp.Identity)
	assert.Equal(t, 1, resp.Count)

	w = s.do(t, http.MethodDelete, "/identities/", "")
	require.Equal(t, http.StatusOK, w.Code)
	var reset ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&reset))
	assert.Equal(t, 1, reset.Removed, "trailing slash must reset only the empty identity")
	assert.Equal(t, 2, s.throttle.Count())

	_, ok := s.throttle.Peek("")
	assert.False(t, ok)
	_, ok = s.throttle.Peek("a")
	assert.True(t, ok)
}

func TestResetAll(t *testing.T) {
	s := newTestServer(t, 1)

	for _, id := range []string{"a", "b", "c"} {
		s.check(t, id)
	}

	w := s.do(t, http.MethodDelete, "/identities", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp ResetResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Removed)
	assert.Zero(t, s.throttle.Count())

	n, err := s.mirror.Clear(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "mirror should already be empty")
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 1)
	s.check(t, "user-A")
	s.check(t, "user-A")

	w := s.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, int64(2), snap.Total)
	assert.Equal(t, 0.5, snap.DenyRate)
	require.Len(t, snap.TopIdentities, 1)
	assert.Equal(t, "user-A", snap.TopIdentities[0].Identity)
}

func TestHealthAndDashboard(t *testing.T) {
	s := newTestServer(t, 1)
	s.check(t, "user-A")

	w := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.EqualValues(t, 1, health["identities"])

	w = s.do(t, http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
}

func TestRequestID_Propagated(t *testing.T) {
	s := newTestServer(t, 1)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}
