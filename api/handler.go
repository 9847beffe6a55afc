// Package api exposes a Throttle over HTTP: decisions for remote callers plus admin endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/KanavDutta/windowfence/middleware"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
	"github.com/KanavDutta/windowfence/store"
)

// mirrorTimeout bounds each write to the mirror.
const mirrorTimeout = 2 * time.Second

// MetricsRecorder defines the interface for recording metrics
type MetricsRecorder interface {
	RecordDecision(identity string, allowed bool)
}

// Handler serves check and admin requests against one Throttle.
type Handler struct {
	throttle *windowfence.Throttle
	metrics  MetricsRecorder
	mirror   store.Mirror
	logger   *zap.Logger
}

// NewHandler creates a new API handler. metrics and mirror may be nil.
func NewHandler(throttle *windowfence.Throttle, metrics MetricsRecorder, mirror store.Mirror, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		throttle: throttle,
		metrics:  metrics,
		mirror:   mirror,
		logger:   logger,
	}
}

// CheckRequest is the body of POST /check.
type CheckRequest struct {
	Identity string `json:"identity"`
}

// CheckResponse is the decision returned by POST /check.
type CheckResponse struct {
	Allowed           bool  `json:"allowed"`
	Remaining         int   `json:"remaining"`
	Limit             int   `json:"limit"`
	ResetAt           int64 `json:"reset_at"`                      // Unix seconds
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"` // set when denied
}

// IdentityResponse describes an identity's window without counting a request.
type IdentityResponse struct {
	Identity    string    `json:"identity"`
	Count       int       `json:"count"`
	Remaining   int       `json:"remaining"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"window_start"`
	ResetAt     time.Time `json:"reset_at"`
	Expired     bool      `json:"expired"`
}

// ResetResponse reports how many identities an admin reset removed.
type ResetResponse struct {
	Removed int `json:"removed"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Check handles POST /check.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	decision := h.throttle.Check(req.Identity)

	if h.metrics != nil {
		h.metrics.RecordDecision(req.Identity, decision.Allowed)
	}
	h.syncMirror(r.Context(), req.Identity)

	h.logger.Debug("check",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("identity", req.Identity),
		zap.Bool("allowed", decision.Allowed),
		zap.Int("remaining", decision.Remaining),
	)

	resp := CheckResponse{
		Allowed:   decision.Allowed,
		Remaining: decision.Remaining,
		Limit:     decision.Limit,
		ResetAt:   decision.ResetAt.Unix(),
	}

	middleware.SetHeaders(w.Header(), decision)
	status := http.StatusOK
	if !decision.Allowed {
		resp.RetryAfterSeconds = middleware.RetryAfterSeconds(decision, h.throttle.Clock())
		status = http.StatusTooManyRequests
	}

	h.sendJSON(w, status, resp)
}

// GetIdentity handles GET /identities/{identity}.
func (h *Handler) GetIdentity(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityParam(w, r)
	if !ok {
		return
	}

	state, ok := h.throttle.Peek(identity)
	if !ok {
		h.sendError(w, http.StatusNotFound, "not_found", "identity is not tracked")
		return
	}

	now := h.throttle.Clock().Now()
	resetAt := state.WindowStart.Add(h.throttle.Window())
	remaining := h.throttle.Quota() - state.Count
	if remaining < 0 {
		remaining = 0
	}

	h.sendJSON(w, http.StatusOK, IdentityResponse{
		Identity:    identity,
		Count:       state.Count,
		Remaining:   remaining,
		Limit:       h.throttle.Quota(),
		WindowStart: state.WindowStart,
		ResetAt:     resetAt,
		Expired:     now.Sub(state.WindowStart) > h.throttle.Window(),
	})
}

// ResetIdentity handles DELETE /identities/{identity}.
func (h *Handler) ResetIdentity(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identityParam(w, r)
	if !ok {
		return
	}

	removed := 0
	if h.throttle.Reset(identity) {
		removed = 1
	}
	if f, ok := h.metrics.(interface{ Forget(string) }); ok {
		f.Forget(identity)
	}
	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(r.Context(), mirrorTimeout)
		defer cancel()
		if err := h.mirror.Delete(ctx, identity); err != nil {
			h.logger.Warn("mirror delete failed", zap.String("identity", identity), zap.Error(err))
		}
	}

	h.logger.Info("identity reset",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.String("identity", identity),
		zap.Bool("tracked", removed == 1),
	)
	h.sendJSON(w, http.StatusOK, ResetResponse{Removed: removed})
}

// ResetAll handles DELETE /identities.
func (h *Handler) ResetAll(w http.ResponseWriter, r *http.Request) {
	removed := h.throttle.ResetAll()

	if h.mirror != nil {
		ctx, cancel := context.WithTimeout(r.Context(), mirrorTimeout)
		defer cancel()
		if _, err := h.mirror.Clear(ctx); err != nil {
			h.logger.Warn("mirror clear failed", zap.Error(err))
		}
	}

	h.logger.Info("all identities reset",
		zap.String("request_id", RequestIDFromContext(r.Context())),
		zap.Int("removed", removed),
	)
	h.sendJSON(w, http.StatusOK, ResetResponse{Removed: removed})
}

// identityParam returns the decoded {identity} path segment. chi matches on the escaped
// path when the request has one, so identities containing '/' arrive still escaped.
// The route without a segment addresses the empty identity.
func (h *Handler) identityParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity := chi.URLParam(r, "identity")
	if r.URL.RawPath == "" {
		return identity, true
	}
	decoded, err := url.PathUnescape(identity)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_identity", "identity is not a valid escaped path segment")
		return "", false
	}
	return decoded, true
}

// syncMirror copies the identity's window to the mirror. Failures are logged, never returned.
func (h *Handler) syncMirror(ctx context.Context, identity string) {
	if h.mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()
	if err := store.Sync(ctx, h.mirror, h.throttle, identity); err != nil {
		h.logger.Warn("mirror sync failed", zap.String("identity", identity), zap.Error(err))
	}
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("write response failed", zap.Error(err))
	}
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.sendJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
