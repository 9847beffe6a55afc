package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Handler *Handler
	Metrics MetricsProvider // optional; GET /metrics and the dashboard are skipped when nil
	Version string
	Logger  *zap.Logger
}

// NewRouter returns the service routes:
//
//	POST   /check
//	GET    /identities/{identity}   ("/identities/" is the empty identity)
//	DELETE /identities/{identity}
//	DELETE /identities              (every identity)
//	GET    /metrics
//	GET    /dashboard
//	GET    /health
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestID)
	r.Use(accessLog(logger))

	h := cfg.Handler
	r.Post("/check", h.Check)
	r.Delete("/identities", h.ResetAll)
	r.Get("/identities/{identity}", h.GetIdentity)
	r.Delete("/identities/{identity}", h.ResetIdentity)
	// "/identities/" is the empty identity, never all of them.
	r.Get("/identities/", h.GetIdentity)
	r.Delete("/identities/", h.ResetIdentity)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", NewMetricsHandler(cfg.Metrics))
		r.Get("/dashboard", DashboardHandler)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "healthy",
			"service":    "windowfence",
			"version":    cfg.Version,
			"identities": h.throttle.Count(),
		})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		h.sendError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		h.sendError(w, http.StatusNotFound, "not_found", "no such route")
	})

	return r
}

// RequestID propagates the caller's X-Request-ID or assigns a new UUID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("request_id", RequestIDFromContext(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
