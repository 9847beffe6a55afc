// Package middleware throttles HTTP handlers with a windowfence.Throttle.
package middleware

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// Recorder receives every decision made by the middleware.
type Recorder interface {
	RecordDecision(identity string, allowed bool)
}

// Config configures the middleware. Zero values get defaults.
type Config struct {
	KeyFunc  KeyFunc     // defaults to ExtractIP
	Recorder Recorder    // optional
	Logger   *zap.Logger // defaults to a no-op logger
}

// Limiter is HTTP middleware backed by a Throttle.
type Limiter struct {
	throttle *windowfence.Throttle
	keyFunc  KeyFunc
	recorder Recorder
	logger   *zap.Logger
}

// ErrorResponse is the JSON body of a rejected request.
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// New creates middleware admitting requests through throttle.
func New(throttle *windowfence.Throttle, config Config) (*Limiter, error) {
	if throttle == nil {
		return nil, errors.New("middleware: throttle is required")
	}
	if config.KeyFunc == nil {
		config.KeyFunc = ExtractIP()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Limiter{
		throttle: throttle,
		keyFunc:  config.KeyFunc,
		recorder: config.Recorder,
		logger:   config.Logger,
	}, nil
}

// Middleware wraps next so that each request is counted against its identity.
// Every response carries X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset;
// rejected requests get 429 with Retry-After.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := l.keyFunc(r)
		if err != nil {
			l.logger.Warn("identity extraction failed",
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			writeJSON(w, http.StatusBadRequest, ErrorResponse{
				Error:   "identity_required",
				Message: err.Error(),
			})
			return
		}

		decision := l.throttle.Check(identity)
		if l.recorder != nil {
			l.recorder.RecordDecision(identity, decision.Allowed)
		}

		SetHeaders(w.Header(), decision)

		if !decision.Allowed {
			retryAfter := RetryAfterSeconds(decision, l.throttle.Clock())
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			l.logger.Debug("request throttled",
				zap.String("identity", identity),
				zap.Int64("retry_after_seconds", retryAfter),
			)
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:             "rate_limit_exceeded",
				Message:           "Too many requests. Please try again later.",
				RetryAfterSeconds: retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler is shorthand for Middleware(h).
func (l *Limiter) Handler(h http.HandlerFunc) http.Handler {
	return l.Middleware(h)
}

// SetHeaders writes the X-RateLimit-* headers for decision.
func SetHeaders(h http.Header, decision windowfence.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
}

// RetryAfterSeconds rounds the wait until the window resets up to whole seconds, minimum 1.
func RetryAfterSeconds(decision windowfence.Decision, clock windowfence.Clock) int64 {
	secs := int64(math.Ceil(decision.RetryAfter(clock.Now()).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
