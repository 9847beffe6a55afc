package windowfence

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option is a functional option for configuring a Throttle.
type Option func(*Throttle) error

// WithClock sets the clock used for window decisions.
// Tests pass a ManualClock to step through windows without sleeping.
func WithClock(clock Clock) Option {
	return func(t *Throttle) error {
		if clock == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		t.clock = clock
		return nil
	}
}

// WithLogger sets the logger used by background cleanup.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Throttle) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		t.logger = logger
		return nil
	}
}

// WithIdleTTL sets how long an identity whose window has expired is kept before
// cleanup may evict it. Zero disables eviction.
// Default: 1 hour
func WithIdleTTL(ttl time.Duration) Option {
	return func(t *Throttle) error {
		if ttl < 0 {
			return fmt.Errorf("%w: idle TTL cannot be negative", ErrInvalidConfig)
		}
		t.idleTTL = ttl
		return nil
	}
}

// WithCleanupInterval sets how often the cleanup goroutine runs.
// Only used when StartBackgroundCleanup is called.
// Default: 10 minutes
func WithCleanupInterval(interval time.Duration) Option {
	return func(t *Throttle) error {
		if interval < 0 {
			return fmt.Errorf("%w: cleanup interval cannot be negative", ErrInvalidConfig)
		}
		t.cleanupInterval = interval
		return nil
	}
}
