package windowfence

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/KanavDutta/windowfence/core"
)

type (
	// Decision is the result of a throttle check.
	Decision = core.Decision

	// WindowState is one identity's counter for the current window.
	WindowState = core.WindowState
)

// Throttle admits at most quota requests per identity in each fixed window.
// A Throttle owns its WindowStore; construct one Throttle per policy.
type Throttle struct {
	window          *core.FixedWindow
	store           *WindowStore
	clock           Clock
	logger          *zap.Logger
	idleTTL         time.Duration
	cleanupInterval time.Duration
}

// NewThrottle creates a Throttle allowing quota requests per window for each identity.
// It fails with ErrNonPositiveQuota or ErrNonPositiveWindow, both wrapped in
// ErrInvalidConfig, on a non-positive argument.
//
// Example:
//
//	throttle, err := NewThrottle(3, time.Minute,
//	    WithIdleTTL(30*time.Minute),
//	)
func NewThrottle(quota int, window time.Duration, opts ...Option) (*Throttle, error) {
	fw, err := core.NewFixedWindow(core.Policy{Quota: quota, Window: window})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	t := &Throttle{
		window:          fw,
		clock:           SystemClock{},
		logger:          zap.NewNop(),
		idleTTL:         1 * time.Hour,
		cleanupInterval: 10 * time.Minute,
	}

	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	t.store = NewWindowStore(fw, t.clock, t.idleTTL)
	t.store.logger = t.logger

	return t, nil
}

// Check counts one request for identity and decides whether it is admitted.
// It never fails; the empty string is an ordinary identity.
func (t *Throttle) Check(identity string) Decision {
	h := t.store.Acquire(identity)
	defer h.Release()

	// Read the clock under the identity's lock so WindowStart never moves backwards
	// when callers with the same identity race.
	now := t.clock.Now()
	state, decision := t.window.Check(h.State(), now)
	h.Update(state, now)

	return decision
}

// Peek returns the identity's current window state without counting a request.
func (t *Throttle) Peek(identity string) (WindowState, bool) {
	return t.store.Peek(identity)
}

// Reset forgets one identity. Its next check behaves like its first.
// Reports whether the identity was tracked.
func (t *Throttle) Reset(identity string) bool {
	return t.store.Delete(identity)
}

// ResetAll forgets every identity and returns how many were tracked.
func (t *Throttle) ResetAll() int {
	n := t.store.Clear()
	t.logger.Debug("reset all identities", zap.Int("count", n))
	return n
}

// Count returns the number of identities currently tracked.
func (t *Throttle) Count() int {
	return t.store.Count()
}

// Cleanup evicts idle identities whose window has expired and returns how many were removed.
func (t *Throttle) Cleanup() int {
	return t.store.Cleanup()
}

// StartBackgroundCleanup starts a goroutine that periodically evicts idle identities.
// Returns a function to stop the cleanup goroutine.
func (t *Throttle) StartBackgroundCleanup() func() {
	return t.store.StartBackgroundCleanup(t.cleanupInterval)
}

// Quota returns the maximum admissions per window.
func (t *Throttle) Quota() int {
	return t.window.Policy().Quota
}

// Window returns the window size.
func (t *Throttle) Window() time.Duration {
	return t.window.Policy().Window
}

// Clock returns the clock decisions are made against.
func (t *Throttle) Clock() Clock {
	return t.clock
}
