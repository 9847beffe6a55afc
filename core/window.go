package core

import (
	"errors"
	"time"
)

var (
	// ErrNonPositiveQuota is returned when the policy quota is zero or negative
	ErrNonPositiveQuota = errors.New("quota must be positive")

	// ErrNonPositiveWindow is returned when the policy window is zero or negative
	ErrNonPositiveWindow = errors.New("window size must be positive")
)

// FixedWindow implements the fixed-window counting algorithm.
// It holds no per-identity state; callers own the WindowState and its locking.
type FixedWindow struct {
	policy Policy
}

// NewFixedWindow creates a fixed-window algorithm for the given policy.
func NewFixedWindow(policy Policy) (*FixedWindow, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &FixedWindow{policy: policy}, nil
}

// Validate checks that both the quota and the window are positive.
func (p Policy) Validate() error {
	if p.Quota <= 0 {
		return ErrNonPositiveQuota
	}
	if p.Window <= 0 {
		return ErrNonPositiveWindow
	}
	return nil
}

// Policy returns the policy this algorithm enforces.
func (fw *FixedWindow) Policy() Policy {
	return fw.policy
}

// NewState returns the state of an identity seen for the first time at now.
func (fw *FixedWindow) NewState(now time.Time) WindowState {
	return WindowState{WindowStart: now}
}

// Expired reports whether the window in state has ended at now.
// The test is strictly greater than the window size: a request arriving at exactly
// WindowStart+Window still belongs to the old window.
func (fw *FixedWindow) Expired(state WindowState, now time.Time) bool {
	return now.Sub(state.WindowStart) > fw.policy.Window
}

// Check counts one request against state at now and returns the updated state
// together with the decision. The request is counted even when it is denied,
// so Remaining stays at 0 and ResetAt stays fixed until the window rolls over.
func (fw *FixedWindow) Check(state WindowState, now time.Time) (WindowState, Decision) {
	if fw.Expired(state, now) {
		state = WindowState{WindowStart: now}
	}

	state.Count++

	remaining := fw.policy.Quota - state.Count
	if remaining < 0 {
		remaining = 0
	}

	return state, Decision{
		Allowed:   state.Count <= fw.policy.Quota,
		Remaining: remaining,
		ResetAt:   state.WindowStart.Add(fw.policy.Window),
		Limit:     fw.policy.Quota,
	}
}
