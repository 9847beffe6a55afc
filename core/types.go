package core

import "time"

// Policy defines the fixed-window limit: at most Quota admissions per Window.
type Policy struct {
	Quota  int           // Maximum admissions per window
	Window time.Duration // Length of one fixed window
}

// WindowState is the per-identity counter for the current fixed window.
type WindowState struct {
	Count       int       // Requests counted since WindowStart, admitted or not
	WindowStart time.Time // Beginning of the current window
}

// Decision is the result of one admission check.
type Decision struct {
	Allowed   bool      // Whether the request is admitted
	Remaining int       // Admissions left in the current window
	ResetAt   time.Time // When the current window ends
	Limit     int       // The quota the decision was made against
}

// RetryAfter returns how long a caller should wait from now until the window rolls over.
// It never returns a negative duration.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if wait := d.ResetAt.Sub(now); wait > 0 {
		return wait
	}
	return 0
}
