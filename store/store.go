// Package store mirrors throttle window state to external storage for inspection.
// Mirrors are written after decisions are made and are never consulted to make one.
package store

import (
	"context"
	"time"

	"github.com/KanavDutta/windowfence/core"
)

// Record is the mirrored view of one identity's window.
type Record struct {
	Identity    string    `json:"identity"`
	Count       int       `json:"count"`
	Limit       int       `json:"limit"`
	WindowStart time.Time `json:"window_start"`
	ResetAt     time.Time `json:"reset_at"`
}

// NewRecord builds the Record for identity from its state and the decision that produced it.
func NewRecord(identity string, state core.WindowState, decision core.Decision) Record {
	return Record{
		Identity:    identity,
		Count:       state.Count,
		Limit:       decision.Limit,
		WindowStart: state.WindowStart,
		ResetAt:     decision.ResetAt,
	}
}

// Mirror receives copies of window state.
type Mirror interface {
	// Save stores rec, keeping it for at most ttl.
	Save(ctx context.Context, rec Record, ttl time.Duration) error
	// Get returns the stored record, if any.
	Get(ctx context.Context, identity string) (Record, bool, error)
	Delete(ctx context.Context, identity string) error
	// Clear removes every record and returns how many were removed.
	Clear(ctx context.Context) (int, error)
}
