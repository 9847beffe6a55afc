package store

import (
	"context"

	"github.com/KanavDutta/windowfence/core"
	"github.com/KanavDutta/windowfence/pkg/windowfence"
)

// Sync copies identity's current window from throttle into m, expiring at the window reset.
// An identity the throttle no longer tracks is removed from m.
func Sync(ctx context.Context, m Mirror, throttle *windowfence.Throttle, identity string) error {
	state, ok := throttle.Peek(identity)
	if !ok {
		return m.Delete(ctx, identity)
	}

	resetAt := state.WindowStart.Add(throttle.Window())
	rec := NewRecord(identity, state, core.Decision{Limit: throttle.Quota(), ResetAt: resetAt})
	return m.Save(ctx, rec, resetAt.Sub(throttle.Clock().Now()))
}
