// Package guardrails holds cross cutting safety helpers for the pipeline:
// per-stage timeouts and the shared bounded-retry policy
package guardrails

import (
	"context"
	"time"
)

// Timeouts is an optional budget bundle for one asset's stages.
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Resolve caps one token exchange attempt
	Resolve time.Duration

	// Fetch caps one download attempt
	Fetch time.Duration

	// Upload caps one remote sink attempt
	Upload time.Duration
}

// ForResolve returns a sub context for a resolve attempt bounded by Resolve
// and any remaining parent budget
func ForResolve(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Resolve)
}

// ForFetch returns a sub context for a fetch attempt
func ForFetch(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Fetch)
}

// ForUpload returns a sub context for an upload attempt
func ForUpload(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Upload)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of the requested duration and any parent remainder.
// Never extends the parent deadline
// When d is zero it returns a simple cancelable child inheriting the parent deadline
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
