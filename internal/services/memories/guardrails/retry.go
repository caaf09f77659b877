package guardrails

import (
	"context"
	"math/rand"
	"time"

	perr "snapvault/internal/platform/errors"
)

// Policy is the bounded-retry contract shared by the resolver, fetcher and
// uploader. Backoff is exponential with jitter: min(Base<<attempt, Cap),
// then half that plus a random half
type Policy struct {
	MaxAttempts int           // total attempts; <=0 -> 1
	Base        time.Duration // first backoff; <=0 -> 500ms
	Cap         time.Duration // backoff ceiling; <=0 -> 30s

	// Jitter overrides the randomized delay; tests pin it to zero
	Jitter func(d time.Duration) time.Duration
}

// Do runs fn up to MaxAttempts times, sleeping between attempts, until it
// succeeds or returns a non-retryable error. The last error is returned
func (p Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base := p.Base
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	cap := p.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}

	var last error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		last = err

		if !perr.Retryable(err) {
			return last
		}
		if i == attempts-1 {
			break
		}

		d := min(base<<i, cap)
		j := p.jitter(d)
		if se := SleepCtx(ctx, j); se != nil {
			return last
		}
	}
	return last
}

func (p Policy) jitter(d time.Duration) time.Duration {
	if p.Jitter != nil {
		return p.Jitter(d)
	}
	if d <= 1 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2)))
}

// SleepCtx sleeps for d or until ctx is done, whichever comes first
func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
