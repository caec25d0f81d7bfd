package worker

import (
	"context"
	"math/rand/v2"
	"time"
)

// Default backoff applied after a failed receive.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 10 * time.Second
)

// backoff implements exponential backoff with jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

// Wait sleeps for the current duration (±20% jitter) and doubles it, up to
// max. It returns early with ctx.Err() when ctx is done.
func (b *backoff) Wait(ctx context.Context) error {
	jitter := float64(b.current) * 0.2 * (rand.Float64()*2 - 1)
	timer := time.NewTimer(time.Duration(float64(b.current) + jitter))
	defer timer.Stop()

	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset resets the backoff to the initial duration.
func (b *backoff) Reset() {
	b.current = b.initial
}
