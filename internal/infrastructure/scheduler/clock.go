package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"ChannelMonitor/internal/ports"
)

// Clock suspends on real timers and stops early when the context is done.
type Clock struct{}

var _ ports.Sleeper = Clock{}

// NewClock returns the wall-clock sleeper.
func NewClock() Clock {
	return Clock{}
}

// Sleep blocks for d or until ctx is cancelled.
func (Clock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Uniform picks a duration uniformly in [min, max]; swapped bounds are reordered.
func Uniform(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	if max == min {
		return min
	}
	return min + time.Duration(rand.Int64N(int64(max-min)+1))
}

var _ ports.Jitter = Uniform
