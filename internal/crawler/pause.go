package crawler

import (
	"context"
	"time"
)

// Pauser abstracts how the pipeline backs off between attempts.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPauser sleeps on a timer and wakes early when ctx ends.
type TimerPauser struct{}

// Pause blocks for delay or until ctx is done, returning ctx.Err() in the
// latter case.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
