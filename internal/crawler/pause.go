package crawler

import (
	"context"
	"time"
)

// Pauser sleeps between requests. Tests substitute a recorder.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// TimerPauser waits on a timer and returns early when ctx is done.
type TimerPauser struct{}

// Pause implements Pauser.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
