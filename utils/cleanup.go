package utils

import (
	"context"
	"time"
)

// StartPeriodic runs fn every interval until ctx is cancelled. The first run
// happens one interval after start. A non-positive interval disables it.
func StartPeriodic(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn(ctx)
			}
		}
	}()
}
