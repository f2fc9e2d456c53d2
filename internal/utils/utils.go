// Package utils holds small helpers shared by the stages: context-aware
// waiting and text truncation for logs and stored fields.
package utils

import (
	"context"
	"time"
)

// timer is swapped in tests.
var timer = func(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// WaitFor blocks for d or until ctx is done, whichever comes first. A
// non-positive d only reports the state of ctx.
func WaitFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	fired, stop := timer(d)
	defer stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-fired:
		return nil
	}
}
