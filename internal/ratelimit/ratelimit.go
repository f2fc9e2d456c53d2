// Package ratelimit bounds how often the text-generation provider is called.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter blocks until one more provider call is allowed.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Unlimited never blocks.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

// Local is a token bucket shared by the goroutines of one process.
type Local struct {
	limiter *rate.Limiter
}

// NewLocal allows perMinute calls per minute with the given burst. A
// non-positive perMinute disables limiting.
func NewLocal(perMinute, burst int) *Local {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Local{limiter: rate.NewLimiter(limit, burst)}
}

func (l *Local) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
