package ratelimit

import "context"

// RateLimiter throttles outbound calls per named scope, e.g. "registry".
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
