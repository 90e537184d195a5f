package publish

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter implements a token-bucket limiter for webhook delivery. It
// prevents a burst of posted entries from overwhelming a provider's own
// rate limiting, which otherwise responds with 429s that just get retried
// anyway.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new RateLimiter with the specified sustained
// rate and burst capacity.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Allow blocks until a token is available or ctx is canceled.
func (r *RateLimiter) Allow(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
