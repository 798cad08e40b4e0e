package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// requestBudget throttles outbound provider requests so the gap between two
// requests is at least 60s / requestsPerMinute. A nil budget never waits.
type requestBudget struct {
	limiter *rate.Limiter
}

func newRequestBudget(requestsPerMinute int) *requestBudget {
	if requestsPerMinute <= 0 {
		return nil
	}
	// Burst of 1 forces even spacing rather than an initial burst.
	return &requestBudget{
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1),
	}
}

func (b *requestBudget) wait(ctx context.Context) error {
	if b == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}
