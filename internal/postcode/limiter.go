package postcode

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between requests to one provider.
// It is safe for concurrent use.
type Limiter struct {
	clock   clockwork.Clock
	limiter *rate.Limiter
}

// NewLimiter allows one request every interval. A non-positive interval disables pacing.
func NewLimiter(interval time.Duration, clock clockwork.Clock) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{clock: clock, limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next request may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	now := l.clock.Now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("rate limiter cannot grant a token")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}

	select {
	case <-l.clock.After(delay):
		return nil
	case <-ctx.Done():
		r.CancelAt(l.clock.Now())
		return ctx.Err()
	}
}
