/*
Package ratelimit paces fleet broadcasts with a token bucket.
*/
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter allows a steady rate with bursts up to the bucket size.
type Limiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	limiter *rate.Limiter
}

/*
New allows burst operations per interval. The bucket starts full, so the
first burst calls never wait.
*/
func New(burst int64, interval time.Duration) (*Limiter, error) {
	if burst <= 0 || interval <= 0 {
		return nil, fmt.Errorf("rate limiter needs a positive burst and interval, got %d per %s", burst, interval)
	}

	return newLimiter(rate.Limit(float64(burst)/interval.Seconds()), int(burst)), nil
}

// PerSecond builds a limiter allowing rate operations per second.
func PerSecond(perSecond float64) (*Limiter, error) {
	if perSecond <= 0 {
		return nil, fmt.Errorf("rate limiter needs a positive rate, got %v", perSecond)
	}

	return newLimiter(rate.Limit(perSecond), max(1, int(perSecond))), nil
}

func newLimiter(limit rate.Limit, burst int) *Limiter {
	return &Limiter{
		rate:    limit,
		burst:   burst,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (rl *Limiter) bucket() *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.limiter
}

// Allow takes a token if one is available.
func (rl *Limiter) Allow() bool {
	return rl.bucket().Allow()
}

// WaitTime is how long until the next token is available.
func (rl *Limiter) WaitTime() time.Duration {
	bucket := rl.bucket()

	if bucket.Tokens() >= 1 {
		return 0
	}

	reservation := bucket.Reserve()
	defer reservation.Cancel()

	return reservation.Delay()
}

/*
Wait blocks until a token is taken or ctx ends. A deadline that would pass
before the next token reports context.DeadlineExceeded right away.
*/
func (rl *Limiter) Wait(ctx context.Context) error {
	err := rl.bucket().Wait(ctx)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}

	return err
}

// TryUntil keeps trying until deadline and reports whether a token was taken.
func (rl *Limiter) TryUntil(deadline time.Time) bool {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	return rl.Wait(ctx) == nil
}

// Reset refills the bucket.
func (rl *Limiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.limiter = rate.NewLimiter(rl.rate, rl.burst)
}
