package github

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// ProactiveRate is the default throttle (~1.2 req/sec = 4320/hr),
	// under the authenticated limit of 5000/hr.
	ProactiveRate = 1.2

	// MinBuffer is the quota kept in reserve before waiting for reset.
	MinBuffer = 100

	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

// RateLimiter combines a token bucket with the quota GitHub reports.
// One limiter is shared by every request of a client.
type RateLimiter struct {
	bucket *rate.Limiter

	mu        sync.Mutex
	remaining int // -1 until a response reports it
	limit     int
	resetTime time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests.
func NewRateLimiter(perSecond float64) *RateLimiter {
	return &RateLimiter{
		bucket:    rate.NewLimiter(rate.Limit(perSecond), 1),
		remaining: -1,
	}
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining, reset := r.remaining, r.resetTime
	r.mu.Unlock()

	if remaining < 0 || remaining >= MinBuffer || !time.Now().Before(reset) {
		return nil
	}
	t := time.NewTimer(time.Until(reset))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Observe records the quota headers of a response.
func (r *RateLimiter) Observe(resp *http.Response) {
	if resp == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, err := strconv.Atoi(resp.Header.Get(headerRateRemaining)); err == nil {
		r.remaining = v
	}
	if v, err := strconv.Atoi(resp.Header.Get(headerRateLimit)); err == nil {
		r.limit = v
	}
	if v, err := strconv.ParseInt(resp.Header.Get(headerRateReset), 10, 64); err == nil {
		r.resetTime = time.Unix(v, 0)
	}
}

// Quota returns the last reported remaining requests, limit and reset time.
// remaining is -1 before any response was observed.
func (r *RateLimiter) Quota() (remaining, limit int, reset time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining, r.limit, r.resetTime
}
