package clients

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// RateLimiter controls the request rate towards one external system.
type RateLimiter interface {
	Allow() bool
	Wait(ctx context.Context) error
	GetStats() RateLimiterStats
}

// RateLimiterStats contains rate limiter statistics
type RateLimiterStats struct {
	Rate            float64 `json:"rate"`
	Burst           int     `json:"burst"`
	AllowedRequests int64   `json:"allowed_requests"`
	BlockedRequests int64   `json:"blocked_requests"`
}

// TokenBucketRateLimiter implements RateLimiter on a token bucket.
type TokenBucketRateLimiter struct {
	limiter *rate.Limiter
	allowed int64
	blocked int64
}

// NewRateLimiter creates a limiter admitting perSecond requests with the given burst.
func NewRateLimiter(perSecond float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether a request may proceed now.
func (l *TokenBucketRateLimiter) Allow() bool {
	if l.limiter.Allow() {
		atomic.AddInt64(&l.allowed, 1)
		return true
	}
	atomic.AddInt64(&l.blocked, 1)
	return false
}

// Wait blocks until a request may proceed or ctx is done.
func (l *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		atomic.AddInt64(&l.blocked, 1)
		return err
	}
	atomic.AddInt64(&l.allowed, 1)
	return nil
}

// GetStats returns the limiter counters.
func (l *TokenBucketRateLimiter) GetStats() RateLimiterStats {
	return RateLimiterStats{
		Rate:            float64(l.limiter.Limit()),
		Burst:           l.limiter.Burst(),
		AllowedRequests: atomic.LoadInt64(&l.allowed),
		BlockedRequests: atomic.LoadInt64(&l.blocked),
	}
}
