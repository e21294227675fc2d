package service

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter shared by all
// workers calling the same gateway.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

// RateLimiterConfig configures a rate limiter.
type RateLimiterConfig struct {
	MaxTokens  float64 // Maximum bucket capacity
	RefillRate float64 // Tokens added per second
}

// GatewayRateLimiterConfig derives a bucket from a requests-per-second
// budget. The burst allows one request per concurrent worker slot.
func GatewayRateLimiterConfig(requestsPerSecond float64, burst int) RateLimiterConfig {
	if burst < 1 {
		burst = 1
	}
	return RateLimiterConfig{
		MaxTokens:  float64(burst),
		RefillRate: requestsPerSecond,
	}
}

// NewRateLimiter creates a new rate limiter. A non-positive refill rate
// disables limiting.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		tokens:     cfg.MaxTokens,
		maxTokens:  cfg.MaxTokens,
		refillRate: cfg.RefillRate,
		lastRefill: time.Now(),
	}
}

// Acquire blocks until a token is available or context is cancelled.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	if r == nil {
		return nil
	}
	for {
		r.mu.Lock()
		if r.refillRate <= 0 {
			r.mu.Unlock()
			return nil
		}
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - r.tokens) / r.refillRate * float64(time.Second))
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire attempts to acquire a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refillRate <= 0 {
		return true
	}
	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Available returns the current number of available tokens.
func (r *RateLimiter) Available() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return r.tokens
}

// refill adds tokens based on elapsed time.
func (r *RateLimiter) refill() {
	now := time.Now()
	elapsed := now.Sub(r.lastRefill)
	r.lastRefill = now
	r.tokens += elapsed.Seconds() * r.refillRate
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}
}

// AdaptiveRateLimiter halves its rate when the provider answers 429 and
// slowly recovers after consecutive successes.
type AdaptiveRateLimiter struct {
	*RateLimiter
	adaptiveMu    sync.Mutex
	consecutiveOK int
	minRefillRate float64
	maxRefillRate float64
}

// NewAdaptiveRateLimiter creates an adaptive rate limiter.
func NewAdaptiveRateLimiter(cfg RateLimiterConfig) *AdaptiveRateLimiter {
	return &AdaptiveRateLimiter{
		RateLimiter:   NewRateLimiter(cfg),
		minRefillRate: cfg.RefillRate * 0.1,
		maxRefillRate: cfg.RefillRate,
	}
}

// RecordSuccess indicates a successful request.
func (a *AdaptiveRateLimiter) RecordSuccess() {
	a.adaptiveMu.Lock()
	defer a.adaptiveMu.Unlock()

	a.consecutiveOK++
	if a.consecutiveOK < 5 {
		return
	}
	a.consecutiveOK = 0
	a.RateLimiter.mu.Lock()
	if next := a.RateLimiter.refillRate * 1.25; next <= a.maxRefillRate {
		a.RateLimiter.refillRate = next
	} else {
		a.RateLimiter.refillRate = a.maxRefillRate
	}
	a.RateLimiter.mu.Unlock()
}

// RecordRateLimited indicates the provider throttled a request.
func (a *AdaptiveRateLimiter) RecordRateLimited() {
	a.adaptiveMu.Lock()
	defer a.adaptiveMu.Unlock()

	a.consecutiveOK = 0
	a.RateLimiter.mu.Lock()
	if next := a.RateLimiter.refillRate * 0.5; next >= a.minRefillRate {
		a.RateLimiter.refillRate = next
	}
	a.RateLimiter.mu.Unlock()
}

// CurrentRefillRate returns the current refill rate.
func (a *AdaptiveRateLimiter) CurrentRefillRate() float64 {
	a.RateLimiter.mu.Lock()
	defer a.RateLimiter.mu.Unlock()
	return a.RateLimiter.refillRate
}
