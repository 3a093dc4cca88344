// Package ratelimiter throttles incoming RPC calls with a token bucket.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter admits calls at a sustained rate with a burst allowance.
//
// A nil *Limiter admits every call, so callers can keep an unconfigured
// limiter without checking for it. All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New returns a limiter admitting callsPerSecond calls per second with
// bursts of up to burst calls. A zero rate disables limiting and returns
// nil. A zero burst defaults to the rate.
func New(callsPerSecond, burst uint) *Limiter {
	if callsPerSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = callsPerSecond
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(callsPerSecond), int(burst))}
}

// Allow consumes a token if one is available. Datagram transports use it
// to shed load: a dropped call is retransmitted by the client.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done. Stream transports
// use it so that a busy client is slowed down through TCP backpressure.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Tokens reports the tokens currently in the bucket.
func (l *Limiter) Tokens() float64 {
	if l == nil {
		return 0
	}
	return l.limiter.Tokens()
}
