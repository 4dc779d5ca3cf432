// Package ratelimit bounds remote provider usage per minute, both in
// request count and in token volume.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates provider calls on two budgets: requests per minute and
// tokens per minute. A call is admitted only when both have room.
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// New creates a limiter. Non-positive budgets mean unlimited.
func New(requestsPerMinute, tokensPerMinute int) *Limiter {
	l := &Limiter{}
	if requestsPerMinute > 0 {
		l.requests = rate.NewLimiter(rate.Limit(requestsPerMinute)/60, requestsPerMinute)
	}
	if tokensPerMinute > 0 {
		l.tokens = rate.NewLimiter(rate.Limit(tokensPerMinute)/60, tokensPerMinute)
	}
	return l
}

// Allow reports whether a call spending the given tokens may proceed
// now. Nothing is consumed when either budget would be exceeded.
func (l *Limiter) Allow(tokens int) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	var req *rate.Reservation
	if l.requests != nil {
		req = l.requests.ReserveN(now, 1)
		if !req.OK() || req.DelayFrom(now) > 0 {
			req.CancelAt(now)
			return false
		}
	}

	if l.tokens != nil && tokens > 0 {
		tok := l.tokens.ReserveN(now, tokens)
		if !tok.OK() || tok.DelayFrom(now) > 0 {
			tok.CancelAt(now)
			if req != nil {
				req.CancelAt(now)
			}
			return false
		}
	}
	return true
}

// Wait blocks until a call spending the given tokens may proceed, or
// the context is done.
func (l *Limiter) Wait(ctx context.Context, tokens int) error {
	if l == nil {
		return nil
	}
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return fmt.Errorf("request budget: %w", err)
		}
	}
	if l.tokens != nil && tokens > 0 {
		if err := l.tokens.WaitN(ctx, tokens); err != nil {
			return fmt.Errorf("token budget: %w", err)
		}
	}
	return nil
}
