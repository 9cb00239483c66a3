package ratelimit

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	initialPenalty = 250 * time.Millisecond
	maxPenalty     = 30 * time.Second
)

// Limiter paces requests to one upstream. On top of the token bucket it
// keeps a penalty that grows while the upstream answers 429 and is
// applied before the next token is taken.
type Limiter struct {
	limiter *rate.Limiter
	name    string

	mu      sync.Mutex
	penalty time.Duration
}

// NewLimiter creates a limiter allowing perMinute requests per minute
func NewLimiter(name string, perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rps := float64(perMinute) / 60.0
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	if burst > 5 {
		burst = 5
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
	}
}

// Wait blocks until a request may be made or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	if p := l.Penalty(); p > 0 {
		t := time.NewTimer(p)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a request may happen now without waiting
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SignalRateLimited records a 429 from the upstream and doubles the penalty
func (l *Limiter) SignalRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.penalty == 0 {
		l.penalty = initialPenalty
		return
	}
	l.penalty *= 2
	if l.penalty > maxPenalty {
		l.penalty = maxPenalty
	}
	log.WithField("limiter", l.name).Debugf("Rate limited, penalty now %s", l.penalty)
}

// ResetBackoff clears the penalty after a successful request
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.penalty = 0
}

// Penalty returns the delay currently applied before each request
func (l *Limiter) Penalty() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.penalty
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}
