package http

import (
	"sync"

	"golang.org/x/time/rate"
)

// clientLimiter applies a per-client token bucket to session creation.
// Buckets refill at perMinute tokens per minute with a burst of the same
// size. A zero or negative perMinute disables limiting.
type clientLimiter struct {
	mu        sync.Mutex
	perMinute int
	clients   map[string]*rate.Limiter
}

func newClientLimiter(perMinute int) *clientLimiter {
	return &clientLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*rate.Limiter),
	}
}

func (l *clientLimiter) Allow(client string) bool {
	if l.perMinute <= 0 {
		return true
	}

	l.mu.Lock()
	lim, ok := l.clients[client]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.clients[client] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
