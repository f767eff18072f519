package telemetry

import (
	"sync"
	"time"
)

// Gate lets an event through at most once per interval. The first call
// always passes.
type Gate struct {
	interval time.Duration

	mu    sync.Mutex
	last  time.Time
	fired bool
}

func NewGate(interval time.Duration) *Gate {
	return &Gate{interval: interval}
}

// Allow reports whether an event at now may proceed and, if so, records it.
func (g *Gate) Allow(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fired && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	g.fired = true
	return true
}
