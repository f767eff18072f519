// Package periodic runs the fixed-period sampling loops used by the monitors
// and the telemetry scheduler.
package periodic

import (
	"context"
	"time"
)

var newTicker = func(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Run calls fn once per period until ctx is canceled or stop is closed.
// fn runs on the calling goroutine, so calls never overlap. A slow fn drops
// ticks rather than queuing them.
func Run(ctx context.Context, stop <-chan struct{}, period time.Duration, fn func(now time.Time)) {
	if period <= 0 {
		period = time.Second
	}
	c, cancel := newTicker(period)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case now := <-c:
			fn(now)
		}
	}
}

// Sleep waits for d. It returns false if ctx or stop ended the wait early.
func Sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
