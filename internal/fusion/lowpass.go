// Package fusion holds the signal primitives shared by the sampling monitors.
package fusion

import (
	"fmt"
	"math"
	"sync"
)

// LowPass smooths a three-axis signal with an exponential moving average and
// tracks the peak squared deviation between raw and smoothed samples.
//
// Every method takes the same lock, so an update never interleaves with a
// read or a Take.
type LowPass struct {
	alpha float64

	mu       sync.Mutex
	smoothed Vector3
	peak     float64
}

func New(alpha float64) (*LowPass, error) {
	if math.IsNaN(alpha) || alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("fusion: alpha=%v must be in (0,1]", alpha)
	}
	return &LowPass{alpha: alpha}, nil
}

func (f *LowPass) Alpha() float64 { return f.alpha }

// Update folds raw into the smoothed vector and raises the peak if the new
// deviation is larger.
func (f *LowPass) Update(raw Vector3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.smoothLocked(raw)
	d := raw.Sub(f.smoothed)
	if d2 := d.Dot(d); d2 > f.peak {
		f.peak = d2
	}
}

// Prime folds raw into the smoothed vector without touching the peak.
// Used while the filter converges after start-up.
func (f *LowPass) Prime(raw Vector3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.smoothLocked(raw)
}

func (f *LowPass) smoothLocked(raw Vector3) {
	a := f.alpha
	f.smoothed.X = a*raw.X + (1-a)*f.smoothed.X
	f.smoothed.Y = a*raw.Y + (1-a)*f.smoothed.Y
	f.smoothed.Z = a*raw.Z + (1-a)*f.smoothed.Z
}

func (f *LowPass) Smoothed() Vector3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.smoothed
}

// Peak returns sqrt(peak) without resetting it.
func (f *LowPass) Peak() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return math.Sqrt(f.peak)
}

// Take returns sqrt(peak) and resets the peak to zero in one step.
func (f *LowPass) Take() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.peak
	f.peak = 0
	return math.Sqrt(p)
}

// ResetPeak discards the accumulated peak.
func (f *LowPass) ResetPeak() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peak = 0
}
