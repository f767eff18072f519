package fusion

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadAlpha(t *testing.T) {
	for _, a := range []float64{0, -0.1, 1.01, math.NaN()} {
		_, err := New(a)
		assert.Error(t, err, "alpha=%v", a)
	}
	f, err := New(1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, f.Alpha())
}

func TestUpdate_FollowsEMARecurrence(t *testing.T) {
	f, err := New(0.25)
	require.NoError(t, err)

	f.Update(Vector3{X: 1})
	assert.InDelta(t, 0.25, f.Smoothed().X, 1e-12)

	f.Update(Vector3{X: 1})
	got := f.Smoothed()
	assert.InDelta(t, 0.4375, got.X, 1e-12)
	assert.Equal(t, 0.0, got.Y)
	assert.Equal(t, 0.0, got.Z)
}

func TestUpdate_ChannelsAreIndependent(t *testing.T) {
	f, err := New(0.5)
	require.NoError(t, err)

	samples := []Vector3{{1, 2, 3}, {-1, 0, 9}, {4, 4, 4}}
	var want Vector3
	for _, s := range samples {
		f.Update(s)
		want.X = 0.5*s.X + 0.5*want.X
		want.Y = 0.5*s.Y + 0.5*want.Y
		want.Z = 0.5*s.Z + 0.5*want.Z
	}
	got := f.Smoothed()
	assert.InDelta(t, want.X, got.X, 1e-12)
	assert.InDelta(t, want.Y, got.Y, 1e-12)
	assert.InDelta(t, want.Z, got.Z, 1e-12)
}

func TestTake_ReturnsSqrtPeakAndResets(t *testing.T) {
	f, err := New(0.25)
	require.NoError(t, err)

	// First update: smoothed=(0.25,0,0), deviation 0.75.
	f.Update(Vector3{X: 1})
	assert.InDelta(t, 0.75, f.Peak(), 1e-12)
	assert.InDelta(t, 0.75, f.Take(), 1e-12)
	assert.Equal(t, 0.0, f.Take())
	assert.Equal(t, 0.0, f.Peak())
}

func TestPeak_OnlyIncreasesOnLargerDeviation(t *testing.T) {
	f, err := New(0.25)
	require.NoError(t, err)

	f.Update(Vector3{X: 4}) // deviation 3
	first := f.Peak()
	assert.InDelta(t, 3.0, first, 1e-12)

	// Smoothed=1, raw=1 → deviation 0.75·0 ... smaller than 3.
	f.Update(Vector3{X: 1})
	assert.Equal(t, first, f.Peak())

	// A large jump raises it.
	f.Update(Vector3{X: 20})
	assert.Greater(t, f.Peak(), first)
}

func TestPrime_DoesNotTrackPeak(t *testing.T) {
	f, err := New(0.25)
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		f.Prime(Vector3{Z: 9.81})
	}
	assert.Equal(t, 0.0, f.Peak())
	assert.InDelta(t, 9.81*(1-math.Pow(0.75, 15)), f.Smoothed().Z, 1e-9)
}

func TestResetPeak(t *testing.T) {
	f, err := New(0.5)
	require.NoError(t, err)
	f.Update(Vector3{Y: 2})
	require.Greater(t, f.Peak(), 0.0)
	f.ResetPeak()
	assert.Equal(t, 0.0, f.Peak())
}

func TestTake_ConcurrentWithUpdateLosesNothing(t *testing.T) {
	f, err := New(0.25)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			f.Update(Vector3{X: float64(i % 7), Y: 1, Z: 9.81})
		}
	}()
	taken := 0.0
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if v := f.Take(); v > taken {
				taken = v
			}
		}
	}()
	wg.Wait()
	// Whatever was not taken is still there; nothing is negative or NaN.
	rest := f.Take()
	assert.False(t, math.IsNaN(rest))
	assert.GreaterOrEqual(t, math.Max(taken, rest), 0.0)
}

func TestVector3_PitchRoll(t *testing.T) {
	p, r := Vector3{Z: 9.81}.PitchRoll()
	assert.InDelta(t, 0, p, 1e-9)
	assert.InDelta(t, 0, r, 1e-9)

	p, r = Vector3{X: -9.81}.PitchRoll()
	assert.InDelta(t, 90, p, 1e-9)
	assert.InDelta(t, 0, r, 1e-9)

	p, r = Vector3{Y: 1, Z: 1}.PitchRoll()
	assert.InDelta(t, 0, p, 1e-9)
	assert.InDelta(t, 45, r, 1e-9)
}

func TestVector3_Norm(t *testing.T) {
	assert.InDelta(t, 5.0, Vector3{X: 3, Y: 4}.Norm(), 1e-12)
}
