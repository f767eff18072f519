package motion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polaris-ng/internal/fusion"
)

type fakeAccel struct {
	mu      sync.Mutex
	samples []fusion.Vector3
	errs    []error
	reads   int
	temp    float64
	tempErr error
}

func (f *fakeAccel) Acceleration() (fusion.Vector3, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.reads
	f.reads++
	if i < len(f.errs) && f.errs[i] != nil {
		return fusion.Vector3{}, f.errs[i]
	}
	if len(f.samples) == 0 {
		return fusion.Vector3{Z: 9.81}, nil
	}
	if i >= len(f.samples) {
		return f.samples[len(f.samples)-1], nil
	}
	return f.samples[i], nil
}

func (f *fakeAccel) Temperature() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.temp, f.tempErr
}

func (f *fakeAccel) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func newMonitor(t *testing.T, cfg Config, dev Accelerometer) *Monitor {
	t.Helper()
	m, err := New(cfg, dev, nil, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{LowPassCoef: 1.5}, &fakeAccel{}, nil, nil)
	assert.Error(t, err)

	m, err := New(Config{}, &fakeAccel{}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, m.cfg.Period)
	assert.Equal(t, 0.25, m.cfg.LowPassCoef)
}

func TestSample_FeedsFilter(t *testing.T) {
	dev := &fakeAccel{samples: []fusion.Vector3{{X: 1}, {X: 1}}}
	m := newMonitor(t, Config{LowPassCoef: 0.25}, dev)

	require.NoError(t, m.Sample())
	require.NoError(t, m.Sample())

	snap := m.Snapshot()
	assert.InDelta(t, 0.4375, snap.X, 1e-12)
	assert.Equal(t, uint64(2), snap.Samples)
	assert.Zero(t, snap.Errors)
}

func TestSample_ErrorKeepsState(t *testing.T) {
	boom := errors.New("spi timeout")
	dev := &fakeAccel{
		samples: []fusion.Vector3{{Z: 4}, {Z: 4}},
		errs:    []error{nil, boom},
	}
	m := newMonitor(t, Config{LowPassCoef: 0.5}, dev)

	require.NoError(t, m.Sample())
	before := m.Snapshot()

	err := m.Sample()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	after := m.Snapshot()
	assert.Equal(t, before.Z, after.Z)
	assert.Equal(t, uint64(1), after.Errors)
	assert.Contains(t, after.LastError, "spi timeout")
}

func TestPitchRoll_FromSmoothedVector(t *testing.T) {
	dev := &fakeAccel{samples: []fusion.Vector3{{Y: 5, Z: 5}}}
	m := newMonitor(t, Config{LowPassCoef: 1}, dev)
	require.NoError(t, m.Sample())

	pitch, roll := m.PitchRoll()
	assert.InDelta(t, 0, pitch, 1e-9)
	assert.InDelta(t, 45, roll, 1e-9)
}

func TestTemperature_ReturnsLastGoodOnError(t *testing.T) {
	dev := &fakeAccel{temp: 23.5}
	m := newMonitor(t, Config{}, dev)

	c, ok := m.Temperature()
	assert.True(t, ok)
	assert.Equal(t, 23.5, c)

	dev.mu.Lock()
	dev.temp = 99
	dev.tempErr = errors.New("bus busy")
	dev.mu.Unlock()

	c, ok = m.Temperature()
	assert.True(t, ok)
	assert.Equal(t, 23.5, c)
	snap := m.Snapshot()
	assert.True(t, snap.TemperatureValid)
	assert.Equal(t, uint64(1), snap.Errors)
}

func TestSigma_ResetOnRead(t *testing.T) {
	dev := &fakeAccel{samples: []fusion.Vector3{{X: 4}}}
	m := newMonitor(t, Config{LowPassCoef: 0.25}, dev)
	require.NoError(t, m.Sample())

	assert.InDelta(t, 3.0, m.Sigma(), 1e-12)
	assert.Equal(t, 0.0, m.Sigma())
}

func TestStart_SettlesWithoutRecordingPeak(t *testing.T) {
	// A huge first reading during settle must not show up as sigma.
	dev := &fakeAccel{samples: []fusion.Vector3{{X: 100}, {Z: 9.81}}}
	m := newMonitor(t, Config{
		Period:        time.Hour,
		SettleSamples: 3,
		SettleDelay:   time.Millisecond,
		LowPassCoef:   0.25,
	}, dev)

	require.NoError(t, m.Start(context.Background()))
	require.Error(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return m.Snapshot().Settled }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3, dev.readCount())
	assert.Equal(t, 0.0, m.Sigma())
	assert.True(t, m.Snapshot().Running)

	m.Close()
	assert.False(t, m.Snapshot().Running)
}

func TestStart_SamplesPeriodically(t *testing.T) {
	dev := &fakeAccel{}
	m := newMonitor(t, Config{
		Period:        time.Millisecond,
		SettleSamples: 1,
		SettleDelay:   time.Millisecond,
	}, dev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	require.Eventually(t, func() bool { return m.Snapshot().Samples >= 10 }, 2*time.Second, time.Millisecond)
	z := m.Snapshot().Z
	assert.InDelta(t, 9.81, z, 0.5)
}

func TestStart_ErrorsDoNotStopTask(t *testing.T) {
	boom := errors.New("transient")
	dev := &fakeAccel{errs: []error{nil, boom, boom, boom}}
	m := newMonitor(t, Config{
		Period:        time.Millisecond,
		SettleSamples: 0,
	}, dev)

	require.NoError(t, m.Start(context.Background()))
	require.Eventually(t, func() bool {
		s := m.Snapshot()
		return s.Errors == 3 && s.Samples >= 3
	}, 2*time.Second, time.Millisecond)
}

func TestTemperature_NeverReadIsInvalid(t *testing.T) {
	dev := &fakeAccel{tempErr: errors.New("bus busy")}
	m := newMonitor(t, Config{}, dev)

	_, ok := m.Temperature()
	assert.False(t, ok)
	assert.False(t, m.Snapshot().TemperatureValid)
}
