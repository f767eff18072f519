// Package motion runs the accelerometer sampling loop and derives tilt and
// motion intensity from the filtered signal.
package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"polaris-ng/internal/fusion"
	"polaris-ng/internal/logging"
	"polaris-ng/internal/metrics"
	"polaris-ng/internal/periodic"
)

// Accelerometer is the sensor driver the monitor samples.
// Acceleration is in m/s², temperature in °C.
type Accelerometer interface {
	Acceleration() (fusion.Vector3, error)
	Temperature() (float64, error)
}

type Config struct {
	// Period between samples once settled.
	Period time.Duration
	// SettleSamples are read and fed to the filter before peak tracking starts.
	SettleSamples int
	SettleDelay   time.Duration
	// LowPassCoef is the EMA coefficient in (0,1].
	LowPassCoef float64
}

func (c *Config) applyDefaults() {
	if c.Period <= 0 {
		c.Period = 10 * time.Millisecond
	}
	if c.SettleSamples < 0 {
		c.SettleSamples = 0
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 10 * time.Millisecond
	}
	if c.LowPassCoef == 0 {
		c.LowPassCoef = 0.25
	}
}

type Snapshot struct {
	Running bool `json:"running"`
	Settled bool `json:"settled"`

	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`

	PitchDeg float64 `json:"pitch_deg"`
	RollDeg  float64 `json:"roll_deg"`
	// Peak is the current sigma candidate; reading it here does not reset it.
	Peak float64 `json:"peak"`

	TemperatureC     float64 `json:"temperature_c"`
	TemperatureValid bool    `json:"temperature_valid"`

	Samples      uint64    `json:"samples"`
	Errors       uint64    `json:"errors"`
	LastSampleAt time.Time `json:"last_sample_utc,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

type Monitor struct {
	cfg     Config
	log     *logrus.Entry
	metrics *metrics.Metrics
	filter  *fusion.LowPass

	// mu serializes sensor transactions and guards the fields below it.
	mu        sync.Mutex
	dev       Accelerometer
	tempC     float64
	tempOK    bool
	samples   uint64
	errors    uint64
	lastAt    time.Time
	lastErr   string
	running   bool
	settled   bool
	startOnce sync.Once

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	now func() time.Time
}

func New(cfg Config, dev Accelerometer, log *logrus.Entry, m *metrics.Metrics) (*Monitor, error) {
	if dev == nil {
		return nil, fmt.Errorf("motion: accelerometer is nil")
	}
	cfg.applyDefaults()
	f, err := fusion.New(cfg.LowPassCoef)
	if err != nil {
		return nil, fmt.Errorf("motion: %w", err)
	}
	return &Monitor{
		cfg:     cfg,
		log:     logging.Component(log, "motion"),
		metrics: m,
		filter:  f,
		dev:     dev,
		stopCh:  make(chan struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start launches the sampling task. It returns immediately.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("motion: monitor is nil")
	}
	started := false
	m.startOnce.Do(func() {
		started = true
		m.mu.Lock()
		m.running = true
		m.mu.Unlock()
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.run(ctx)
		}()
	})
	if !started {
		return fmt.Errorf("motion: already started")
	}
	return nil
}

// Close stops the sampling task and waits for it to exit.
func (m *Monitor) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if !m.settle(ctx) {
		return
	}
	m.log.WithField("period", m.cfg.Period).Info("motion sampling started")

	periodic.Run(ctx, m.stopCh, m.cfg.Period, func(time.Time) {
		if err := m.Sample(); err != nil {
			m.log.WithError(err).Warn("accelerometer sample failed")
		}
	})
}

// settle lets the filter converge before any deviation counts toward sigma.
func (m *Monitor) settle(ctx context.Context) bool {
	for i := 0; i < m.cfg.SettleSamples; i++ {
		if !periodic.Sleep(ctx, m.stopCh, m.cfg.SettleDelay) {
			return false
		}
		raw, err := m.read()
		if err != nil {
			m.log.WithError(err).Warn("accelerometer settle read failed")
			continue
		}
		m.filter.Prime(raw)
	}
	m.filter.ResetPeak()
	m.mu.Lock()
	m.settled = true
	m.mu.Unlock()
	return true
}

func (m *Monitor) read() (fusion.Vector3, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.dev.Acceleration()
	now := m.now()
	if err != nil {
		m.errors++
		m.lastErr = err.Error()
		m.metrics.SampleError("motion")
		return fusion.Vector3{}, fmt.Errorf("motion: read acceleration: %w", err)
	}
	m.samples++
	m.lastAt = now
	m.lastErr = ""
	return raw, nil
}

// Sample reads one acceleration vector and feeds it to the filter. On error
// the filter keeps its previous state.
func (m *Monitor) Sample() error {
	raw, err := m.read()
	if err != nil {
		return err
	}
	m.filter.Update(raw)
	return nil
}

// PitchRoll returns tilt in degrees from one consistent filter snapshot.
func (m *Monitor) PitchRoll() (pitchDeg, rollDeg float64) {
	return m.filter.Smoothed().PitchRoll()
}

// Temperature reads the sensor die temperature. On a read error it returns
// the last good value; ok is false when there never was one.
func (m *Monitor) Temperature() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.dev.Temperature()
	if err != nil {
		m.errors++
		m.lastErr = err.Error()
		m.metrics.SampleError("motion")
		m.log.WithError(err).Warn("accelerometer temperature read failed")
		return m.tempC, m.tempOK
	}
	m.tempC = t
	m.tempOK = true
	return t, true
}

// Sigma returns the peak deviation since the previous call and resets it.
func (m *Monitor) Sigma() float64 {
	return m.filter.Take()
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		Running:          m.running,
		Settled:          m.settled,
		TemperatureC:     m.tempC,
		TemperatureValid: m.tempOK,
		Samples:          m.samples,
		Errors:           m.errors,
		LastSampleAt:     m.lastAt,
		LastError:        m.lastErr,
	}
	m.mu.Unlock()

	v := m.filter.Smoothed()
	snap.X, snap.Y, snap.Z = v.X, v.Y, v.Z
	snap.PitchDeg, snap.RollDeg = v.PitchRoll()
	snap.Peak = m.filter.Peak()
	return snap
}
