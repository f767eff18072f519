// Package airquality runs the gas and environmental sensor sampling loop and
// owns the heater power state machine.
package airquality

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"polaris-ng/internal/logging"
	"polaris-ng/internal/metrics"
	"polaris-ng/internal/periodic"
)

// GasResistances are the three MiCS-6814 sensing resistances in ohms.
type GasResistances struct {
	NH3 float64
	CO  float64
	NO2 float64
}

// Environment is one environmental sensor reading.
type Environment struct {
	TemperatureC float64 `json:"temperature_c"`
	HumidityPct  float64 `json:"humidity_pct"`
	PressureHPa  float64 `json:"pressure_hpa"`
	// GasOhms is the VOC hot-plate resistance, valid only when HasGas.
	GasOhms float64 `json:"gas_ohms,omitempty"`
	HasGas  bool    `json:"has_gas"`
}

// IsZero reports whether temperature, humidity and pressure are all exactly
// zero, which the sensors produce before their first conversion.
func (e Environment) IsZero() bool {
	return e.TemperatureC == 0 && e.HumidityPct == 0 && e.PressureHPa == 0
}

type GasSensor interface {
	Measure() (GasResistances, error)
}

type EnvSensor interface {
	Read() (Environment, error)
}

// Rail switches the 5 V heater/radio supply. Calls must be idempotent.
type Rail interface {
	Enable() error
	Disable() error
}

type Config struct {
	Period time.Duration
	// Warmup is how long the heater must stay on before gas readings count.
	Warmup time.Duration
}

func (c *Config) applyDefaults() {
	if c.Period <= 0 {
		c.Period = 800 * time.Millisecond
	}
	if c.Warmup <= 0 {
		c.Warmup = 60 * time.Second
	}
}

type Snapshot struct {
	GasPresent bool `json:"gas_present"`
	EnvPresent bool `json:"env_present"`

	LowPower bool      `json:"low_power"`
	WarmedUp bool      `json:"warmed_up"`
	Since    time.Time `json:"since_utc"`

	RatioNH3 float64 `json:"ratio_nh3"`
	RatioCO  float64 `json:"ratio_co"`
	RatioNO2 float64 `json:"ratio_no2"`

	Environment *Environment `json:"environment,omitempty"`

	Samples   uint64 `json:"samples"`
	Errors    uint64 `json:"errors"`
	LastError string `json:"last_error,omitempty"`
}

type Monitor struct {
	cfg     Config
	log     *logrus.Entry
	metrics *metrics.Metrics

	gas  GasSensor
	env  EnvSensor
	rail Rail

	mu       sync.Mutex
	ratioNH3 float64
	ratioCO  float64
	ratioNO2 float64
	haveGas  bool
	envRead  Environment
	haveEnv  bool
	lowPower bool
	since    time.Time
	samples  uint64
	errors   uint64
	lastErr  string

	startOnce sync.Once
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopCh    chan struct{}

	now func() time.Time
}

// New builds a monitor in low-power mode. gas and env may be nil when the
// module was not found at start-up; rail may be nil when the heater supply
// is not switchable.
func New(cfg Config, gas GasSensor, env EnvSensor, rail Rail, log *logrus.Entry, m *metrics.Metrics) *Monitor {
	cfg.applyDefaults()
	mon := &Monitor{
		cfg:      cfg,
		log:      logging.Component(log, "air"),
		metrics:  m,
		gas:      gas,
		env:      env,
		rail:     rail,
		lowPower: true,
		stopCh:   make(chan struct{}),
		now:      func() time.Time { return time.Now().UTC() },
	}
	mon.since = mon.now()
	if gas == nil {
		mon.log.Warn("gas sensor module not present; heater stays off")
	}
	if env == nil {
		mon.log.Warn("environmental sensor not present")
	}
	return mon
}

// Start drives the rail to match the current power state and launches the
// sampling task.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return fmt.Errorf("airquality: monitor is nil")
	}
	started := false
	m.startOnce.Do(func() {
		started = true
		m.mu.Lock()
		m.actuateLocked()
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.log.WithField("period", m.cfg.Period).Info("air sampling started")
			periodic.Run(ctx, m.stopCh, m.cfg.Period, func(time.Time) {
				if err := m.Sample(); err != nil {
					m.log.WithError(err).Warn("air sample failed")
				}
			})
		}()
	})
	if !started {
		return fmt.Errorf("airquality: already started")
	}
	return nil
}

// Close stops the sampling task. The rail is left as it is.
func (m *Monitor) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// SetLowPower requests a power mode. Without a gas module the monitor stays
// in low power whatever is requested.
func (m *Monitor) SetLowPower(requested bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := requested || m.gas == nil
	if target != m.lowPower {
		// Entering either state restarts the warm-up clock.
		m.since = m.now()
		m.log.WithField("low_power", target).Info("air power mode changed")
	}
	m.lowPower = target
	m.actuateLocked()
}

func (m *Monitor) actuateLocked() {
	if m.rail == nil {
		return
	}
	var err error
	if m.lowPower {
		err = m.rail.Disable()
	} else {
		err = m.rail.Enable()
	}
	if err != nil {
		m.log.WithError(err).Warn("heater rail switch failed")
	}
}

func (m *Monitor) LowPower() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lowPower
}

// WarmedUp reports whether the heater has been on continuously for longer
// than the warm-up time.
func (m *Monitor) WarmedUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warmedUpLocked()
}

func (m *Monitor) warmedUpLocked() bool {
	return !m.lowPower && m.now().Sub(m.since) > m.cfg.Warmup
}

// Sample takes one reading from each present sensor. In low power it only
// pushes the warm-up clock forward.
func (m *Monitor) Sample() error {
	m.mu.Lock()
	if m.lowPower {
		m.since = m.now()
		m.mu.Unlock()
		return nil
	}
	gas, env := m.gas, m.env
	m.mu.Unlock()

	var errs []error

	var res GasResistances
	gasOK := false
	if gas != nil {
		r, err := gas.Measure()
		if err != nil {
			errs = append(errs, fmt.Errorf("airquality: gas measure: %w", err))
		} else {
			res, gasOK = r, true
		}
	}

	var envRead Environment
	envOK := false
	if env != nil {
		e, err := env.Read()
		if err != nil {
			errs = append(errs, fmt.Errorf("airquality: env read: %w", err))
		} else {
			envRead, envOK = e, true
		}
	}

	m.mu.Lock()
	if gasOK {
		m.ratioNH3 = nonNegative(res.NH3) / R0NH3
		m.ratioCO = nonNegative(res.CO) / R0CO
		m.ratioNO2 = nonNegative(res.NO2) / R0NO2
		m.haveGas = true
	}
	if envOK {
		m.envRead = envRead
		m.haveEnv = true
	}
	err := errors.Join(errs...)
	if err != nil {
		m.errors++
		m.lastErr = err.Error()
	} else {
		m.samples++
		m.lastErr = ""
	}
	m.mu.Unlock()

	if err != nil {
		m.metrics.SampleError("air")
	}
	return err
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func (m *Monitor) ratioLocked(ch channel) float64 {
	switch ch {
	case channelNH3:
		return m.ratioNH3
	case channelCO:
		return m.ratioCO
	default:
		return m.ratioNO2
	}
}

// Resistance returns the sensing resistance in ohms for CO, NO2 and NH3, or
// the raw VOC resistance for GasVOC. ok is false when no sensor backs the gas
// or nothing has been read yet.
func (m *Monitor) Resistance(gas Gas) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch gas {
	case GasCO:
		if !m.haveGas {
			return 0, false
		}
		return m.ratioCO * R0CO, true
	case GasNO2:
		if !m.haveGas {
			return 0, false
		}
		return m.ratioNO2 * R0NO2, true
	case GasNH3:
		if !m.haveGas {
			return 0, false
		}
		return m.ratioNH3 * R0NH3, true
	case GasVOC:
		if !m.haveEnv || !m.envRead.HasGas {
			return 0, false
		}
		return m.envRead.GasOhms, true
	default:
		return 0, false
	}
}

// PPM estimates the concentration of gas from its vendor curve. ok is false
// for VOC, for unknown gases, before the first reading, and when the sensing
// ratio is zero (the curve is undefined there).
func (m *Monitor) PPM(gas Gas) (float64, bool) {
	c, known := curves[gas]
	if !known {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveGas {
		return 0, false
	}
	r := m.ratioLocked(c.channel)
	if r <= 0 {
		return 0, false
	}
	return c.ppm(r), true
}

// Environment returns the last environmental reading.
func (m *Monitor) Environment() (Environment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveEnv {
		return Environment{}, false
	}
	return m.envRead, true
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		GasPresent: m.gas != nil,
		EnvPresent: m.env != nil,
		LowPower:   m.lowPower,
		WarmedUp:   m.warmedUpLocked(),
		Since:      m.since,
		RatioNH3:   m.ratioNH3,
		RatioCO:    m.ratioCO,
		RatioNO2:   m.ratioNO2,
		Samples:    m.samples,
		Errors:     m.errors,
		LastError:  m.lastErr,
	}
	if m.haveEnv {
		e := m.envRead
		s.Environment = &e
	}
	return s
}
