package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"polaris-ng/internal/airquality"
	"polaris-ng/internal/gnss"
	"polaris-ng/internal/logging"
	"polaris-ng/internal/metrics"
	"polaris-ng/internal/modem"
	"polaris-ng/internal/periodic"
)

type Motion interface {
	Sigma() float64
	PitchRoll() (pitchDeg, rollDeg float64)
	Temperature() (float64, bool)
}

type Air interface {
	SetLowPower(requested bool)
	WarmedUp() bool
	Resistance(gas airquality.Gas) (float64, bool)
	Environment() (airquality.Environment, bool)
}

type GNSS interface {
	HasFix() bool
	Fix() (gnss.Fix, bool)
	IsRunning() bool
	Restart(ctx context.Context) error
}

type Modem interface {
	RSSI() (float64, error)
	NetworkInfo() (modem.NetworkInfo, error)
	Clock() (time.Time, error)
}

type Power interface {
	BatteryVoltage() (float64, error)
	OnBackup() bool
}

type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Deps are the scheduler's collaborators. Motion and Publisher are required;
// any other may be nil when the hardware is absent.
type Deps struct {
	Motion    Motion
	Air       Air
	GNSS      GNSS
	Modem     Modem
	Power     Power
	Publisher Publisher
}

type Config struct {
	Period         time.Duration
	Poll           time.Duration
	NetInfoPeriod  time.Duration
	SigmaThreshold float64
	HDOPThreshold  float64
	VehicleType    string
}

func (c *Config) applyDefaults() {
	if c.Period <= 0 {
		c.Period = 5 * time.Second
	}
	if c.Poll <= 0 {
		c.Poll = time.Second
	}
	if c.NetInfoPeriod <= 0 {
		c.NetInfoPeriod = 60 * time.Second
	}
	if c.SigmaThreshold <= 0 {
		c.SigmaThreshold = 0.1
	}
	if c.HDOPThreshold <= 0 {
		c.HDOPThreshold = 2.5
	}
	if c.VehicleType == "" {
		c.VehicleType = "bike"
	}
}

// Field names, in emission order.
const (
	FieldBattery        = "battery"
	FieldTemperature    = "temperature"
	FieldPitch          = "pitch"
	FieldRoll           = "roll"
	FieldSigma          = "sigma"
	FieldLatitude       = "latitude"
	FieldLongitude      = "longitude"
	FieldAltitude       = "altitude"
	FieldSpeed          = "speed"
	FieldCOG            = "COG"
	FieldNSat           = "nsat"
	FieldHDOP           = "HDOP"
	FieldVDOP           = "VDOP"
	FieldPDOP           = "PDOP"
	FieldResNO2         = "res_NO2"
	FieldResNH3         = "res_NH3"
	FieldResCO          = "res_CO"
	FieldResVOC         = "res_VOC"
	FieldAirTemperature = "air_temperature"
	FieldAirHumidity    = "air_humidity"
	FieldAirPressure    = "air_pressure"
	FieldVehicleType    = "vehicleType"
	FieldRSSI           = "rssi"
	FieldRAT            = "rat"
	FieldMCC            = "mcc"
	FieldMNC            = "mnc"
	FieldLAC            = "lac"
	FieldCID            = "cid"
)

type Snapshot struct {
	Ticks        uint64    `json:"ticks"`
	Published    uint64    `json:"published"`
	Failed       uint64    `json:"failed"`
	LowPower     bool      `json:"low_power"`
	OnBackup     bool      `json:"on_backup"`
	LastTS       time.Time `json:"last_ts_utc,omitempty"`
	Last         *Record   `json:"last,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	GNSSRestarts uint64    `json:"gnss_restarts"`
	Fields       []string  `json:"fields,omitempty"`
}

// Scheduler fires at most once per Period, polling every Poll.
type Scheduler struct {
	cfg     Config
	deps    Deps
	log     *logrus.Entry
	metrics *metrics.Metrics

	gate    *Gate
	netGate *Gate

	mu        sync.Mutex
	primed    bool
	last      *Record
	lastTS    time.Time
	lowPower  bool
	onBackup  bool
	ticks     uint64
	published uint64
	failed    uint64
	restarts  uint64
	lastErr   string
}

func New(cfg Config, deps Deps, log *logrus.Entry, m *metrics.Metrics) (*Scheduler, error) {
	if deps.Motion == nil {
		return nil, fmt.Errorf("telemetry: motion source is required")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("telemetry: publisher is required")
	}
	cfg.applyDefaults()
	return &Scheduler{
		cfg:     cfg,
		deps:    deps,
		log:     logging.Component(log, "telemetry"),
		metrics: m,
		gate:    NewGate(cfg.Period),
		netGate: NewGate(cfg.NetInfoPeriod),
	}, nil
}

// Prime discards the sigma accumulated since start-up and, on mains power,
// switches the air monitor to active. Run calls it once.
func (s *Scheduler) Prime() {
	s.mu.Lock()
	if s.primed {
		s.mu.Unlock()
		return
	}
	s.primed = true
	s.mu.Unlock()

	_ = s.deps.Motion.Sigma()
	if !s.backup() && s.deps.Air != nil {
		s.deps.Air.SetLowPower(false)
	}
}

func (s *Scheduler) backup() bool {
	return s.deps.Power == nil || s.deps.Power.OnBackup()
}

// Run primes the scheduler and fires ticks until ctx ends.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Prime()
	s.log.WithFields(logrus.Fields{"period": s.cfg.Period, "poll": s.cfg.Poll}).Info("telemetry started")
	periodic.Run(ctx, nil, s.cfg.Poll, func(now time.Time) {
		if s.gate.Allow(now) {
			s.Tick(ctx, now)
		}
	})
	return ctx.Err()
}

// Tick assembles, publishes and returns one record. It does not consult the
// rate gate.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) *Record {
	d := s.deps

	sigma := d.Motion.Sigma()
	lowPower := sigma < s.cfg.SigmaThreshold
	onBackup := s.backup()
	if d.Air != nil {
		if onBackup {
			d.Air.SetLowPower(lowPower)
		} else {
			d.Air.SetLowPower(false)
		}
	}

	ts := now.UTC()
	if d.Modem != nil {
		if clk, err := d.Modem.Clock(); err == nil && !clk.IsZero() {
			ts = clk
		} else if err != nil {
			s.log.WithError(err).Debug("modem clock unavailable")
		}
	}

	rec := NewRecord()

	if d.Power != nil {
		if v, err := d.Power.BatteryVoltage(); err == nil {
			setDecimal(rec, FieldBattery, 3, v)
		} else {
			s.log.WithError(err).Debug("battery voltage unavailable")
		}
	}
	if c, ok := d.Motion.Temperature(); ok {
		setDecimal(rec, FieldTemperature, 2, c)
	}
	pitch, roll := d.Motion.PitchRoll()
	setDecimal(rec, FieldPitch, 1, pitch)
	setDecimal(rec, FieldRoll, 1, roll)
	setDecimal(rec, FieldSigma, 3, sigma)

	if !lowPower && d.GNSS != nil && d.GNSS.HasFix() {
		if fix, ok := d.GNSS.Fix(); ok {
			if fix.HDOP < s.cfg.HDOPThreshold {
				setDecimal(rec, FieldLatitude, 6, fix.Latitude)
				setDecimal(rec, FieldLongitude, 6, fix.Longitude)
				setDecimal(rec, FieldAltitude, 1, fix.AltitudeM)
				setDecimal(rec, FieldSpeed, 1, fix.SpeedKmh)
				setDecimal(rec, FieldCOG, 1, fix.COG)
			}
			rec.Set(FieldNSat, fix.NSat)
			setDecimal(rec, FieldHDOP, 2, fix.HDOP)
			setDecimal(rec, FieldVDOP, 2, fix.VDOP)
			setDecimal(rec, FieldPDOP, 2, fix.PDOP)
			if !fix.Time.IsZero() {
				ts = fix.Time
			}
		}
	}

	warmedUp := false
	if d.Air != nil {
		warmedUp = d.Air.WarmedUp()
		if warmedUp {
			for _, g := range []struct {
				gas  airquality.Gas
				name string
			}{
				{airquality.GasNO2, FieldResNO2},
				{airquality.GasNH3, FieldResNH3},
				{airquality.GasCO, FieldResCO},
				{airquality.GasVOC, FieldResVOC},
			} {
				// A zero resistance is a clamped or missing reading.
				if r, ok := d.Air.Resistance(g.gas); ok && r > 0 {
					rec.Set(g.name, int64(r))
					s.metrics.ObserveGas(g.gas.String(), r)
				}
			}
		}
		if env, ok := d.Air.Environment(); ok && !env.IsZero() {
			setDecimal(rec, FieldAirTemperature, 2, env.TemperatureC)
			setDecimal(rec, FieldAirHumidity, 2, env.HumidityPct)
			setDecimal(rec, FieldAirPressure, 2, env.PressureHPa)
		}
	}

	rec.Set(FieldVehicleType, s.cfg.VehicleType)

	if d.Modem != nil {
		if rssi, err := d.Modem.RSSI(); err == nil {
			setDecimal(rec, FieldRSSI, 1, rssi)
		} else {
			s.log.WithError(err).Debug("rssi unavailable")
		}
		if s.netGate.Allow(now) {
			if ni, err := d.Modem.NetworkInfo(); err == nil {
				rec.Set(FieldRAT, ni.RAT)
				rec.Set(FieldMCC, ni.MCC)
				rec.Set(FieldMNC, ni.MNC)
				rec.Set(FieldLAC, ni.LAC)
				rec.Set(FieldCID, ni.CID)
			} else {
				s.log.WithError(err).Warn("network info unavailable")
			}
		}
	}

	s.metrics.Tick()
	s.metrics.ObserveMotion(sigma, pitch, roll)
	s.metrics.ObservePower(lowPower, warmedUp)

	err := s.publish(ctx, ts, rec)

	s.mu.Lock()
	s.ticks++
	s.last = rec
	s.lastTS = ts
	s.lowPower = lowPower
	s.onBackup = onBackup
	if err != nil {
		s.failed++
		s.lastErr = err.Error()
	} else {
		s.published++
		s.lastErr = ""
	}
	s.mu.Unlock()

	if d.GNSS != nil && !d.GNSS.IsRunning() {
		s.log.Warn("gnss reader stalled; restarting")
		if err := d.GNSS.Restart(ctx); err != nil {
			s.log.WithError(err).Error("gnss restart failed")
		}
		s.metrics.GNSSRestarted()
		s.mu.Lock()
		s.restarts++
		s.mu.Unlock()
	}
	return rec
}

func (s *Scheduler) publish(ctx context.Context, ts time.Time, rec *Record) error {
	payload, err := Encode(ts, rec)
	if err != nil {
		s.log.WithError(err).Error("telemetry encode failed")
		return err
	}
	err = s.deps.Publisher.Publish(ctx, payload)
	s.metrics.Published(err)
	if err != nil {
		s.log.WithError(err).Error("telemetry publish failed")
		return err
	}
	s.log.WithFields(logrus.Fields{
		"fields": rec.Len(),
		"size":   humanize.Bytes(uint64(len(payload))),
	}).Debugf("telemetry %s", payload)
	return nil
}

// Last returns a copy of the most recent record and its timestamp.
func (s *Scheduler) Last() (*Record, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last.Clone(), s.lastTS
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Ticks:        s.ticks,
		Published:    s.published,
		Failed:       s.failed,
		LowPower:     s.lowPower,
		OnBackup:     s.onBackup,
		LastTS:       s.lastTS,
		Last:         s.last.Clone(),
		LastError:    s.lastErr,
		GNSSRestarts: s.restarts,
		Fields:       s.last.Names(),
	}
}
