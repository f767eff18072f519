package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	I2C       I2CConfig       `yaml:"i2c"`
	Power     PowerConfig     `yaml:"power"`
	Motion    MotionConfig    `yaml:"motion"`
	Air       AirConfig       `yaml:"air"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	GNSS      GNSSConfig      `yaml:"gnss"`
	Modem     ModemConfig     `yaml:"modem"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
}

type I2CConfig struct {
	Bus string `yaml:"bus"`
	// Addresses of zero select each driver's default.
	AccelAddr uint16 `yaml:"accel_addr"`
	EnvAddr   uint16 `yaml:"env_addr"`
	ADCAddr   uint16 `yaml:"adc_addr"`
}

type PowerConfig struct {
	// RailLine is the GPIO line name switching the gas sensor heater.
	// Empty leaves the heater unmanaged.
	RailLine      string `yaml:"rail_line"`
	BatterySupply string `yaml:"battery_supply"`
	MainsSupply   string `yaml:"mains_supply"`
}

const (
	defaultSettleSamples = 15
	maxMotionPeriod      = 100 * time.Millisecond
)

type MotionConfig struct {
	Period time.Duration `yaml:"period"`
	// SettleSamples absent means the default; 0 disables settling.
	SettleSamples *int          `yaml:"settle_samples"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	LowPassCoef   float64       `yaml:"lowpass_coef"`
}

// Settle returns the configured settle sample count.
func (m MotionConfig) Settle() int {
	if m.SettleSamples == nil {
		return defaultSettleSamples
	}
	return *m.SettleSamples
}

type AirConfig struct {
	Enable *bool         `yaml:"enable"`
	Period time.Duration `yaml:"period"`
	Warmup time.Duration `yaml:"warmup"`
}

// Enabled reports whether the air-quality monitor should run. Absent means
// enabled.
func (a AirConfig) Enabled() bool {
	return a.Enable == nil || *a.Enable
}

type TelemetryConfig struct {
	Period         time.Duration `yaml:"period"`
	Poll           time.Duration `yaml:"poll"`
	NetInfoPeriod  time.Duration `yaml:"netinfo_period"`
	SigmaThreshold float64       `yaml:"sigma_threshold"`
	HDOPThreshold  float64       `yaml:"hdop_threshold"`
	VehicleType    string        `yaml:"vehicle_type"`
}

type GNSSConfig struct {
	Enable     bool          `yaml:"enable"`
	Device     string        `yaml:"device"`
	Baud       int           `yaml:"baud"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type ModemConfig struct {
	Enable  bool          `yaml:"enable"`
	Device  string        `yaml:"device"`
	Baud    int           `yaml:"baud"`
	Timeout time.Duration `yaml:"timeout"`
}

type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	Topic          string        `yaml:"topic"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            int           `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keepalive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ConnectRetries int           `yaml:"connect_retries"`
}

type WebConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, unknownFieldsError(err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var linePrefix = regexp.MustCompile(`^line \d+: `)

// unknownFieldsError condenses yaml.v3's multi-line TypeError for typos in
// key names; other decode errors pass through.
func unknownFieldsError(err error) error {
	var te *yaml.TypeError
	if !errors.As(err, &te) {
		return err
	}
	var unknown []string
	for _, msg := range te.Errors {
		msg = linePrefix.ReplaceAllString(msg, "")
		if !strings.Contains(msg, "not found in type") {
			return err
		}
		unknown = append(unknown, msg)
	}
	return fmt.Errorf("config contains unknown fields: %s", strings.Join(unknown, "; "))
}

func (cfg *Config) applyDefaults() {
	if cfg.I2C.Bus == "" {
		cfg.I2C.Bus = "/dev/i2c-1"
	}

	if cfg.Motion.Period == 0 {
		cfg.Motion.Period = 10 * time.Millisecond
	}
	if cfg.Motion.SettleSamples == nil {
		n := defaultSettleSamples
		cfg.Motion.SettleSamples = &n
	}
	if cfg.Motion.SettleDelay == 0 {
		cfg.Motion.SettleDelay = 10 * time.Millisecond
	}
	if cfg.Motion.LowPassCoef == 0 {
		cfg.Motion.LowPassCoef = 0.25
	}

	if cfg.Air.Period == 0 {
		cfg.Air.Period = 800 * time.Millisecond
	}
	if cfg.Air.Warmup == 0 {
		cfg.Air.Warmup = 60 * time.Second
	}

	if cfg.Telemetry.Period == 0 {
		cfg.Telemetry.Period = 5 * time.Second
	}
	if cfg.Telemetry.Poll == 0 {
		cfg.Telemetry.Poll = time.Second
	}
	if cfg.Telemetry.NetInfoPeriod == 0 {
		cfg.Telemetry.NetInfoPeriod = 60 * time.Second
	}
	if cfg.Telemetry.SigmaThreshold == 0 {
		cfg.Telemetry.SigmaThreshold = 0.1
	}
	if cfg.Telemetry.HDOPThreshold == 0 {
		cfg.Telemetry.HDOPThreshold = 2.5
	}
	if cfg.Telemetry.VehicleType == "" {
		cfg.Telemetry.VehicleType = "bike"
	}

	if cfg.GNSS.Device == "" {
		cfg.GNSS.Device = "/dev/ttyUSB1"
	}
	if cfg.GNSS.Baud == 0 {
		cfg.GNSS.Baud = 9600
	}
	if cfg.GNSS.StaleAfter == 0 {
		cfg.GNSS.StaleAfter = 10 * time.Second
	}

	if cfg.Modem.Device == "" {
		cfg.Modem.Device = "/dev/ttyUSB2"
	}
	if cfg.Modem.Baud == 0 {
		cfg.Modem.Baud = 115200
	}
	if cfg.Modem.Timeout == 0 {
		cfg.Modem.Timeout = 5 * time.Second
	}

	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "v1/devices/me/telemetry"
	}
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = 60 * time.Second
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = 10 * time.Second
	}
	if cfg.MQTT.ConnectRetries == 0 {
		cfg.MQTT.ConnectRetries = 15
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func (cfg *Config) validate() error {
	if cfg.Motion.LowPassCoef <= 0 || cfg.Motion.LowPassCoef > 1 {
		return fmt.Errorf("motion.lowpass_coef must be in (0,1]")
	}
	if cfg.Motion.Settle() < 0 {
		return fmt.Errorf("motion.settle_samples must be >= 0")
	}
	if cfg.Motion.Period > maxMotionPeriod {
		return fmt.Errorf("motion.period must be <= %s", maxMotionPeriod)
	}

	periods := []struct {
		key string
		d   time.Duration
	}{
		{"motion.period", cfg.Motion.Period},
		{"motion.settle_delay", cfg.Motion.SettleDelay},
		{"air.period", cfg.Air.Period},
		{"air.warmup", cfg.Air.Warmup},
		{"telemetry.period", cfg.Telemetry.Period},
		{"telemetry.poll", cfg.Telemetry.Poll},
		{"telemetry.netinfo_period", cfg.Telemetry.NetInfoPeriod},
		{"gnss.stale_after", cfg.GNSS.StaleAfter},
		{"modem.timeout", cfg.Modem.Timeout},
		{"mqtt.keepalive", cfg.MQTT.KeepAlive},
		{"mqtt.connect_timeout", cfg.MQTT.ConnectTimeout},
	}
	for _, p := range periods {
		if p.d < 0 {
			return fmt.Errorf("%s must be > 0", p.key)
		}
	}
	if cfg.Telemetry.Poll > cfg.Telemetry.Period {
		return fmt.Errorf("telemetry.poll must not exceed telemetry.period")
	}
	if cfg.Telemetry.SigmaThreshold < 0 {
		return fmt.Errorf("telemetry.sigma_threshold must be >= 0")
	}
	if cfg.Telemetry.HDOPThreshold < 0 {
		return fmt.Errorf("telemetry.hdop_threshold must be >= 0")
	}

	if strings.TrimSpace(cfg.MQTT.Broker) == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if cfg.MQTT.QoS < 0 || cfg.MQTT.QoS > 1 {
		return fmt.Errorf("mqtt.qos must be 0 or 1")
	}
	if cfg.MQTT.ConnectRetries < 0 {
		return fmt.Errorf("mqtt.connect_retries must be >= 0")
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not a known level", cfg.Log.Level)
	}
	return nil
}
