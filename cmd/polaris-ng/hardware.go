package main

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"polaris-ng/internal/airquality"
	"polaris-ng/internal/config"
	"polaris-ng/internal/i2c"
	"polaris-ng/internal/motion"
	"polaris-ng/internal/power"
	"polaris-ng/internal/sensors/ads1015"
	"polaris-ng/internal/sensors/airquality5"
	"polaris-ng/internal/sensors/bme280"
	"polaris-ng/internal/sensors/icm20948"
	"polaris-ng/internal/telemetry"
)

// hardware holds the opened drivers. Optional parts are nil interfaces when
// the device was not found.
type hardware struct {
	accel motion.Accelerometer
	gas   airquality.GasSensor
	env   airquality.EnvSensor
	rail  airquality.Rail
	power telemetry.Power
	bus   *i2c.Bus

	closers []io.Closer
}

func (hw *hardware) Close() {
	for i := len(hw.closers) - 1; i >= 0; i-- {
		_ = hw.closers[i].Close()
	}
	hw.closers = nil
}

func addrOr(addr, def uint16) uint16 {
	if addr == 0 {
		return def
	}
	return addr
}

// openHardware probes the I2C bus. Only the accelerometer is mandatory.
func openHardware(cfg config.Config, log *logrus.Entry) (*hardware, error) {
	bus, err := i2c.Open(cfg.I2C.Bus)
	if err != nil {
		return nil, fmt.Errorf("i2c open %s: %w", cfg.I2C.Bus, err)
	}
	hw := &hardware{bus: bus, closers: []io.Closer{bus}}

	accel, err := icm20948.New(bus.Dev(addrOr(cfg.I2C.AccelAddr, icm20948.DefaultAddress())))
	if err != nil {
		hw.Close()
		return nil, fmt.Errorf("accelerometer: %w", err)
	}
	hw.accel = accel

	if cfg.Air.Enabled() {
		if env, err := bme280.New(bus.Dev(addrOr(cfg.I2C.EnvAddr, bme280.DefaultAddress()))); err != nil {
			log.WithError(err).Warn("environmental sensor not found")
		} else {
			hw.env = env
		}

		if adc, err := ads1015.New(bus.Dev(addrOr(cfg.I2C.ADCAddr, ads1015.DefaultAddress()))); err != nil {
			log.WithError(err).Warn("gas sensor adc not found")
		} else if gas, err := airquality5.New(adc); err != nil {
			log.WithError(err).Warn("gas sensor init failed")
		} else {
			hw.gas = gas
		}

		if cfg.Power.RailLine != "" {
			if rail, err := power.OpenRail(cfg.Power.RailLine); err != nil {
				log.WithError(err).WithField("line", cfg.Power.RailLine).Warn("heater rail unavailable")
			} else {
				hw.rail = rail
				hw.closers = append(hw.closers, rail)
			}
		}
	}

	hw.power = power.NewSupply(cfg.Power.BatterySupply, cfg.Power.MainsSupply)
	return hw, nil
}
