package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"polaris-ng/internal/airquality"
	"polaris-ng/internal/config"
	"polaris-ng/internal/gnss"
	"polaris-ng/internal/metrics"
	"polaris-ng/internal/modem"
	"polaris-ng/internal/motion"
	"polaris-ng/internal/publish"
	"polaris-ng/internal/telemetry"
	"polaris-ng/internal/web"
)

var openModem = modem.Open

type liveRuntime struct {
	log *logrus.Entry
	hw  *hardware

	motion   *motion.Monitor
	air      *airquality.Monitor
	gnssSvc  *gnss.Service
	modemDev *modem.Modem
	pub      *publish.Publisher
	sched    *telemetry.Scheduler

	deviceID string
}

// clientID picks the MQTT client identifier: configured, then modem IMEI,
// then empty so the publisher generates one.
func clientID(configured, imei string) string {
	if s := strings.TrimSpace(configured); s != "" {
		return s
	}
	if s := strings.TrimSpace(imei); s != "" {
		return "polaris-" + s
	}
	return ""
}

// newLiveRuntime builds and starts every service on top of hw. On error all
// started services are closed, hw included.
func newLiveRuntime(ctx context.Context, cfg config.Config, hw *hardware, log *logrus.Entry, m *metrics.Metrics, status *web.Status) (*liveRuntime, error) {
	if hw == nil || hw.accel == nil {
		if hw != nil {
			hw.Close()
		}
		return nil, fmt.Errorf("accelerometer is required")
	}
	r := &liveRuntime{log: log, hw: hw}

	mon, err := motion.New(motion.Config{
		Period:        cfg.Motion.Period,
		SettleSamples: cfg.Motion.Settle(),
		SettleDelay:   cfg.Motion.SettleDelay,
		LowPassCoef:   cfg.Motion.LowPassCoef,
	}, hw.accel, log, m)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.motion = mon
	if err := mon.Start(ctx); err != nil {
		r.Close()
		return nil, err
	}

	deps := telemetry.Deps{Motion: mon, Power: hw.power}

	if cfg.Air.Enabled() {
		r.air = airquality.New(airquality.Config{
			Period: cfg.Air.Period,
			Warmup: cfg.Air.Warmup,
		}, hw.gas, hw.env, hw.rail, log, m)
		if err := r.air.Start(ctx); err != nil {
			r.Close()
			return nil, err
		}
		deps.Air = r.air
	}

	if cfg.GNSS.Enable {
		r.gnssSvc = gnss.New(gnss.Config{
			Device:     cfg.GNSS.Device,
			Baud:       cfg.GNSS.Baud,
			StaleAfter: cfg.GNSS.StaleAfter,
		}, log)
		if err := r.gnssSvc.Start(ctx); err != nil {
			// The scheduler retries through Restart.
			log.WithError(err).Warn("gnss init failed")
		}
		deps.GNSS = r.gnssSvc
	}

	var imei string
	if cfg.Modem.Enable {
		md, err := openModem(modem.Config{
			Device:  cfg.Modem.Device,
			Baud:    cfg.Modem.Baud,
			Timeout: cfg.Modem.Timeout,
		}, log)
		if err != nil {
			log.WithError(err).Warn("modem unavailable")
		} else {
			r.modemDev = md
			deps.Modem = md
			if imei, err = md.IMEI(); err != nil {
				log.WithError(err).Debug("imei unavailable")
			}
		}
	}
	r.deviceID = imei

	pub, err := publish.New(publish.Config{
		Broker:         cfg.MQTT.Broker,
		Topic:          cfg.MQTT.Topic,
		ClientID:       clientID(cfg.MQTT.ClientID, imei),
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		QoS:            byte(cfg.MQTT.QoS),
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		ConnectRetries: cfg.MQTT.ConnectRetries,
	}, log)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.pub = pub
	if r.deviceID == "" {
		r.deviceID = pub.Snapshot().ClientID
	}
	if err := pub.Connect(ctx); err != nil {
		// Publish reconnects on the next record.
		log.WithError(err).Error("mqtt connect failed")
	}
	deps.Publisher = pub

	sched, err := telemetry.New(telemetry.Config{
		Period:         cfg.Telemetry.Period,
		Poll:           cfg.Telemetry.Poll,
		NetInfoPeriod:  cfg.Telemetry.NetInfoPeriod,
		SigmaThreshold: cfg.Telemetry.SigmaThreshold,
		HDOPThreshold:  cfg.Telemetry.HDOPThreshold,
		VehicleType:    cfg.Telemetry.VehicleType,
	}, deps, log, m)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.sched = sched

	r.register(status)
	return r, nil
}

func (r *liveRuntime) register(status *web.Status) {
	if status == nil {
		return
	}
	mon, pub, sched := r.motion, r.pub, r.sched
	status.Register("motion", func() any { return mon.Snapshot() })
	if air := r.air; air != nil {
		status.Register("air", func() any { return air.Snapshot() })
	}
	if svc := r.gnssSvc; svc != nil {
		status.Register("gnss", func() any { return svc.Snapshot() })
	}
	if bus := r.hw.bus; bus != nil {
		status.Register("i2c", func() any { return bus.Stats() })
	}
	if supply := r.hw.power; supply != nil {
		status.Register("power", func() any {
			out := map[string]any{"on_backup": supply.OnBackup()}
			if v, err := supply.BatteryVoltage(); err == nil {
				out["battery_v"] = v
			}
			return out
		})
	}
	status.Register("publish", func() any { return pub.Snapshot() })
	status.Register("telemetry", func() any { return sched.Snapshot() })
}

// Run blocks in the telemetry loop until ctx ends.
func (r *liveRuntime) Run(ctx context.Context) error {
	return r.sched.Run(ctx)
}

func (r *liveRuntime) Close() {
	if r == nil {
		return
	}
	if r.pub != nil {
		_ = r.pub.Close()
		r.pub = nil
	}
	if r.modemDev != nil {
		_ = r.modemDev.Close()
		r.modemDev = nil
	}
	if r.gnssSvc != nil {
		r.gnssSvc.Stop()
		r.gnssSvc = nil
	}
	if r.air != nil {
		r.air.Close()
		r.air = nil
	}
	if r.motion != nil {
		r.motion.Close()
		r.motion = nil
	}
	if r.hw != nil {
		r.hw.Close()
	}
}
