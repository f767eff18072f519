// Package metrics exposes the device's derived signals as Prometheus
// collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "polaris"

type Metrics struct {
	reg *prometheus.Registry

	sigma    prometheus.Gauge
	pitch    prometheus.Gauge
	roll     prometheus.Gauge
	lowPower prometheus.Gauge
	warmedUp prometheus.Gauge

	gasResistance *prometheus.GaugeVec
	sampleErrors  *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	ticks         prometheus.Counter
	gnssRestarts  prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		sigma: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "motion_sigma",
			Help: "Peak deviation between raw and smoothed acceleration over the last telemetry window (m/s²).",
		}),
		pitch: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "motion_pitch_degrees",
			Help: "Filtered pitch.",
		}),
		roll: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "motion_roll_degrees",
			Help: "Filtered roll.",
		}),
		lowPower: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "low_power",
			Help: "1 when the scheduler decided low-power mode on the last tick.",
		}),
		warmedUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "air_warmed_up",
			Help: "1 when the gas sensor heater has been on long enough for valid readings.",
		}),
		gasResistance: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "air_gas_resistance_ohms",
			Help: "Sensing resistance per gas channel.",
		}, []string{"gas"}),
		sampleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sample_errors_total",
			Help: "Sensor read failures inside the sampling loops.",
		}, []string{"monitor"}),
		publishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "telemetry_publish_total",
			Help: "Telemetry publish attempts by result.",
		}, []string{"result"}),
		ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "telemetry_ticks_total",
			Help: "Telemetry records assembled.",
		}),
		gnssRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "gnss_restarts_total",
			Help: "GNSS reader restarts after a stall.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) SampleError(monitor string) {
	if m == nil {
		return
	}
	m.sampleErrors.WithLabelValues(monitor).Inc()
}

func (m *Metrics) ObserveMotion(sigma, pitchDeg, rollDeg float64) {
	if m == nil {
		return
	}
	m.sigma.Set(sigma)
	m.pitch.Set(pitchDeg)
	m.roll.Set(rollDeg)
}

func (m *Metrics) ObservePower(lowPower, warmedUp bool) {
	if m == nil {
		return
	}
	m.lowPower.Set(boolGauge(lowPower))
	m.warmedUp.Set(boolGauge(warmedUp))
}

func (m *Metrics) ObserveGas(gas string, ohms float64) {
	if m == nil {
		return
	}
	m.gasResistance.WithLabelValues(gas).Set(ohms)
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.publishes.WithLabelValues("error").Inc()
		return
	}
	m.publishes.WithLabelValues("ok").Inc()
}

func (m *Metrics) GNSSRestarted() {
	if m == nil {
		return
	}
	m.gnssRestarts.Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
