// Package airquality5 reads the three MiCS-6814 sensing resistances from a
// MikroE Air quality 5 click, which sits the sensor behind an ADS1015.
package airquality5

import (
	"fmt"
	"time"

	"polaris-ng/internal/airquality"
	"polaris-ng/internal/sensors/ads1015"
)

var sleep = time.Sleep

const (
	chanNO2 = ads1015.MuxAIN0
	chanNH3 = ads1015.MuxAIN1
	chanCO  = ads1015.MuxAIN2

	// Load resistors on the click board, in ohms.
	pullupNO2 = 15.0e3
	pullupNH3 = 1.1e6
	pullupCO  = 1.1e6

	samplesPerChannel = 64
	// One LSB is 2 mV at the ±4.096 V range.
	mVPerLSB = 2.0
	// Supply rail in mV.
	supplyMV = 3300.0
)

type adc interface {
	Configure(cfg ads1015.Config) error
	ReadRaw() (int16, error)
}

type Sensor struct {
	adc adc
}

// New wraps an ADC and leaves it powered down.
func New(a *ads1015.Device) (*Sensor, error) {
	if a == nil {
		return nil, fmt.Errorf("airquality5: adc is nil")
	}
	return newWithADC(a)
}

func newWithADC(a adc) (*Sensor, error) {
	s := &Sensor{adc: a}
	if err := s.standby(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sensor) standby() error {
	return s.adc.Configure(ads1015.Config{Mux: ads1015.MuxAIN0, Gain: ads1015.Gain4V096, Rate: ads1015.Rate1600})
}

// readMV averages a channel in continuous mode and returns millivolts.
func (s *Sensor) readMV(ch ads1015.Mux) (float64, error) {
	cfg := ads1015.Config{Mux: ch, Gain: ads1015.Gain4V096, Rate: ads1015.Rate1600, Continuous: true}
	if err := s.adc.Configure(cfg); err != nil {
		return 0, err
	}
	var sum float64
	var readErr error
	for i := 0; i < samplesPerChannel; i++ {
		sleep(time.Millisecond)
		v, err := s.adc.ReadRaw()
		if err != nil {
			readErr = err
			break
		}
		sum += float64(v)
	}
	if err := s.standby(); err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		return 0, readErr
	}
	return sum * mVPerLSB / samplesPerChannel, nil
}

func resistance(pullup, mV float64) float64 {
	if mV > supplyMV {
		mV = supplyMV
	}
	if mV < 0 {
		mV = 0
	}
	return pullup * mV / (supplyMV + 1 - mV)
}

// Measure returns the NH3, CO and NO2 sensing resistances in ohms.
func (s *Sensor) Measure() (airquality.GasResistances, error) {
	var r airquality.GasResistances
	for _, ch := range []struct {
		mux    ads1015.Mux
		pullup float64
		dst    *float64
		name   string
	}{
		{chanNH3, pullupNH3, &r.NH3, "NH3"},
		{chanCO, pullupCO, &r.CO, "CO"},
		{chanNO2, pullupNO2, &r.NO2, "NO2"},
	} {
		mV, err := s.readMV(ch.mux)
		if err != nil {
			return airquality.GasResistances{}, fmt.Errorf("airquality5: %s channel: %w", ch.name, err)
		}
		*ch.dst = resistance(ch.pullup, mV)
	}
	return r, nil
}
