// Package ads1015 drives a TI ADS1015 12-bit ADC over I2C.
package ads1015

import (
	"fmt"

	"polaris-ng/internal/i2c"
)

const (
	addrDefault = 0x48

	regConversion = 0x00
	regConfig     = 0x01
)

// Mux selects the input pair. Values 4..7 are single-ended AIN0..AIN3.
type Mux uint8

const (
	MuxAIN0AIN1 Mux = iota
	MuxAIN0AIN3
	MuxAIN1AIN3
	MuxAIN2AIN3
	MuxAIN0
	MuxAIN1
	MuxAIN2
	MuxAIN3
)

// Gain selects the PGA full-scale range.
type Gain uint8

const (
	Gain6V144 Gain = iota
	Gain4V096
	Gain2V048
	Gain1V024
	Gain0V512
	Gain0V256
)

// Rate selects the data rate.
type Rate uint8

const (
	Rate128 Rate = iota
	Rate250
	Rate490
	Rate920
	Rate1600
	Rate2400
	Rate3300
)

// Config is the subset of the config register this driver exposes. The
// comparator is always disabled.
type Config struct {
	Mux        Mux
	Gain       Gain
	Rate       Rate
	Continuous bool
}

func (c Config) word() uint16 {
	w := uint16(c.Mux&0x07)<<12 | uint16(c.Gain&0x07)<<9 | uint16(c.Rate&0x07)<<5
	if !c.Continuous {
		w |= 1 << 8
	}
	// COMP_QUE=11 disables the comparator.
	return w | 0x0003
}

type Device struct {
	dev regIO
	cfg Config
}

type regIO interface {
	ReadReg(reg byte, dst []byte) error
	WriteRegU16(reg byte, value uint16) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("ads1015: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("ads1015: dev is nil")
	}
	d := &Device{dev: dev}
	// Power down until a channel is selected. The write doubles as a probe.
	if err := d.Configure(Config{Mux: MuxAIN0, Gain: Gain4V096, Rate: Rate1600}); err != nil {
		return nil, err
	}
	return d, nil
}

// Configure writes the config register.
func (d *Device) Configure(cfg Config) error {
	if d == nil {
		return fmt.Errorf("ads1015: device is nil")
	}
	if err := d.dev.WriteRegU16(regConfig, cfg.word()); err != nil {
		return fmt.Errorf("ads1015: config write failed: %w", err)
	}
	d.cfg = cfg
	return nil
}

// Config returns the last configuration written.
func (d *Device) Config() Config { return d.cfg }

// ReadRaw returns the latest conversion as a signed 12-bit value.
func (d *Device) ReadRaw() (int16, error) {
	if d == nil {
		return 0, fmt.Errorf("ads1015: device is nil")
	}
	buf := make([]byte, 2)
	if err := d.dev.ReadReg(regConversion, buf); err != nil {
		return 0, fmt.Errorf("ads1015: conversion read failed: %w", err)
	}
	// The result is left-justified; an arithmetic shift keeps the sign.
	return (int16(buf[0])<<8 | int16(buf[1])) >> 4, nil
}
