// Package icm20948 drives the accelerometer and die temperature sensor of an
// ICM-20948 over I2C.
package icm20948

import (
	"fmt"
	"time"

	"polaris-ng/internal/fusion"
	"polaris-ng/internal/i2c"
)

var sleep = time.Sleep

const (
	addrDefault = 0x68

	regWhoAmI  = 0x00
	whoAmIVal  = 0xEA
	regBankSel = 0x7F

	// Bank 0.
	regPwrMgmt1   = 0x06
	regPwrMgmt2   = 0x07
	bitReset      = 0x80
	clkAuto       = 0x01
	gyroDisable   = 0x07
	regIntEnable  = 0x10
	regAccelXoutH = 0x2D
	regTempOutH   = 0x39

	// Bank 2.
	bank2           = 2
	regAccelSmplrt2 = 0x11
	regAccelConfig  = 0x14

	// ACCEL_FS_SEL=±4g, DLPF enabled with ~50 Hz bandwidth.
	accelConfig = 0x01<<1 | 0x03<<3 | 0x01

	// Standard gravity, m/s².
	gravity = 9.80665

	tempSensitivity = 333.87
	tempOffsetC     = 21.0
)

type Device struct {
	dev regIO

	curBank    byte
	scaleAccel float64
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("icm20948: dev is nil")
	}
	d := &Device{dev: dev, curBank: 0xFF}

	who, err := d.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("icm20948: whoami read failed: %w", err)
	}
	if who != whoAmIVal {
		return nil, fmt.Errorf("icm20948: whoami=0x%02X want 0x%02X", who, whoAmIVal)
	}

	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Device) init() error {
	if err := d.setBank(0); err != nil {
		return err
	}
	_ = d.dev.WriteReg(regIntEnable, 0x00)

	if err := d.dev.WriteReg(regPwrMgmt1, bitReset); err != nil {
		return fmt.Errorf("icm20948: reset failed: %w", err)
	}
	sleep(100 * time.Millisecond)
	// Reset reverts to bank 0.
	d.curBank = 0

	if err := d.dev.WriteReg(regPwrMgmt1, clkAuto); err != nil {
		return fmt.Errorf("icm20948: wake failed: %w", err)
	}
	sleep(10 * time.Millisecond)

	// Only the accelerometer is used; keep the gyro powered down.
	if err := d.dev.WriteReg(regPwrMgmt2, gyroDisable); err != nil {
		return fmt.Errorf("icm20948: power mgmt failed: %w", err)
	}

	if err := d.setBank(bank2); err != nil {
		return err
	}
	// 1125/(1+10) ≈ 102 Hz, just above the 10 ms polling rate.
	_ = d.dev.WriteReg(regAccelSmplrt2, 10)
	if err := d.dev.WriteReg(regAccelConfig, accelConfig); err != nil {
		return fmt.Errorf("icm20948: accel config failed: %w", err)
	}
	if err := d.setBank(0); err != nil {
		return err
	}

	d.scaleAccel = 4.0 / 32768.0 * gravity
	return nil
}

func (d *Device) setBank(bank byte) error {
	if d.curBank == bank {
		return nil
	}
	if err := d.dev.WriteReg(regBankSel, bank<<4); err != nil {
		return fmt.Errorf("icm20948: set bank %d failed: %w", bank, err)
	}
	d.curBank = bank
	return nil
}

// Acceleration returns the body-frame acceleration in m/s².
func (d *Device) Acceleration() (fusion.Vector3, error) {
	if d == nil {
		return fusion.Vector3{}, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return fusion.Vector3{}, err
	}
	buf := make([]byte, 6)
	if err := d.dev.ReadReg(regAccelXoutH, buf); err != nil {
		return fusion.Vector3{}, fmt.Errorf("icm20948: read accel failed: %w", err)
	}
	ax := int16(buf[0])<<8 | int16(buf[1])
	ay := int16(buf[2])<<8 | int16(buf[3])
	az := int16(buf[4])<<8 | int16(buf[5])
	return fusion.Vector3{
		X: float64(ax) * d.scaleAccel,
		Y: float64(ay) * d.scaleAccel,
		Z: float64(az) * d.scaleAccel,
	}, nil
}

// Temperature returns the die temperature in °C.
func (d *Device) Temperature() (float64, error) {
	if d == nil {
		return 0, fmt.Errorf("icm20948: device is nil")
	}
	if err := d.setBank(0); err != nil {
		return 0, err
	}
	buf := make([]byte, 2)
	if err := d.dev.ReadReg(regTempOutH, buf); err != nil {
		return 0, fmt.Errorf("icm20948: read temperature failed: %w", err)
	}
	raw := int16(buf[0])<<8 | int16(buf[1])
	return float64(raw)/tempSensitivity + tempOffsetC, nil
}
