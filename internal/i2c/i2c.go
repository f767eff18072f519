// Package i2c talks to devices on a Linux /dev/i2c-* adapter. The motion and
// air-quality loops share one adapter, so every transfer takes the bus lock
// and a Dev never holds it between transfers.
package i2c

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

var ErrClosed = errors.New("i2c: bus closed")

// maxAttempts bounds retries of transient adapter errors (NACK during a
// conversion, arbitration loss).
const maxAttempts = 3

type Stats struct {
	Transfers uint64 `json:"transfers"`
	Retries   uint64 `json:"retries"`
	Errors    uint64 `json:"errors"`
}

type Bus struct {
	path string
	xfer func(f *os.File, addr uint16, w, r []byte) error

	mu    sync.Mutex
	f     *os.File
	stats Stats
}

func (b *Bus) Path() string {
	if b == nil {
		return ""
	}
	return b.path
}

func (b *Bus) Stats() Stats {
	if b == nil {
		return Stats{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

// Dev returns a handle for the 7-bit address addr.
func (b *Bus) Dev(addr uint16) *Dev {
	if b == nil {
		return nil
	}
	return &Dev{bus: b, addr: addr}
}

// transfer writes w then reads r under one repeated start.
func (b *Bus) transfer(addr uint16, w, r []byte) error {
	if addr == 0 || addr > 0x7F {
		return fmt.Errorf("i2c: invalid addr 0x%X", addr)
	}
	if len(w) == 0 && len(r) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return fmt.Errorf("%w: %s", ErrClosed, b.path)
	}
	for attempt := 1; ; attempt++ {
		b.stats.Transfers++
		err := b.xfer(b.f, addr, w, r)
		if err == nil {
			return nil
		}
		if !transient(err) || attempt == maxAttempts {
			b.stats.Errors++
			return fmt.Errorf("i2c 0x%02X on %s: %w", addr, b.path, err)
		}
		b.stats.Retries++
	}
}

type Dev struct {
	bus  *Bus
	addr uint16
}

func (d *Dev) Addr() uint16 {
	if d == nil {
		return 0
	}
	return d.addr
}

func (d *Dev) tx(w, r []byte) error {
	if d == nil || d.bus == nil {
		return errors.New("i2c: device is nil")
	}
	return d.bus.transfer(d.addr, w, r)
}

func (d *Dev) Write(p []byte) error        { return d.tx(p, nil) }
func (d *Dev) Read(p []byte) error         { return d.tx(nil, p) }
func (d *Dev) WriteRead(w, r []byte) error { return d.tx(w, r) }

// ReadReg reads len(dst) bytes starting at register reg.
func (d *Dev) ReadReg(reg byte, dst []byte) error {
	return d.tx([]byte{reg}, dst)
}

func (d *Dev) ReadRegU8(reg byte) (byte, error) {
	var v [1]byte
	err := d.ReadReg(reg, v[:])
	return v[0], err
}

func (d *Dev) WriteReg(reg, value byte) error {
	return d.tx([]byte{reg, value}, nil)
}

// WriteRegU16 writes a big-endian 16-bit register (ADS1x15 style).
func (d *Dev) WriteRegU16(reg byte, value uint16) error {
	return d.tx([]byte{reg, byte(value >> 8), byte(value)}, nil)
}
