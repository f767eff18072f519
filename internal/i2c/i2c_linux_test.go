//go:build linux

package i2c

import (
	"errors"
	"os"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

type xferCall struct {
	addr uint16
	w    []byte
	rlen int
}

func fakeBus(t *testing.T, xfer func(addr uint16, w, r []byte) error) (*Bus, *[]xferCall) {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	var calls []xferCall
	b := &Bus{path: "/dev/null", f: f, xfer: func(_ *os.File, addr uint16, w, r []byte) error {
		calls = append(calls, xferCall{addr: addr, w: append([]byte(nil), w...), rlen: len(r)})
		return xfer(addr, w, r)
	}}
	t.Cleanup(func() { _ = b.Close() })
	return b, &calls
}

func TestTransfer_InvalidAddr(t *testing.T) {
	b, _ := fakeBus(t, func(uint16, []byte, []byte) error { return nil })
	for _, addr := range []uint16{0, 0x80} {
		err := b.Dev(addr).Write([]byte{0x00})
		if err == nil || !strings.Contains(err.Error(), "invalid addr") {
			t.Fatalf("addr=0x%X err=%v want invalid addr", addr, err)
		}
	}
}

func TestTransfer_EmptyIsNoop(t *testing.T) {
	b, calls := fakeBus(t, func(uint16, []byte, []byte) error { return nil })
	if err := b.Dev(0x68).WriteRead(nil, nil); err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("calls=%d want 0", len(*calls))
	}
}

func TestReadReg_SingleRepeatedStart(t *testing.T) {
	b, calls := fakeBus(t, func(_ uint16, _ []byte, r []byte) error {
		for i := range r {
			r[i] = byte(0xA0 + i)
		}
		return nil
	})
	v, err := b.Dev(0x76).ReadRegU8(0xD0)
	if err != nil {
		t.Fatalf("ReadRegU8: %v", err)
	}
	if v != 0xA0 {
		t.Fatalf("v=0x%X", v)
	}
	c := (*calls)[0]
	if c.addr != 0x76 || len(c.w) != 1 || c.w[0] != 0xD0 || c.rlen != 1 {
		t.Fatalf("call=%+v", c)
	}
}

func TestWriteRegU16_BigEndian(t *testing.T) {
	b, calls := fakeBus(t, func(uint16, []byte, []byte) error { return nil })
	if err := b.Dev(0x48).WriteRegU16(0x01, 0x8583); err != nil {
		t.Fatalf("WriteRegU16: %v", err)
	}
	w := (*calls)[0].w
	if len(w) != 3 || w[0] != 0x01 || w[1] != 0x85 || w[2] != 0x83 {
		t.Fatalf("w=% X", w)
	}
}

func TestTransfer_RetriesTransient(t *testing.T) {
	n := 0
	b, _ := fakeBus(t, func(uint16, []byte, []byte) error {
		n++
		if n < 3 {
			return unix.EREMOTEIO
		}
		return nil
	})
	if err := b.Dev(0x68).WriteReg(0x06, 0x01); err != nil {
		t.Fatalf("WriteReg: %v", err)
	}
	st := b.Stats()
	if st.Transfers != 3 || st.Retries != 2 || st.Errors != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestTransfer_GivesUp(t *testing.T) {
	b, calls := fakeBus(t, func(uint16, []byte, []byte) error { return unix.EAGAIN })
	err := b.Dev(0x68).WriteReg(0x06, 0x01)
	if !errors.Is(err, unix.EAGAIN) {
		t.Fatalf("err=%v want EAGAIN", err)
	}
	if len(*calls) != maxAttempts {
		t.Fatalf("attempts=%d want %d", len(*calls), maxAttempts)
	}
	if b.Stats().Errors != 1 {
		t.Fatalf("errors=%d", b.Stats().Errors)
	}
}

func TestTransfer_PermanentErrorNotRetried(t *testing.T) {
	b, calls := fakeBus(t, func(uint16, []byte, []byte) error { return unix.ENXIO })
	if err := b.Dev(0x68).Read(make([]byte, 2)); err == nil {
		t.Fatalf("expected error")
	}
	if len(*calls) != 1 {
		t.Fatalf("attempts=%d want 1", len(*calls))
	}
}

func TestClosedBus(t *testing.T) {
	b, _ := fakeBus(t, func(uint16, []byte, []byte) error { return nil })
	d := b.Dev(0x48)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := d.WriteRegU16(0x01, 0x8583); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v want ErrClosed", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestDevAddr(t *testing.T) {
	b, _ := fakeBus(t, func(uint16, []byte, []byte) error { return nil })
	if got := b.Dev(0x77).Addr(); got != 0x77 {
		t.Fatalf("addr=0x%X want 0x77", got)
	}
	var nilDev *Dev
	if got := nilDev.Addr(); got != 0 {
		t.Fatalf("nil addr=0x%X want 0", got)
	}
	if err := nilDev.Write([]byte{1}); err == nil {
		t.Fatalf("nil dev write succeeded")
	}
}
