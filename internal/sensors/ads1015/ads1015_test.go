package ads1015

import (
	"errors"
	"testing"
)

type fakeI2C struct {
	conv   []byte
	err    error
	writes []uint16
}

func (f *fakeI2C) ReadReg(reg byte, dst []byte) error {
	if f.err != nil {
		return f.err
	}
	if reg != regConversion {
		return errors.New("unexpected reg")
	}
	copy(dst, f.conv)
	return nil
}

func (f *fakeI2C) WriteRegU16(reg byte, value uint16) error {
	if reg != regConfig {
		return errors.New("unexpected reg")
	}
	f.writes = append(f.writes, value)
	return nil
}

func TestNew_WritesPowerDownConfig(t *testing.T) {
	f := &fakeI2C{}
	d, err := newWithIO(f)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if len(f.writes) != 1 {
		t.Fatalf("writes=%d want 1", len(f.writes))
	}
	// MUX=100, PGA=001, MODE=1, DR=100, COMP_QUE=11.
	if f.writes[0] != 0x4383 {
		t.Fatalf("config=0x%04X want 0x4383", f.writes[0])
	}
	if d.Config().Continuous {
		t.Fatalf("expected single-shot after New")
	}
}

func TestConfigure_Continuous(t *testing.T) {
	f := &fakeI2C{}
	d, err := newWithIO(f)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	if err := d.Configure(Config{Mux: MuxAIN2, Gain: Gain4V096, Rate: Rate1600, Continuous: true}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := f.writes[len(f.writes)-1]; got != 0x6283 {
		t.Fatalf("config=0x%04X want 0x6283", got)
	}
}

func TestReadRaw_SignExtends(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want int16
	}{
		{"positive full scale", []byte{0x7F, 0xF0}, 2047},
		{"negative full scale", []byte{0x80, 0x00}, -2048},
		{"minus one", []byte{0xFF, 0xF0}, -1},
		{"mid", []byte{0x40, 0x00}, 1024},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeI2C{conv: tc.in}
			d, err := newWithIO(f)
			if err != nil {
				t.Fatalf("newWithIO: %v", err)
			}
			got, err := d.ReadRaw()
			if err != nil {
				t.Fatalf("ReadRaw: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
		})
	}
}

func TestReadRaw_Error(t *testing.T) {
	f := &fakeI2C{}
	d, err := newWithIO(f)
	if err != nil {
		t.Fatalf("newWithIO: %v", err)
	}
	f.err = errors.New("nack")
	if _, err := d.ReadRaw(); err == nil {
		t.Fatalf("expected error")
	}
}
