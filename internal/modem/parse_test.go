package modem

import (
	"errors"
	"testing"
	"time"
)

func TestParseCSQ(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		err  error
	}{
		{"0,0", -113, nil},
		{"20,99", -73, nil},
		{"31,0", -51, nil},
		{"99,99", 0, ErrUnknown},
	}
	for _, tc := range cases {
		got, err := parseCSQ(tc.in)
		if !errors.Is(err, tc.err) {
			t.Fatalf("parseCSQ(%q) err=%v want %v", tc.in, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("parseCSQ(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
	if _, err := parseCSQ("x,0"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseCOPS(t *testing.T) {
	info, err := parseCOPS(`0,2,"22210",7`)
	if err != nil {
		t.Fatalf("parseCOPS: %v", err)
	}
	if info.MCC != 222 || info.MNC != "10" || info.RAT != "LTE" {
		t.Fatalf("info=%+v", info)
	}

	info, err = parseCOPS(`0,2,"310260",0`)
	if err != nil {
		t.Fatalf("parseCOPS: %v", err)
	}
	if info.MCC != 310 || info.MNC != "260" || info.RAT != "GSM" {
		t.Fatalf("info=%+v", info)
	}

	info, err = parseCOPS(`0,2,"22201",7`)
	if err != nil {
		t.Fatalf("parseCOPS: %v", err)
	}
	if info.MNC != "01" {
		t.Fatalf("mnc=%q want 01", info.MNC)
	}
	info, err = parseCOPS(`0,2,"310026",7`)
	if err != nil {
		t.Fatalf("parseCOPS: %v", err)
	}
	if info.MNC != "026" {
		t.Fatalf("mnc=%q want 026", info.MNC)
	}

	for _, bad := range []string{"0", `0,0,"vodafone IT",7`, `0,2,"22",7`, `0,2,"2220x",7`} {
		if _, err := parseCOPS(bad); err == nil {
			t.Fatalf("parseCOPS(%q): expected error", bad)
		}
	}
}

func TestParseCREG(t *testing.T) {
	lac, cid, ok := parseCREG(`2,1,"1a2b","01c3d4e5",7`)
	if !ok || lac != "1A2B" || cid != "01C3D4E5" {
		t.Fatalf("got %q %q %v", lac, cid, ok)
	}
	if _, _, ok := parseCREG(`2,5,"00FE","BEEF"`); !ok {
		t.Fatalf("roaming should count as registered")
	}
	if _, _, ok := parseCREG(`2,2`); ok {
		t.Fatalf("searching must not be ok")
	}
	if _, _, ok := parseCREG(`2,0,"",""`); ok {
		t.Fatalf("not registered must not be ok")
	}
}

func TestParseCCLK(t *testing.T) {
	got, err := parseCCLK(`"24/03/01,10:15:30+04"`)
	if err != nil {
		t.Fatalf("parseCCLK: %v", err)
	}
	if want := time.Date(2024, 3, 1, 9, 15, 30, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}

	got, err = parseCCLK(`"24/03/01,00:10:00-08"`)
	if err != nil {
		t.Fatalf("parseCCLK: %v", err)
	}
	if want := time.Date(2024, 3, 1, 2, 10, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}

	if _, err := parseCCLK(`"garbage"`); err == nil {
		t.Fatalf("expected error")
	}
}
