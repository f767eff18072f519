package gnss

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const knotsToKmh = 1.852

type nmeaSentence struct {
	Type string
	// Fields is the comma-split NMEA payload (excluding $ and checksum).
	Fields []string
}

func parseNMEASentence(line string) (nmeaSentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nmeaSentence{}, fmt.Errorf("nmea: missing '$'")
	}
	star := strings.LastIndexByte(line, '*')
	if star == -1 {
		return nmeaSentence{}, fmt.Errorf("nmea: missing checksum")
	}
	payload := line[1:star]
	ck := strings.TrimSpace(line[star+1:])
	if len(ck) < 2 {
		return nmeaSentence{}, fmt.Errorf("nmea: short checksum")
	}
	want, err := hex.DecodeString(ck[:2])
	if err != nil || len(want) != 1 {
		return nmeaSentence{}, fmt.Errorf("nmea: bad checksum")
	}
	got := byte(0)
	for i := 0; i < len(payload); i++ {
		got ^= payload[i]
	}
	if got != want[0] {
		return nmeaSentence{}, fmt.Errorf("nmea: checksum mismatch")
	}

	parts := strings.Split(payload, ",")
	typeField := parts[0]
	if len(typeField) < 3 {
		return nmeaSentence{}, fmt.Errorf("nmea: short type")
	}
	// GPxxx, GNxxx, GLxxx all normalize to the sentence type.
	t := typeField
	if len(t) > 3 {
		t = t[len(t)-3:]
	}
	return nmeaSentence{Type: strings.ToUpper(t), Fields: parts}, nil
}

// nmeaState accumulates RMC, GGA and GSA into one fix. It is owned by the
// reader goroutine.
type nmeaState struct {
	fix Fix

	rmcValid bool
	ggaValid bool
	hdopOK   bool
	lastFix  time.Time
}

func (s *nmeaState) apply(nowUTC time.Time, sent nmeaSentence) bool {
	switch sent.Type {
	case "RMC":
		return s.applyRMC(nowUTC, sent.Fields)
	case "GGA":
		return s.applyGGA(nowUTC, sent.Fields)
	case "GSA":
		return s.applyGSA(sent.Fields)
	default:
		return false
	}
}

func (s *nmeaState) valid() bool {
	return s.rmcValid && s.ggaValid && s.hdopOK
}

// RMC fields:
//
//	1: time (hhmmss.sss)
//	2: status (A=active, V=void)
//	3,4: latitude, N/S
//	5,6: longitude, E/W
//	7: speed over ground (knots)
//	8: course over ground (deg)
//	9: date (ddmmyy)
func (s *nmeaState) applyRMC(nowUTC time.Time, f []string) bool {
	if len(f) < 10 {
		return false
	}
	if strings.TrimSpace(f[2]) != "A" {
		s.rmcValid = false
		return true
	}
	lat, latOK := parseNMEALatLon(f[3], f[4])
	lon, lonOK := parseNMEALatLon(f[5], f[6])
	if !latOK || !lonOK {
		return false
	}
	s.fix.Latitude = lat
	s.fix.Longitude = lon

	if kt, ok := parseFloat(f[7]); ok {
		s.fix.SpeedKmh = kt * knotsToKmh
	}
	if trk, ok := parseFloat(f[8]); ok {
		s.fix.COG = math.Mod(trk+360.0, 360.0)
	}
	if ts, ok := parseNMEADateTime(f[9], f[1]); ok {
		s.fix.Time = ts
	} else {
		s.fix.Time = nowUTC
	}
	s.rmcValid = true
	s.lastFix = nowUTC
	return true
}

// GGA fields:
//
//	6: fix quality (0=invalid)
//	7: satellites in use
//	8: HDOP
//	9: altitude (m MSL)
func (s *nmeaState) applyGGA(nowUTC time.Time, f []string) bool {
	if len(f) < 11 {
		return false
	}
	q := strings.TrimSpace(f[6])
	if q == "" || q == "0" {
		s.ggaValid = false
		return true
	}
	if sats, err := strconv.Atoi(strings.TrimSpace(f[7])); err == nil {
		s.fix.NSat = sats
	}
	if hdop, ok := parseFloat(f[8]); ok {
		s.fix.HDOP = hdop
		s.hdopOK = true
	}
	if alt, ok := parseFloat(f[9]); ok {
		s.fix.AltitudeM = alt
	}
	s.ggaValid = true
	s.lastFix = nowUTC
	return true
}

// GSA fields:
//
//	2: fix type (1=none, 2=2D, 3=3D)
//	15,16,17: PDOP, HDOP, VDOP
func (s *nmeaState) applyGSA(f []string) bool {
	if len(f) < 18 {
		return false
	}
	if mode, err := strconv.Atoi(strings.TrimSpace(f[2])); err != nil || mode < 2 {
		return false
	}
	updated := false
	if v, ok := parseFloat(f[15]); ok {
		s.fix.PDOP = v
		updated = true
	}
	if v, ok := parseFloat(f[16]); ok {
		s.fix.HDOP = v
		s.hdopOK = true
		updated = true
	}
	if v, ok := parseFloat(f[17]); ok {
		s.fix.VDOP = v
		updated = true
	}
	return updated
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseNMEALatLon parses ddmm.mmmm (latitude) or dddmm.mmmm (longitude) plus
// hemisphere into signed decimal degrees.
func parseNMEALatLon(v string, hemi string) (float64, bool) {
	v = strings.TrimSpace(v)
	hemi = strings.TrimSpace(strings.ToUpper(hemi))
	if v == "" || (hemi != "N" && hemi != "S" && hemi != "E" && hemi != "W") {
		return 0, false
	}

	dot := strings.IndexByte(v, '.')
	intPart := v
	if dot != -1 {
		intPart = v[:dot]
	}
	if len(intPart) < 3 {
		return 0, false
	}

	deg, err := strconv.Atoi(intPart[:len(intPart)-2])
	if err != nil {
		return 0, false
	}
	mins, err := strconv.ParseFloat(v[len(intPart)-2:], 64)
	if err != nil {
		return 0, false
	}

	dec := float64(deg) + (mins / 60.0)
	if hemi == "S" || hemi == "W" {
		dec = -dec
	}
	return dec, true
}

// parseNMEADateTime combines an RMC ddmmyy date and hhmmss(.sss) time.
func parseNMEADateTime(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if len(date) != 6 || len(clock) < 6 {
		return time.Time{}, false
	}
	d, err := time.Parse("020106", date)
	if err != nil {
		return time.Time{}, false
	}
	c, err := time.Parse("150405", clock[:6])
	if err != nil {
		return time.Time{}, false
	}
	var nanos int
	if len(clock) > 7 && clock[6] == '.' {
		if frac, err := strconv.ParseFloat("0"+clock[6:], 64); err == nil {
			nanos = int(math.Round(frac * 1e9))
		}
	}
	return time.Date(d.Year(), d.Month(), d.Day(), c.Hour(), c.Minute(), c.Second(), nanos, time.UTC), true
}
