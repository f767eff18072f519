package modem

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NetworkInfo identifies the serving cell. MNC keeps its leading zeros since
// "01" and "001" are different networks. LAC and CID are the hex strings the
// modem reports.
type NetworkInfo struct {
	RAT string `json:"rat"`
	MCC int    `json:"mcc"`
	MNC string `json:"mnc"`
	LAC string `json:"lac,omitempty"`
	CID string `json:"cid,omitempty"`
}

func splitFields(v string) []string {
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"`)
	}
	return parts
}

// parseCSQ converts "<rssi>,<ber>" into dBm: 0 is -113 dBm or less, 31 is
// -51 dBm or more, 99 is unknown.
func parseCSQ(v string) (float64, error) {
	f := splitFields(v)
	n, err := strconv.Atoi(f[0])
	if err != nil {
		return 0, fmt.Errorf("modem: parse CSQ %q: %w", v, err)
	}
	if n == 99 || n < 0 || n > 31 {
		return 0, ErrUnknown
	}
	return float64(-113 + 2*n), nil
}

// ratName maps the 3GPP 27.007 access technology code.
func ratName(act int) string {
	switch act {
	case 0, 1, 3:
		return "GSM"
	case 2, 4, 5, 6:
		return "UMTS"
	case 7:
		return "LTE"
	case 8:
		return "LTE-M"
	case 9:
		return "NB-IoT"
	default:
		return "unknown"
	}
}

// parseCOPS reads "<mode>,<format>,<oper>,<act>" with a numeric operator.
func parseCOPS(v string) (NetworkInfo, error) {
	f := splitFields(v)
	if len(f) < 3 {
		return NetworkInfo{}, fmt.Errorf("modem: not registered (COPS %q)", v)
	}
	if f[1] != "2" {
		return NetworkInfo{}, fmt.Errorf("modem: COPS operator not numeric: %q", v)
	}
	oper := f[2]
	if len(oper) < 5 || len(oper) > 6 {
		return NetworkInfo{}, fmt.Errorf("modem: bad operator %q", oper)
	}
	mcc, err := strconv.Atoi(oper[:3])
	if err != nil {
		return NetworkInfo{}, fmt.Errorf("modem: bad MCC in %q", oper)
	}
	mnc := oper[3:]
	if !allDigits(mnc) {
		return NetworkInfo{}, fmt.Errorf("modem: bad MNC in %q", oper)
	}
	info := NetworkInfo{MCC: mcc, MNC: mnc, RAT: "unknown"}
	if len(f) > 3 {
		if act, err := strconv.Atoi(f[3]); err == nil {
			info.RAT = ratName(act)
		}
	}
	return info, nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// parseCREG reads "<n>,<stat>,<lac>,<ci>[,<act>]" as reported with n=2.
// ok is false when the modem is not registered or omits the location.
func parseCREG(v string) (lac, cid string, ok bool) {
	f := splitFields(v)
	if len(f) < 4 {
		return "", "", false
	}
	// 1 = home, 5 = roaming.
	if f[1] != "1" && f[1] != "5" {
		return "", "", false
	}
	if f[2] == "" || f[3] == "" {
		return "", "", false
	}
	return strings.ToUpper(f[2]), strings.ToUpper(f[3]), true
}

// parseCCLK reads "yy/MM/dd,hh:mm:ss±zz", zz in quarter hours.
func parseCCLK(v string) (time.Time, error) {
	v = strings.Trim(strings.TrimSpace(v), `"`)
	if len(v) < 17 {
		return time.Time{}, fmt.Errorf("modem: bad CCLK %q", v)
	}
	base, err := time.Parse("06/01/02,15:04:05", v[:17])
	if err != nil {
		return time.Time{}, fmt.Errorf("modem: bad CCLK %q: %w", v, err)
	}
	offset := 0
	if tz := v[17:]; tz != "" {
		q, err := strconv.Atoi(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("modem: bad CCLK zone %q", tz)
		}
		offset = q * 15 * 60
	}
	return base.Add(-time.Duration(offset) * time.Second).UTC(), nil
}
