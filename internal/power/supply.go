package power

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const sysfsPowerSupply = "/sys/class/power_supply"

// Supply reads battery voltage and mains presence from the kernel power
// supply class.
type Supply struct {
	root    string
	battery string
	mains   string
}

// NewSupply names the battery and mains supplies under
// /sys/class/power_supply. mains may be empty when the board has no external
// supply detection, in which case OnBackup always reports true.
func NewSupply(battery, mains string) *Supply {
	return &Supply{root: sysfsPowerSupply, battery: battery, mains: mains}
}

func readSysfs(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("power: read %s: %w", path, err)
	}
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "", fmt.Errorf("power: %s empty", path)
	}
	return s, nil
}

// parseMicrovolts converts a voltage_now value to volts.
func parseMicrovolts(s string) (float64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("power: parse voltage %q: %w", s, err)
	}
	return float64(n) / 1e6, nil
}

// BatteryVoltage returns the battery terminal voltage in volts.
func (s *Supply) BatteryVoltage() (float64, error) {
	if s == nil || s.battery == "" {
		return 0, fmt.Errorf("power: no battery supply configured")
	}
	v, err := readSysfs(filepath.Join(s.root, s.battery, "voltage_now"))
	if err != nil {
		return 0, err
	}
	return parseMicrovolts(v)
}

// OnBackup reports whether the device is running from its battery. A mains
// supply that cannot be read counts as absent.
func (s *Supply) OnBackup() bool {
	if s == nil || s.mains == "" {
		return true
	}
	v, err := readSysfs(filepath.Join(s.root, s.mains, "online"))
	if err != nil {
		return true
	}
	return v == "0"
}
