// Package modem talks to a cellular modem over its AT command port.
package modem

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"polaris-ng/internal/logging"
)

// ErrNoResponse is returned when the modem does not finish a command within
// the configured timeout.
var ErrNoResponse = errors.New("modem: no response")

// ErrUnknown is returned when the modem answers but cannot report the value,
// for example signal quality 99.
var ErrUnknown = errors.New("modem: value unknown")

const readSlice = 100 * time.Millisecond

type port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

var openPortFn = func(device string, baud int) (port, error) {
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	return p, nil
}

type Config struct {
	Device  string
	Baud    int
	Timeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Modem serializes AT commands on one port.
type Modem struct {
	cfg Config
	log *logrus.Entry

	mu   sync.Mutex
	port port
	buf  []byte
}

// Open opens the AT port and puts the modem in the reporting modes the
// queries rely on.
func Open(cfg Config, log *logrus.Entry) (*Modem, error) {
	cfg.applyDefaults()
	if strings.TrimSpace(cfg.Device) == "" {
		return nil, fmt.Errorf("modem: no device configured")
	}
	p, err := openPortFn(cfg.Device, cfg.Baud)
	if err != nil {
		return nil, fmt.Errorf("modem: open %s: %w", cfg.Device, err)
	}
	if err := p.SetReadTimeout(readSlice); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("modem: set read timeout: %w", err)
	}
	_ = p.ResetInputBuffer()

	m := &Modem{cfg: cfg, log: logging.Component(log, "modem"), port: p}

	// Echo off, numeric operator, location in registration reports.
	for _, cmd := range []string{"ATE0", "AT+COPS=3,2", "AT+CREG=2", "AT+CEREG=2"} {
		if _, err := m.Command(cmd); err != nil {
			if cmd == "ATE0" {
				_ = p.Close()
				return nil, err
			}
			m.log.WithError(err).WithField("cmd", cmd).Warn("modem setup command failed")
		}
	}
	m.log.WithFields(logrus.Fields{"device": cfg.Device, "baud": cfg.Baud}).Info("modem enabled")
	return m, nil
}

func (m *Modem) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	return err
}

// Command sends one AT command and returns the information lines of the
// response, without echo, blank lines or the final result code.
func (m *Modem) Command(cmd string) ([]string, error) {
	if m == nil {
		return nil, fmt.Errorf("modem: nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return nil, fmt.Errorf("modem: closed")
	}

	m.buf = m.buf[:0]
	if _, err := m.port.Write([]byte(cmd + "\r")); err != nil {
		return nil, fmt.Errorf("modem: write %s: %w", cmd, err)
	}

	deadline := time.Now().Add(m.cfg.Timeout)
	var lines []string
	chunk := make([]byte, 256)
	for time.Now().Before(deadline) {
		n, err := m.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("modem: read %s: %w", cmd, err)
		}
		m.buf = append(m.buf, chunk[:n]...)
		for {
			i := bytes.IndexByte(m.buf, '\n')
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(m.buf[:i]))
			m.buf = m.buf[i+1:]
			switch {
			case line == "" || line == cmd:
				continue
			case line == "OK":
				return lines, nil
			case line == "ERROR", strings.HasPrefix(line, "+CME ERROR"), strings.HasPrefix(line, "+CMS ERROR"):
				return nil, fmt.Errorf("modem: %s: %s", cmd, line)
			}
			lines = append(lines, line)
		}
	}
	return nil, fmt.Errorf("%w to %s after %s", ErrNoResponse, cmd, m.cfg.Timeout)
}

// query runs cmd and returns the payload of the first line carrying prefix.
func (m *Modem) query(cmd, prefix string) (string, error) {
	lines, err := m.Command(cmd)
	if err != nil {
		return "", err
	}
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(l, prefix)), nil
		}
	}
	return "", fmt.Errorf("modem: %s: no %s line in %q", cmd, prefix, lines)
}

// RSSI returns the received signal strength in dBm.
func (m *Modem) RSSI() (float64, error) {
	v, err := m.query("AT+CSQ", "+CSQ:")
	if err != nil {
		return 0, err
	}
	return parseCSQ(v)
}

// NetworkInfo returns the serving cell.
func (m *Modem) NetworkInfo() (NetworkInfo, error) {
	v, err := m.query("AT+COPS?", "+COPS:")
	if err != nil {
		return NetworkInfo{}, err
	}
	info, err := parseCOPS(v)
	if err != nil {
		return NetworkInfo{}, err
	}

	// LTE registers on CEREG, 2G/3G on CREG.
	for _, q := range []struct{ cmd, prefix string }{{"AT+CEREG?", "+CEREG:"}, {"AT+CREG?", "+CREG:"}} {
		v, err := m.query(q.cmd, q.prefix)
		if err != nil {
			continue
		}
		lac, cid, ok := parseCREG(v)
		if ok {
			info.LAC, info.CID = lac, cid
			break
		}
	}
	return info, nil
}

// Clock returns the modem real-time clock.
func (m *Modem) Clock() (time.Time, error) {
	v, err := m.query("AT+CCLK?", "+CCLK:")
	if err != nil {
		return time.Time{}, err
	}
	return parseCCLK(v)
}

// IMEI returns the module serial number.
func (m *Modem) IMEI() (string, error) {
	lines, err := m.Command("AT+CGSN")
	if err != nil {
		return "", err
	}
	for _, l := range lines {
		l = strings.TrimPrefix(strings.TrimSpace(l), "+CGSN:")
		l = strings.Trim(strings.TrimSpace(l), `"`)
		if len(l) >= 14 && strings.Trim(l, "0123456789") == "" {
			return l, nil
		}
	}
	return "", fmt.Errorf("modem: no IMEI in %q", lines)
}
