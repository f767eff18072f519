// Package gnss reads NMEA from a serial GNSS receiver and keeps the latest
// fix.
package gnss

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"polaris-ng/internal/logging"
)

const (
	readSlice = 200 * time.Millisecond
	maxLine   = 4096
)

// stopTimeout bounds how long Stop waits for the reader to exit.
var stopTimeout = 2 * time.Second

// Fix is one navigation solution.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	AltitudeM float64   `json:"altitude_m"`
	SpeedKmh  float64   `json:"speed_kmh"`
	COG       float64   `json:"cog"`
	NSat      int       `json:"nsat"`
	HDOP      float64   `json:"hdop"`
	VDOP      float64   `json:"vdop"`
	PDOP      float64   `json:"pdop"`
	Time      time.Time `json:"time_utc"`
}

type Config struct {
	Device string
	Baud   int
	// StaleAfter bounds both fix age and reader silence.
	StaleAfter time.Duration
}

func (c *Config) applyDefaults() {
	if c.Baud == 0 {
		c.Baud = 9600
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 10 * time.Second
	}
}

type Snapshot struct {
	Device    string `json:"device"`
	Baud      int    `json:"baud"`
	Running   bool   `json:"running"`
	HasFix    bool   `json:"has_fix"`
	Fix       *Fix   `json:"fix,omitempty"`
	Restarts  uint64 `json:"restarts"`
	LastError string `json:"last_error,omitempty"`
}

// openPortFn opens the receiver with a read timeout so the reader can
// observe cancellation on a silent port.
var openPortFn = func(device string, baud int) (io.ReadCloser, error) {
	p, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(readSlice); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

type Service struct {
	cfg Config
	log *logrus.Entry

	mu        sync.Mutex
	cancel    context.CancelFunc
	closer    io.Closer
	done      chan struct{}
	state     nmeaState
	lastLine  time.Time
	reading   bool
	starts    uint64
	lastError string

	now func() time.Time
}

func New(cfg Config, log *logrus.Entry) *Service {
	cfg.applyDefaults()
	return &Service{
		cfg: cfg,
		log: logging.Component(log, "gnss"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Start opens the receiver and launches the reader. Starting a running
// service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("gnss: service is nil")
	}
	if ctx == nil {
		return fmt.Errorf("gnss: ctx is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	device := strings.TrimSpace(s.cfg.Device)
	if device == "" {
		return fmt.Errorf("gnss: no device configured")
	}
	port, err := openPortFn(device, s.cfg.Baud)
	if err != nil {
		s.lastError = fmt.Sprintf("open failed device=%s baud=%d: %v", device, s.cfg.Baud, err)
		return fmt.Errorf("gnss: open %s: %w", device, err)
	}

	childCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.closer = port
	s.done = done
	s.reading = true
	s.lastLine = s.now()
	s.starts++
	gen := s.starts

	go func() {
		defer close(done)
		defer func() { _ = port.Close() }()
		s.read(childCtx, gen, port)
	}()
	// Unblocks a read parked on a quiet port.
	go func() {
		<-childCtx.Done()
		_ = port.Close()
	}()

	s.log.WithFields(logrus.Fields{"device": device, "baud": s.cfg.Baud}).Info("gnss enabled")
	return nil
}

func (s *Service) read(ctx context.Context, gen uint64, r io.Reader) {
	defer func() {
		s.mu.Lock()
		if s.starts == gen {
			s.reading = false
		}
		s.mu.Unlock()
	}()

	buf := make([]byte, 256)
	line := make([]byte, 0, 128)
	overflow := false
	for {
		if ctx.Err() != nil {
			return
		}
		// A timed-out read returns 0, nil.
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' {
				if len(line) < maxLine {
					line = append(line, b)
				} else {
					overflow = true
				}
				continue
			}
			if overflow {
				s.setError(fmt.Sprintf("line exceeds %d bytes", maxLine))
			} else {
				s.handleLine(gen, string(line))
			}
			line = line[:0]
			overflow = false
		}
		if err != nil {
			if ctx.Err() == nil {
				s.setError(fmt.Sprintf("read stopped: %v", err))
				s.log.WithError(err).Warn("gnss reader stopped")
			}
			return
		}
	}
}

func (s *Service) handleLine(gen uint64, raw string) {
	line := strings.TrimSpace(raw)
	if !strings.HasPrefix(line, "$") {
		return
	}
	sent, err := parseNMEASentence(line)
	if err != nil {
		s.setError(err.Error())
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.starts != gen {
		return
	}
	now := s.now()
	s.lastLine = now
	s.state.apply(now, sent)
}

// Stop cancels the reader and waits up to stopTimeout for it to exit. A
// reader that outlives the wait is abandoned and its output ignored.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	closer := s.closer
	done := s.done
	s.cancel = nil
	s.closer = nil
	s.done = nil
	s.reading = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	if done == nil {
		return
	}
	t := time.NewTimer(stopTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		s.setError("reader did not exit after stop")
		s.log.Warn("gnss reader did not exit; abandoning it")
	}
}

// Restart stops the reader and opens the receiver again.
func (s *Service) Restart(ctx context.Context) error {
	s.Stop()
	return s.Start(ctx)
}

// IsRunning reports whether the reader is alive and has seen a sentence
// recently.
func (s *Service) IsRunning() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Service) runningLocked() bool {
	return s.cancel != nil && s.reading && s.now().Sub(s.lastLine) <= s.cfg.StaleAfter
}

func (s *Service) hasFixLocked() bool {
	return s.state.valid() && s.now().Sub(s.state.lastFix) <= s.cfg.StaleAfter
}

func (s *Service) HasFix() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasFixLocked()
}

// Fix returns the current fix; ok is false when there is none.
func (s *Service) Fix() (Fix, bool) {
	if s == nil {
		return Fix{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasFixLocked() {
		return Fix{}, false
	}
	return s.state.fix, true
}

func (s *Service) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Snapshot{
		Device:    s.cfg.Device,
		Baud:      s.cfg.Baud,
		Running:   s.runningLocked(),
		HasFix:    s.hasFixLocked(),
		LastError: s.lastError,
	}
	if s.starts > 1 {
		out.Restarts = s.starts - 1
	}
	if out.HasFix {
		f := s.state.fix
		out.Fix = &f
	}
	return out
}

func (s *Service) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = msg
}
