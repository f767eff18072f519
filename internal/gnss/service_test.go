package gnss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func withPipePorts(t *testing.T) chan pipePort {
	t.Helper()
	ports := make(chan pipePort, 4)
	old := openPortFn
	openPortFn = func(device string, baud int) (io.ReadCloser, error) {
		if device == "/dev/missing" {
			return nil, errors.New("no such device")
		}
		r, w := io.Pipe()
		ports <- pipePort{r: r, w: w}
		return r, nil
	}
	t.Cleanup(func() { openPortFn = old })
	return ports
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	clk := &testClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Config{Device: "/dev/ttyS0", StaleAfter: 5 * time.Second}, nil)
	s.now = clk.now
	t.Cleanup(s.Stop)
	return s, clk
}

func feed(t *testing.T, w io.Writer, payloads ...string) {
	t.Helper()
	for _, p := range payloads {
		if _, err := fmt.Fprintf(w, "%s\r\n", nmeaLine(p)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestStart_NoDevice(t *testing.T) {
	s := New(Config{}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStart_OpenError(t *testing.T) {
	withPipePorts(t)
	s := New(Config{Device: "/dev/missing"}, nil)
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if s.IsRunning() {
		t.Fatalf("should not be running")
	}
	if s.Snapshot().LastError == "" {
		t.Fatalf("expected last error")
	}
}

func TestService_ReadsFix(t *testing.T) {
	ports := withPipePorts(t)
	s, _ := newTestService(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := <-ports

	if s.HasFix() {
		t.Fatalf("no fix expected before any sentence")
	}
	if !s.IsRunning() {
		t.Fatalf("expected running right after start")
	}

	feed(t, p.w, "GPTXT,01,01,02,ANTSTATUS=OK", rmcPayload, ggaPayload, gsaPayload)
	waitFor(t, "fix with DOPs", func() bool {
		f, ok := s.Fix()
		return ok && f.PDOP > 0
	})

	f, ok := s.Fix()
	if !ok {
		t.Fatalf("Fix: not ok")
	}
	if f.NSat != 8 || f.HDOP != 1.3 {
		t.Fatalf("fix=%+v", f)
	}
	if snap := s.Snapshot(); !snap.HasFix || snap.Fix == nil || !snap.Running {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestService_StaleFixAndSilence(t *testing.T) {
	ports := withPipePorts(t)
	s, clk := newTestService(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := <-ports
	feed(t, p.w, rmcPayload, ggaPayload)
	waitFor(t, "fix", s.HasFix)

	clk.advance(6 * time.Second)
	if s.HasFix() {
		t.Fatalf("fix should be stale")
	}
	if s.IsRunning() {
		t.Fatalf("silent receiver should not count as running")
	}
}

func TestService_ReaderExitIsNotRunningAndRestartRecovers(t *testing.T) {
	ports := withPipePorts(t)
	s, _ := newTestService(t)
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p := <-ports
	_ = p.w.CloseWithError(errors.New("usb unplugged"))
	waitFor(t, "reader exit", func() bool { return !s.IsRunning() })

	if err := s.Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	p2 := <-ports
	feed(t, p2.w, rmcPayload)
	if !s.IsRunning() {
		t.Fatalf("expected running after restart")
	}
	if got := s.Snapshot().Restarts; got != 1 {
		t.Fatalf("restarts=%d want 1", got)
	}
}

func TestStop_Idempotent(t *testing.T) {
	withPipePorts(t)
	s, _ := newTestService(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
	s.Stop()
	if s.IsRunning() {
		t.Fatalf("should not be running after Stop")
	}
	var nilSvc *Service
	nilSvc.Stop()
	if nilSvc.HasFix() {
		t.Fatalf("nil service has no fix")
	}
}

// quietPort never produces data. Read returns 0, nil after a short wait like
// a serial port with a read timeout, unless stuck is set, in which case Read
// parks until release is closed and ignores Close.
type quietPort struct {
	stuck   bool
	release chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newQuietPort(stuck bool) *quietPort {
	return &quietPort{stuck: stuck, release: make(chan struct{}), closed: make(chan struct{})}
}

func (q *quietPort) Read(p []byte) (int, error) {
	if q.stuck {
		<-q.release
		return 0, io.EOF
	}
	select {
	case <-q.closed:
		return 0, io.ErrClosedPipe
	case <-time.After(5 * time.Millisecond):
		return 0, nil
	}
}

func (q *quietPort) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}

func withQuietPorts(t *testing.T, stuck bool) chan *quietPort {
	t.Helper()
	ports := make(chan *quietPort, 4)
	old := openPortFn
	openPortFn = func(device string, baud int) (io.ReadCloser, error) {
		q := newQuietPort(stuck)
		ports <- q
		return q, nil
	}
	t.Cleanup(func() { openPortFn = old })
	return ports
}

func restartWithin(t *testing.T, s *Service, d time.Duration) {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Restart(context.Background()) }()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Restart: %v", err)
		}
	case <-time.After(d):
		t.Fatalf("Restart did not return within %v on a quiet port", d)
	}
}

func TestRestart_QuietPortReturns(t *testing.T) {
	ports := withQuietPorts(t, false)
	s, clk := newTestService(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-ports
	clk.advance(6 * time.Second)
	if s.IsRunning() {
		t.Fatalf("silent receiver should not count as running")
	}

	restartWithin(t, s, time.Second)
	<-ports
	if !s.IsRunning() {
		t.Fatalf("expected running after restart")
	}
	if got := s.Snapshot().Restarts; got != 1 {
		t.Fatalf("restarts=%d want 1", got)
	}
}

func TestRestart_StuckReadIsAbandoned(t *testing.T) {
	old := stopTimeout
	stopTimeout = 50 * time.Millisecond
	t.Cleanup(func() { stopTimeout = old })

	ports := withQuietPorts(t, true)
	s, clk := newTestService(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := <-ports
	clk.advance(6 * time.Second)

	restartWithin(t, s, time.Second)
	second := <-ports
	if !s.IsRunning() {
		t.Fatalf("expected running after restart")
	}
	if got := s.Snapshot().LastError; got == "" {
		t.Fatalf("expected abandoned reader to be recorded")
	}

	// The abandoned reader exiting late must not mark the new one stopped.
	close(first.release)
	time.Sleep(20 * time.Millisecond)
	if !s.IsRunning() {
		t.Fatalf("late exit of old reader stopped the new one")
	}
	close(second.release)
}
