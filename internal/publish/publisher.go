// Package publish delivers telemetry payloads to an MQTT v5 broker.
package publish

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"polaris-ng/internal/logging"
)

// ErrNotConnected is returned by Publish when no broker session could be
// established.
var ErrNotConnected = errors.New("publish: not connected")

type Config struct {
	// Broker is tcp://host:port, ssl://host:port or a bare host:port.
	Broker         string
	Topic          string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	ConnectRetries int
}

func (c *Config) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "polaris-" + uuid.NewString()
	}
	if c.QoS > 1 {
		c.QoS = 1
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 60 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 1
	}
}

type Snapshot struct {
	Broker     string    `json:"broker"`
	Topic      string    `json:"topic"`
	ClientID   string    `json:"client_id"`
	Connected  bool      `json:"connected"`
	Published  uint64    `json:"published"`
	Failed     uint64    `json:"failed"`
	LastOK     time.Time `json:"last_ok_utc,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	BytesTotal uint64    `json:"bytes_total"`
}

type Publisher struct {
	cfg     Config
	log     *logrus.Entry
	network string
	address string
	tls     bool

	mu     sync.Mutex
	client *paho.Client
	conn   net.Conn
	lost   *atomic.Bool

	published uint64
	failed    uint64
	bytes     uint64
	lastOK    time.Time
	lastErr   string
}

func parseBroker(raw string) (address string, useTLS bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("publish: broker is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("publish: bad broker %q: %w", raw, err)
	}
	switch u.Scheme {
	case "tcp", "mqtt":
	case "ssl", "tls", "mqtts":
		useTLS = true
	default:
		return "", false, fmt.Errorf("publish: unsupported broker scheme %q", u.Scheme)
	}
	host := u.Host
	if u.Port() == "" {
		port := "1883"
		if useTLS {
			port = "8883"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	return host, useTLS, nil
}

func New(cfg Config, log *logrus.Entry) (*Publisher, error) {
	cfg.applyDefaults()
	addr, useTLS, err := parseBroker(cfg.Broker)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("publish: topic is empty")
	}
	return &Publisher{
		cfg:     cfg,
		log:     logging.Component(log, "publish"),
		network: "tcp",
		address: addr,
		tls:     useTLS,
	}, nil
}

func (p *Publisher) dial(ctx context.Context) (net.Conn, error) {
	d := &net.Dialer{Timeout: p.cfg.ConnectTimeout}
	if p.tls {
		host, _, _ := net.SplitHostPort(p.address)
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}}
		return td.DialContext(ctx, p.network, p.address)
	}
	return d.DialContext(ctx, p.network, p.address)
}

// connectLocked opens one broker session.
func (p *Publisher) connectLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	defer cancel()

	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("publish: dial %s: %w", p.address, err)
	}

	lost := new(atomic.Bool)
	client := paho.NewClient(paho.ClientConfig{
		ClientID: p.cfg.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			lost.Store(true)
			p.log.WithError(err).Warn("mqtt client error")
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			lost.Store(true)
			p.log.WithField("reason", d.ReasonCode).Warn("mqtt server disconnect")
		},
	})

	cp := &paho.Connect{
		ClientID:   p.cfg.ClientID,
		CleanStart: true,
		KeepAlive:  uint16(p.cfg.KeepAlive / time.Second),
	}
	if p.cfg.Username != "" {
		cp.Username = p.cfg.Username
		cp.UsernameFlag = true
	}
	if p.cfg.Password != "" {
		cp.Password = []byte(p.cfg.Password)
		cp.PasswordFlag = true
	}

	ca, err := client.Connect(ctx, cp)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("publish: connect %s: %w", p.address, err)
	}
	if ca.ReasonCode != 0 {
		_ = conn.Close()
		return fmt.Errorf("publish: connect %s refused: reason %d", p.address, ca.ReasonCode)
	}

	p.client, p.conn, p.lost = client, conn, lost
	p.log.WithFields(logrus.Fields{"broker": p.address, "client_id": p.cfg.ClientID}).Info("mqtt connected")
	return nil
}

func (p *Publisher) dropLocked() {
	if p.client != nil {
		_ = p.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.client, p.conn, p.lost = nil, nil, nil
}

func (p *Publisher) connectedLocked() bool {
	return p.client != nil && p.lost != nil && !p.lost.Load()
}

// Connect establishes the broker session, trying up to ConnectRetries times.
func (p *Publisher) Connect(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("publish: publisher is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectedLocked() {
		return nil
	}
	p.dropLocked()

	var err error
	for attempt := 1; attempt <= p.cfg.ConnectRetries; attempt++ {
		if err = p.connectLocked(ctx); err == nil {
			return nil
		}
		p.log.WithError(err).WithField("attempt", attempt).Warn("mqtt connect failed")
		if ctx.Err() != nil {
			break
		}
	}
	p.lastErr = err.Error()
	return err
}

// Publish sends one payload. A lost session is re-established once before
// giving up with ErrNotConnected.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	if p == nil {
		return fmt.Errorf("publish: publisher is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connectedLocked() {
		p.dropLocked()
		if err := p.connectLocked(ctx); err != nil {
			p.failLocked(err)
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
	}

	_, err := p.client.Publish(ctx, &paho.Publish{
		QoS:     p.cfg.QoS,
		Topic:   p.cfg.Topic,
		Payload: payload,
	})
	if err != nil {
		// Force a fresh session next time.
		p.dropLocked()
		err = fmt.Errorf("publish: %s: %w", p.cfg.Topic, err)
		p.failLocked(err)
		return err
	}

	p.published++
	p.bytes += uint64(len(payload))
	p.lastOK = time.Now().UTC()
	p.lastErr = ""
	p.log.WithFields(logrus.Fields{
		"topic": p.cfg.Topic,
		"size":  humanize.Bytes(uint64(len(payload))),
	}).Debug("telemetry published")
	return nil
}

func (p *Publisher) failLocked(err error) {
	p.failed++
	p.lastErr = err.Error()
}

func (p *Publisher) Connected() bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectedLocked()
}

func (p *Publisher) Snapshot() Snapshot {
	if p == nil {
		return Snapshot{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		Broker:     p.address,
		Topic:      p.cfg.Topic,
		ClientID:   p.cfg.ClientID,
		Connected:  p.connectedLocked(),
		Published:  p.published,
		Failed:     p.failed,
		LastOK:     p.lastOK,
		LastError:  p.lastErr,
		BytesTotal: p.bytes,
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropLocked()
	return nil
}
