// Package link brings up and verifies the network link the agent reaches the broker over.
//
// The host owns the radio, so Manager verifies reachability with a probe rather than associating with an access
// point itself. Connect retries the probe a bounded number of times with a fixed delay between attempts.
package link

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/nlowe/envshadow/log"
)

const (
	DefaultAttempts          = 30
	DefaultDelay             = time.Second
	DefaultAnonymousIdentity = "anonymous@example.com"
	DefaultProbeTimeout      = 5 * time.Second
)

var ErrLinkTimeout = errors.New("link: attempts exhausted")

// Mode is the authentication scheme used to join the network.
type Mode int

const (
	ModePersonal Mode = iota
	ModeEnterprise
)

func (m Mode) String() string {
	switch m {
	case ModePersonal:
		return "personal"
	case ModeEnterprise:
		return "enterprise"
	default:
		return fmt.Sprintf("invalid (%d)", int(m))
	}
}

// Credentials identify the agent to the network. Setting Identity selects enterprise mode.
type Credentials struct {
	SSID              string
	Password          string
	Identity          string
	AnonymousIdentity string
}

func (c Credentials) Mode() Mode {
	if c.Identity != "" {
		return ModeEnterprise
	}

	return ModePersonal
}

// LogValue omits the password.
func (c Credentials) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("ssid", c.SSID),
		slog.String("mode", c.Mode().String()),
	}

	if c.Mode() == ModeEnterprise {
		anon := c.AnonymousIdentity
		if anon == "" {
			anon = DefaultAnonymousIdentity
		}

		attrs = append(attrs, slog.String("identity", c.Identity), slog.String("anonymous_identity", anon))
	}

	return slog.GroupValue(attrs...)
}

// Status is a point in time view of the link.
type Status struct {
	Connected bool
	Attempts  int
	LastError error
	Since     time.Time
}

// ProbeFunc reports whether the link is usable. Return nil if it is.
type ProbeFunc func(ctx context.Context) error

// DialProbe returns a ProbeFunc that opens and immediately closes a TCP connection to address.
func DialProbe(address string, timeout time.Duration) ProbeFunc {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("dial %s: %w", address, err)
		}

		return conn.Close()
	}
}

type Option func(m *Manager)

// WithAttempts bounds the number of probes Connect makes. Values below one are ignored.
func WithAttempts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// WithDelay sets the fixed pause between probes.
func WithDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d >= 0 {
			m.delay = d
		}
	}
}

// WithClock overrides time.Now for Status.Since.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns the link lifecycle.
type Manager struct {
	creds    Credentials
	probe    ProbeFunc
	attempts int
	delay    time.Duration
	now      func() time.Time

	mu     sync.Mutex
	status Status

	log *slog.Logger
}

func New(creds Credentials, probe ProbeFunc, opts ...Option) *Manager {
	m := &Manager{
		creds:    creds,
		probe:    probe,
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		now:      time.Now,

		log: log.ForComponent("link"),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Connect probes the link until it succeeds or the attempt budget is spent. It returns ErrLinkTimeout wrapping the
// last probe error when every attempt failed, or the context error if ctx ends first.
func (m *Manager) Connect(ctx context.Context) error {
	m.log.With(slog.Any("credentials", m.creds), slog.Int("attempts", m.attempts)).Info("Bringing up link")

	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		err := m.probeOnce(ctx)
		m.record(attempt, err)
		if err == nil {
			m.log.With(slog.Int("attempt", attempt)).Info("Link up")
			return nil
		}

		lastErr = err
		m.log.With(slog.Int("attempt", attempt), log.Error(err)).Debug("Link probe failed")

		if attempt == m.attempts {
			break
		}

		if !sleepCtx(ctx, m.delay) {
			return ctx.Err()
		}
	}

	m.log.With(slog.Int("attempts", m.attempts), log.Error(lastErr)).Error("Link did not come up")
	return fmt.Errorf("%w after %d attempts: %w", ErrLinkTimeout, m.attempts, lastErr)
}

func (m *Manager) probeOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m.probe == nil {
		return nil
	}

	return m.probe(ctx)
}

func (m *Manager) record(attempt int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connected := err == nil
	if connected != m.status.Connected || m.status.Since.IsZero() {
		m.status.Since = m.now()
	}

	m.status.Connected = connected
	m.status.Attempts = attempt
	m.status.LastError = err
}

// Connected reports whether the most recent probe succeeded.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status.Connected
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.status
}

// Check runs a single probe and updates Status.
func (m *Manager) Check(ctx context.Context) error {
	err := m.probeOnce(ctx)
	m.record(1, err)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
