// Package connectivity probes network reachability and reports debounced
// online/offline transitions.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Config holds probe tuning.
type Config struct {
	// ProbeAddr is the TCP endpoint dialed to test reachability.
	ProbeAddr string `yaml:"probe_addr"`

	// Interval is the time between probes.
	Interval time.Duration `yaml:"interval"`

	// Debounce is the number of consecutive agreeing probes required
	// before a reachability flip is reported.
	Debounce int `yaml:"debounce"`

	// Timeout bounds a single probe dial.
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns probe defaults: Google public DNS every 3 seconds,
// three agreeing probes to flip, 2 second dial timeout.
func DefaultConfig() Config {
	return Config{
		ProbeAddr: "8.8.8.8:53",
		Interval:  3 * time.Second,
		Debounce:  3,
		Timeout:   2 * time.Second,
	}
}

// Dialer performs a single reachability probe. Production uses a TCP dial;
// tests inject a scripted dialer.
type Dialer func(ctx context.Context, addr string) error

// State is the monitor's view of the network, written only by the probe loop.
type State struct {
	Reachable   bool
	LastProbe   time.Time
	Consecutive int
}

// Monitor periodically probes an external endpoint. Probe failures are
// swallowed (treated as a negative signal, never surfaced as errors) and
// flips are debounced so a transient blip does not bounce the backend mode.
type Monitor struct {
	cfg    Config
	logger *slog.Logger
	dial   Dialer

	mu    sync.RWMutex
	state State

	// disagree counts consecutive probes contradicting the reported state.
	disagree int

	updates chan bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDialer replaces the probe dialer, for tests.
func WithDialer(d Dialer) Option {
	return func(m *Monitor) { m.dial = d }
}

// WithInitialReachable sets the assumed state before the first debounced
// flip. The default is reachable, so a robot booting without network flips
// offline after the first full debounce window.
func WithInitialReachable(reachable bool) Option {
	return func(m *Monitor) { m.state.Reachable = reachable }
}

// NewMonitor creates a connectivity monitor.
func NewMonitor(cfg Config, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce < 1 {
		cfg.Debounce = 1
	}
	m := &Monitor{
		cfg:     cfg,
		logger:  logger.With("component", "connectivity"),
		updates: make(chan bool, 4),
		state:   State{Reachable: true},
	}
	m.dial = m.tcpProbe
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes the probe loop until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe performs one reachability check and applies debouncing. Exported so
// tests can drive the loop deterministically.
func (m *Monitor) Probe(ctx context.Context) {
	err := m.dial(ctx, m.cfg.ProbeAddr)
	reachable := err == nil
	if err != nil {
		// Negative signal only; a failed probe is never an error.
		m.logger.Debug("probe failed", "addr", m.cfg.ProbeAddr, "error", err)
	}

	m.mu.Lock()
	m.state.LastProbe = time.Now()

	if reachable == m.state.Reachable {
		m.disagree = 0
		m.state.Consecutive++
		m.mu.Unlock()
		return
	}

	m.disagree++
	if m.disagree < m.cfg.Debounce {
		m.mu.Unlock()
		return
	}

	m.state.Reachable = reachable
	m.state.Consecutive = m.disagree
	m.disagree = 0
	m.mu.Unlock()

	m.logger.Info("connectivity changed", "reachable", reachable)

	// When the consumer is behind, evict the oldest queued flip so the
	// newest state is always delivered.
	for {
		select {
		case m.updates <- reachable:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// Updates returns the channel of debounced reachability flips.
func (m *Monitor) Updates() <-chan bool { return m.updates }

// Reachable returns the last debounced reachability.
func (m *Monitor) Reachable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Reachable
}

// Snapshot returns a copy of the probe state.
func (m *Monitor) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Monitor) tcpProbe(ctx context.Context, addr string) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
