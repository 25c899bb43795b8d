// Package connectivity watches reachability of the leaderboard server and
// turns transitions into sync triggers.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger probes the server. Ping returns nil when the server answered.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor polls the server's health endpoint and tracks an online flag.
// Callbacks registered with OnOnline fire on each offline-to-online
// transition; the coordinator hangs an automatic sync pass off them.
type Monitor struct {
	pinger   Pinger
	interval time.Duration

	mu       sync.Mutex
	online   bool
	metered  bool
	onOnline []func(ctx context.Context)
}

// NewMonitor creates a Monitor that probes at the given interval.
func NewMonitor(pinger Pinger, interval time.Duration) *Monitor {
	return &Monitor{pinger: pinger, interval: interval}
}

// Online reports whether the last probe reached the server.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetMetered marks the current connection as metered. Automatic syncing
// holds off on metered connections; manual syncing is unaffected.
func (m *Monitor) SetMetered(metered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metered = metered
}

// Metered reports whether the connection is marked metered.
func (m *Monitor) Metered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metered
}

// Allow is the automatic-sync gate: online and not metered.
func (m *Monitor) Allow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online && !m.metered
}

// OnOnline registers a callback fired when connectivity returns.
func (m *Monitor) OnOnline(fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// Run probes until the context is cancelled. The first probe runs
// immediately so startup with a reachable server comes up online.
func (m *Monitor) Run(ctx context.Context) {
	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := m.pinger.Ping(probeCtx)
	cancel()
	reachable := err == nil

	m.mu.Lock()
	wasOnline := m.online
	m.online = reachable
	var subs []func(ctx context.Context)
	if reachable && !wasOnline {
		subs = make([]func(ctx context.Context), len(m.onOnline))
		copy(subs, m.onOnline)
	}
	m.mu.Unlock()

	switch {
	case reachable && !wasOnline:
		slog.Info("server reachable", "component", "connectivity")
	case !reachable && wasOnline:
		slog.Warn("server unreachable", "error", err, "component", "connectivity")
	}

	for _, fn := range subs {
		fn(ctx)
	}
}
