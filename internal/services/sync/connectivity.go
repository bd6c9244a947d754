package sync

import (
	"context"
	"sync"
	"time"

	"github.com/TheMichaelB/drivesync/internal/events"
)

// Monitor tracks whether the remote store is reachable. The engine starts
// optimistic (online); the first failed remote call flips it offline, which
// starts a probe loop. The probe only runs while offline, so a healthy
// connection costs nothing.
type Monitor struct {
	probe    func(ctx context.Context) error
	interval time.Duration
	logger   *events.Logger

	mu      sync.Mutex
	online  bool
	probing bool
	ctx     context.Context

	recovered chan struct{}
}

// NewMonitor creates a connectivity monitor using probe to test reachability.
func NewMonitor(probe func(ctx context.Context) error, interval time.Duration, logger *events.Logger) *Monitor {
	return &Monitor{
		probe:     probe,
		interval:  interval,
		logger:    logger.WithField("component", "connectivity"),
		online:    true,
		recovered: make(chan struct{}, 1),
	}
}

// Start binds the monitor to the engine's lifetime; probe loops stop when ctx
// is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx
}

// Online reports the current connectivity belief.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Recovered signals once per offline-to-online transition. The engine drains
// the pending queue and refreshes when it fires.
func (m *Monitor) Recovered() <-chan struct{} {
	return m.recovered
}

// MarkOffline records a failed remote call and starts probing. Safe to call
// repeatedly; only the first call per outage does anything.
func (m *Monitor) MarkOffline() {
	m.mu.Lock()
	if !m.online || m.probing {
		m.mu.Unlock()
		return
	}
	m.online = false
	m.probing = true
	ctx := m.ctx
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	m.logger.Warn("Remote unreachable, entering offline mode")
	go m.probeLoop(ctx)
}

func (m *Monitor) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.probing = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			if err := m.probe(ctx); err != nil {
				m.logger.WithError(err).Debug("Connectivity probe failed")
				continue
			}

			m.mu.Lock()
			m.online = true
			m.probing = false
			m.mu.Unlock()

			m.logger.Info("Connectivity restored")
			select {
			case m.recovered <- struct{}{}:
			default:
			}
			return
		}
	}
}
