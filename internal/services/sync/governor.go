package sync

import (
	"sync"
	"time"

	"github.com/TheMichaelB/drivesync/internal/events"
)

const (
	// Unexpected errors tolerated inside the window before the engine
	// fail-stops.
	governorLimit  = 5
	governorWindow = time.Minute
)

// Governor counts unexpected errors over a rolling window and fail-stops the
// engine when they storm. Halting is one-way; only a process restart clears
// it. Network unreachability does not count, it has its own recovery path.
type Governor struct {
	logger *events.Logger
	limit  int
	window time.Duration
	now    func() time.Time
	onHalt func()

	mu     sync.Mutex
	times  []time.Time
	halted bool
}

// NewGovernor creates a governor with the default limit and window. onHalt
// fires once, at the transition into the halted state; it may be nil.
func NewGovernor(logger *events.Logger, onHalt func()) *Governor {
	return &Governor{
		logger: logger.WithField("component", "governor"),
		limit:  governorLimit,
		window: governorWindow,
		now:    time.Now,
		onHalt: onHalt,
	}
}

// Record counts one unexpected error and reports whether the engine is now
// halted.
func (g *Governor) Record(err error) bool {
	g.mu.Lock()

	if g.halted {
		g.mu.Unlock()
		return true
	}

	now := g.now()
	cutoff := now.Add(-g.window)
	kept := g.times[:0]
	for _, t := range g.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.times = append(kept, now)

	g.logger.WithError(err).WithField("recent_errors", len(g.times)).Warn("Unexpected sync error")

	if len(g.times) <= g.limit {
		g.mu.Unlock()
		return false
	}

	g.halted = true
	g.mu.Unlock()

	g.logger.Error("Too many sync errors, halting engine; restart to resume")
	if g.onHalt != nil {
		g.onHalt()
	}
	return true
}

// Halted reports whether the engine has fail-stopped.
func (g *Governor) Halted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.halted
}
