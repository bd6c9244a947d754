package sync_test

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/drivesync/internal/events"
	enginesync "github.com/TheMichaelB/drivesync/internal/services/sync"
)

func TestMonitorStartsOnline(t *testing.T) {
	logger := events.NewTestLogger(events.ErrorLevel, io.Discard)
	m := enginesync.NewMonitor(func(ctx context.Context) error { return nil }, time.Millisecond, logger)
	assert.True(t, m.Online())
}

func TestMonitorProbesOnlyWhileOffline(t *testing.T) {
	logger := events.NewTestLogger(events.ErrorLevel, io.Discard)

	var probes int32
	var failing int32 = 1
	probe := func(ctx context.Context) error {
		atomic.AddInt32(&probes, 1)
		if atomic.LoadInt32(&failing) == 1 {
			return errors.New("unreachable")
		}
		return nil
	}

	m := enginesync.NewMonitor(probe, 5*time.Millisecond, logger)
	m.Start(context.Background())

	// Online: the probe never runs.
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&probes))

	m.MarkOffline()
	assert.False(t, m.Online())

	// Offline: probes accumulate.
	time.Sleep(30 * time.Millisecond)
	assert.Positive(t, atomic.LoadInt32(&probes))

	// Recovery flips back online and signals once.
	atomic.StoreInt32(&failing, 0)
	select {
	case <-m.Recovered():
	case <-time.After(2 * time.Second):
		t.Fatal("recovery never signaled")
	}
	assert.True(t, m.Online())

	// Back online: probing stops.
	base := atomic.LoadInt32(&probes)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, base, atomic.LoadInt32(&probes))
}

func TestMonitorMarkOfflineIdempotent(t *testing.T) {
	logger := events.NewTestLogger(events.ErrorLevel, io.Discard)

	probe := func(ctx context.Context) error { return errors.New("down") }
	m := enginesync.NewMonitor(probe, time.Hour, logger)
	m.Start(context.Background())

	m.MarkOffline()
	m.MarkOffline()
	m.MarkOffline()
	assert.False(t, m.Online())
}
