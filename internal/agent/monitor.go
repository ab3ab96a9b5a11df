// Package agent runs the live monitoring loop: every tick it reads the
// newest window of telemetry, advances the online segmenter and hands the
// result to the detectors and the filter-life estimator.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/spray.report/internal/detect"
	"github.com/banshee-data/spray.report/internal/maintenance"
	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/segment"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

// DefaultInterval is the tick period of the monitoring loop.
const DefaultInterval = 15 * time.Second

// ReadingSource returns the newest n readings in ascending ID order.
type ReadingSource interface {
	LatestReadings(ctx context.Context, n int) ([]spray.Reading, error)
}

// Detectors bundles the checks the monitor drives. A nil member is skipped.
type Detectors struct {
	Blockage    *detect.Blockage
	Pressure    *detect.Pressure
	Malfunction *detect.Malfunction
	Filter      *maintenance.FilterEstimator
}

// Snapshot describes the most recent tick.
type Snapshot struct {
	At         time.Time `json:"at"`
	Transition string    `json:"transition"`
	NewestID   int64     `json:"newest_reading_id"`
	Gelcoat    int       `json:"gelcoat_buffered"`
	Barrier    int       `json:"barrier_buffered"`
	Ticks      int64     `json:"ticks"`
	Errors     int64     `json:"errors"`
}

// Monitor owns the online segmenter. Tick is called from a single
// goroutine; Snapshot may be read concurrently.
type Monitor struct {
	readings   ReadingSource
	timeline   *maintenance.Manager
	detectors  Detectors
	seg        *segment.Segmenter
	windowSize int
	interval   time.Duration
	clock      timeutil.Clock
	metrics    *monitoring.Metrics

	lastID int64

	mu   sync.RWMutex
	snap Snapshot
}

func NewMonitor(readings ReadingSource, timeline *maintenance.Manager, detectors Detectors, cfg segment.Config, interval time.Duration, clock timeutil.Clock, metrics *monitoring.Metrics) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		readings:   readings,
		timeline:   timeline,
		detectors:  detectors,
		seg:        segment.NewSegmenter(cfg),
		windowSize: cfg.WindowSize(),
		interval:   interval,
		clock:      clock,
		metrics:    metrics,
	}
}

// Snapshot returns a copy of the latest tick summary.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Run ensures the maintenance records exist and then ticks until ctx is
// cancelled. A failed tick is logged and retried on the next one.
func (m *Monitor) Run(ctx context.Context) error {
	if m.timeline != nil {
		if err := m.timeline.Ensure(ctx); err != nil {
			return fmt.Errorf("ensure maintenance records: %w", err)
		}
	}
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	monitoring.Logf("monitor started: interval=%s window=%d readings", m.interval, m.windowSize)

	for {
		select {
		case <-ticker.C():
			if err := m.Tick(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return ctx.Err()
				}
				monitoring.Logf("monitor tick error: %v", err)
			}
		case <-ctx.Done():
			monitoring.Logf("monitor terminated")
			return ctx.Err()
		}
	}
}

// Tick processes the newest window once. A window whose newest reading was
// already seen is ignored so a stalled source does not repeat checks.
func (m *Monitor) Tick(ctx context.Context) error {
	window, err := m.readings.LatestReadings(ctx, m.windowSize)
	if err != nil {
		m.metrics.TickError()
		m.recordError()
		return fmt.Errorf("load live window: %w", err)
	}
	if n := len(window); n > 0 {
		if window[n-1].ID == m.lastID {
			return nil
		}
		m.lastID = window[n-1].ID
	}

	tick := m.seg.Step(window)
	m.metrics.Tick(tick.Transition.String())

	if live := tick.Live; live != nil {
		if d := m.detectors.Blockage; d != nil {
			m.run(ctx, "blockage", live.Pump, func() (detect.Outcome, error) {
				return d.Check(ctx, live.Pump, live.Cycle, live.Window)
			})
		}
		if d := m.detectors.Pressure; d != nil {
			m.run(ctx, "pressure", live.Pump, func() (detect.Outcome, error) {
				return d.Check(ctx, live.Pump, live.Window)
			})
		}
	}

	for _, c := range tick.Finalized {
		m.metrics.CycleClosed(string(c.Pump))
		b := c.Boundary()
		monitoring.Logf("monitor: %s cycle closed (%d readings, %s..%s)",
			c.Pump, len(c.Readings), b.Start.Format(time.RFC3339), b.End.Format(time.RFC3339))
		if d := m.detectors.Malfunction; d != nil {
			m.run(ctx, "malfunction", c.Pump, func() (detect.Outcome, error) {
				return d.Check(ctx, c.Pump, b.EndReadingID)
			})
		}
		if d := m.detectors.Filter; d != nil {
			m.run(ctx, "filter", c.Pump, func() (detect.Outcome, error) {
				est, err := d.Check(ctx, c.Pump)
				if est.Tier == maintenance.TierNone {
					return detect.Skipped, err
				}
				return detect.Passed, err
			})
		}
	}

	m.mu.Lock()
	m.snap.At = m.clock.Now()
	m.snap.Transition = tick.Transition.String()
	m.snap.NewestID = m.lastID
	m.snap.Gelcoat = m.seg.Len(spray.Gelcoat)
	m.snap.Barrier = m.seg.Len(spray.Barrier)
	m.snap.Ticks++
	m.mu.Unlock()
	return nil
}

// run invokes one detector. Its failure is logged and counted without
// affecting the other detectors of the tick.
func (m *Monitor) run(ctx context.Context, name string, pump spray.PumpType, check func() (detect.Outcome, error)) {
	outcome, err := check()
	if err != nil {
		if ctx.Err() == nil {
			monitoring.Logf("%s check for %s failed: %v", name, pump, err)
		}
		m.metrics.Detection(name, "error")
		m.recordError()
		return
	}
	m.metrics.Detection(name, outcome.String())
}

func (m *Monitor) recordError() {
	m.mu.Lock()
	m.snap.Errors++
	m.mu.Unlock()
}
