package detect

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/spray.report/internal/spray"
)

type memAlerts struct {
	mu     sync.Mutex
	alerts []spray.Alert
	err    error
}

func (m *memAlerts) AppendAlert(_ context.Context, a spray.Alert) (spray.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return spray.Alert{}, m.err
	}
	a.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, a)
	return a, nil
}

func (m *memAlerts) MostRecentAlert(_ context.Context, message string) (spray.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return spray.Alert{}, m.err
	}
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if m.alerts[i].Message == message {
			return m.alerts[i], nil
		}
	}
	return spray.Alert{}, spray.ErrNotFound
}

func (m *memAlerts) count(message string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.alerts {
		if a.Message == message {
			n++
		}
	}
	return n
}

type memNominal map[spray.PumpType][]spray.NominalSample

func (m memNominal) NominalSamples(_ context.Context, pump spray.PumpType) ([]spray.NominalSample, error) {
	return m[pump], nil
}

type memSessions struct {
	recent []spray.Session
}

func (m *memSessions) RecentSessions(_ context.Context, _ spray.PumpType, n int) ([]spray.Session, error) {
	if len(m.recent) > n {
		return m.recent[:n], nil
	}
	return m.recent, nil
}

type countingReconciler struct {
	calls   int
	pump    spray.PumpType
	through int64
	err     error
}

func (r *countingReconciler) ReconcileClosed(_ context.Context, pump spray.PumpType, throughID int64) error {
	r.calls++
	r.pump, r.through = pump, throughID
	return r.err
}

type fakeTimeline struct {
	remaining time.Duration
	tightened []time.Duration
}

func (f *fakeTimeline) Tighten(_ context.Context, _ spray.MaintenanceKind, _ spray.PumpType, window, ifRemainingOver time.Duration) (bool, error) {
	if f.remaining <= ifRemainingOver {
		return false, nil
	}
	f.remaining = window
	f.tightened = append(f.tightened, window)
	return true, nil
}
