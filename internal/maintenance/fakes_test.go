package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/spray.report/internal/spray"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]spray.MaintenanceRecord
	writes  int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]spray.MaintenanceRecord{}}
}

func key(kind spray.MaintenanceKind, pump spray.PumpType) string {
	return fmt.Sprintf("%s/%s", kind, pump)
}

func (m *memStore) GetMaintenance(_ context.Context, kind spray.MaintenanceKind, pump spray.PumpType) (spray.MaintenanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key(kind, pump)]
	if !ok {
		return rec, spray.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) UpsertMaintenance(_ context.Context, rec spray.MaintenanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key(rec.Kind, rec.Pump)] = rec
	m.writes++
	return nil
}

type memSessions struct {
	all   []spray.Session
	count int
}

func (m *memSessions) SessionsSince(_ context.Context, t time.Time) ([]spray.Session, error) {
	var out []spray.Session
	for _, s := range m.all {
		if !s.Start.Before(t) && !s.IsTrash {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memSessions) CountSessions(context.Context) (int, error) {
	return m.count, nil
}

type fixedBaseline map[spray.PumpType]float64

func (f fixedBaseline) Baseline(_ context.Context, pump spray.PumpType, _ spray.Metric) (float64, error) {
	v, ok := f[pump]
	if !ok {
		return 0, spray.ErrNoBaseline
	}
	return v, nil
}

type memAlerts struct {
	alerts []spray.Alert
}

func (m *memAlerts) AppendAlert(_ context.Context, a spray.Alert) (spray.Alert, error) {
	a.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, a)
	return a, nil
}

func (m *memAlerts) MostRecentAlert(_ context.Context, message string) (spray.Alert, error) {
	for i := len(m.alerts) - 1; i >= 0; i-- {
		if m.alerts[i].Message == message {
			return m.alerts[i], nil
		}
	}
	return spray.Alert{}, spray.ErrNotFound
}
