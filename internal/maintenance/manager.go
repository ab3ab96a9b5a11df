// Package maintenance owns the pump and filter service windows and the
// filter-life estimator that revises them.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

const day = 24 * time.Hour

// Store persists one record per (kind, pump). GetMaintenance returns
// spray.ErrNotFound for a pair that was never written.
type Store interface {
	GetMaintenance(ctx context.Context, kind spray.MaintenanceKind, pump spray.PumpType) (spray.MaintenanceRecord, error)
	UpsertMaintenance(ctx context.Context, rec spray.MaintenanceRecord) error
}

// Config holds the default service lengths.
type Config struct {
	PumpLife   time.Duration
	FilterLife time.Duration
}

func DefaultConfig() Config {
	return Config{PumpLife: 45 * day, FilterLife: 21 * day}
}

// Manager serialises every read-modify-write of the maintenance records.
type Manager struct {
	mu      sync.Mutex
	store   Store
	clock   timeutil.Clock
	cfg     Config
	metrics *monitoring.Metrics
}

func NewManager(store Store, clock timeutil.Clock, cfg Config, metrics *monitoring.Metrics) *Manager {
	return &Manager{store: store, clock: clock, cfg: cfg, metrics: metrics}
}

// DefaultLife returns the service length a fresh record of kind gets.
func (m *Manager) DefaultLife(kind spray.MaintenanceKind) time.Duration {
	if kind == spray.KindFilter {
		return m.cfg.FilterLife
	}
	return m.cfg.PumpLife
}

// Ensure creates any missing record with the default service length.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range []spray.MaintenanceKind{spray.KindPump, spray.KindFilter} {
		for _, pump := range spray.Pumps {
			if _, err := m.getLocked(ctx, kind, pump); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get returns the record, creating it first if needed.
func (m *Manager) Get(ctx context.Context, kind spray.MaintenanceKind, pump spray.PumpType) (spray.MaintenanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ctx, kind, pump)
}

func (m *Manager) getLocked(ctx context.Context, kind spray.MaintenanceKind, pump spray.PumpType) (spray.MaintenanceRecord, error) {
	rec, err := m.store.GetMaintenance(ctx, kind, pump)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, spray.ErrNotFound) {
		return rec, fmt.Errorf("get %s %s maintenance: %w", pump, kind, err)
	}
	now := m.clock.Now()
	rec = spray.MaintenanceRecord{Kind: kind, Pump: pump, Start: now, End: now.Add(m.DefaultLife(kind))}
	if err := m.writeLocked(ctx, rec); err != nil {
		return rec, err
	}
	monitoring.Logf("maintenance: created %s %s record ending %s", pump, kind, rec.End.Format(time.RFC3339))
	return rec, nil
}

func (m *Manager) writeLocked(ctx context.Context, rec spray.MaintenanceRecord) error {
	if err := m.store.UpsertMaintenance(ctx, rec); err != nil {
		return fmt.Errorf("write %s %s maintenance: %w", rec.Pump, rec.Kind, err)
	}
	m.metrics.RemainingDays(string(rec.Kind), string(rec.Pump), rec.Remaining(m.clock.Now()).Hours()/24)
	return nil
}

// Remaining returns the time left on the record.
func (m *Manager) Remaining(ctx context.Context, kind spray.MaintenanceKind, pump spray.PumpType) (time.Duration, error) {
	rec, err := m.Get(ctx, kind, pump)
	if err != nil {
		return 0, err
	}
	return rec.Remaining(m.clock.Now()), nil
}

// Tighten moves End to now+window, but only when more than ifRemainingOver
// is currently left. A record already closer to due is never pushed out.
func (m *Manager) Tighten(ctx context.Context, kind spray.MaintenanceKind, pump spray.PumpType, window, ifRemainingOver time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.getLocked(ctx, kind, pump)
	if err != nil {
		return false, err
	}
	now := m.clock.Now()
	if rec.Remaining(now) <= ifRemainingOver {
		return false, nil
	}
	proposed := now.Add(window)
	if !proposed.Before(rec.End) {
		return false, nil
	}
	rec.End = proposed
	if err := m.writeLocked(ctx, rec); err != nil {
		return false, err
	}
	monitoring.Logf("maintenance: tightened %s %s to %s", pump, kind, rec.End.Format(time.RFC3339))
	return true, nil
}

// SetEstimate replaces the filter projection with now+days. The estimator is
// the sole owner of this value so the write is unconditional.
func (m *Manager) SetEstimate(ctx context.Context, pump spray.PumpType, days float64) (spray.MaintenanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.getLocked(ctx, spray.KindFilter, pump)
	if err != nil {
		return rec, err
	}
	rec.End = m.clock.Now().Add(time.Duration(days * float64(day)))
	return rec, m.writeLocked(ctx, rec)
}

// Reset starts a fresh service window of kind for both pumps.
func (m *Manager) Reset(ctx context.Context, kind spray.MaintenanceKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	for _, pump := range spray.Pumps {
		rec := spray.MaintenanceRecord{Kind: kind, Pump: pump, Start: now, End: now.Add(m.DefaultLife(kind))}
		if err := m.writeLocked(ctx, rec); err != nil {
			return err
		}
	}
	monitoring.Logf("maintenance: reset %s records", kind)
	return nil
}

// SetManually sets End so the floored status reads back days. The extra
// day absorbs the partial day already elapsed.
func (m *Manager) SetManually(ctx context.Context, kind spray.MaintenanceKind, pump spray.PumpType, days int) (spray.MaintenanceRecord, error) {
	if days < 0 {
		return spray.MaintenanceRecord{}, fmt.Errorf("days must be non-negative, got %d", days)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.getLocked(ctx, kind, pump)
	if err != nil {
		return rec, err
	}
	rec.End = m.clock.Now().Add(time.Duration(days+1) * day)
	return rec, m.writeLocked(ctx, rec)
}

// RecordStatus is the per-record part of Status.
type RecordStatus struct {
	spray.MaintenanceRecord
	RemainingDays int `json:"remaining_days"`
}

// Status is the gateway view of all records.
type Status struct {
	Maintenance int            `json:"maintenance"`
	Filter      int            `json:"filter"`
	Records     []RecordStatus `json:"records"`
}

// Status reports the floored remaining days of every record plus the
// minimum per kind across pumps.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	st := Status{}
	first := map[spray.MaintenanceKind]bool{}
	for _, kind := range []spray.MaintenanceKind{spray.KindPump, spray.KindFilter} {
		for _, pump := range spray.Pumps {
			rec, err := m.getLocked(ctx, kind, pump)
			if err != nil {
				return st, err
			}
			days := rec.RemainingDays(now)
			st.Records = append(st.Records, RecordStatus{MaintenanceRecord: rec, RemainingDays: days})
			target := &st.Maintenance
			if kind == spray.KindFilter {
				target = &st.Filter
			}
			if !first[kind] || days < *target {
				*target = days
				first[kind] = true
			}
		}
	}
	return st, nil
}
