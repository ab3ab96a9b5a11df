package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/segment"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

// Op names a guarded batch operation.
type Op string

const (
	OpReconcile     Op = "reconcile"
	OpRebuild       Op = "rebuild"
	OpCompact       Op = "compact"
	OpProducts      Op = "products"
	OpNominalAdd    Op = "nominal_add"
	OpNominalRemove Op = "nominal_remove"
)

// Ops lists every operation in display order.
var Ops = []Op{OpReconcile, OpRebuild, OpCompact, OpProducts, OpNominalAdd, OpNominalRemove}

// Store is everything the controller's operations touch.
type Store interface {
	SessionStore
	CompactionStore
	ProductStore
	NominalStore
}

// Config tunes scheduling.
type Config struct {
	Interval        time.Duration // periodic reconciliation
	CompactSchedule string        // cron spec with a leading seconds field
	KeepSessions    int
	Segment         segment.Config
}

func DefaultConfig() Config {
	return Config{
		Interval:        15 * time.Minute,
		CompactSchedule: "0 0 18 * * *",
		KeepSessions:    DefaultKeepSessions,
		Segment:         segment.DefaultConfig(),
	}
}

// RunInfo captures details about a single run.
type RunInfo struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// OpStatus is the run history of one operation.
type OpStatus struct {
	LastRunAt    time.Time `json:"last_run_at"`
	LastRunError string    `json:"last_run_error,omitempty"`
	RunCount     int64     `json:"run_count"`
	Rejected     int64     `json:"rejected"`
	CurrentRun   *RunInfo  `json:"current_run,omitempty"`
	LastRun      *RunInfo  `json:"last_run,omitempty"`
}

// Status represents the current state of the controller.
type Status struct {
	Enabled         bool            `json:"enabled"`
	IsHealthy       bool            `json:"is_healthy"`
	Interval        string          `json:"interval"`
	CompactSchedule string          `json:"compact_schedule"`
	Ops             map[Op]OpStatus `json:"ops"`
}

type opState struct {
	lastRunAt    time.Time
	lastRunError error
	runCount     int64
	rejected     int64
	currentRun   *RunInfo
	lastRun      *RunInfo
}

// Controller serialises the batch operations. Each operation has a
// try-lock guard: a call that finds its operation already running returns
// spray.ErrInProgress at once. Reconcile and rebuild share a guard since
// both rewrite the session table; compaction and nominal additions wait
// for that guard while they bring sessions up to date.
type Controller struct {
	store      Store
	reconciler *Reconciler
	compactor  *Compactor
	clock      timeutil.Clock
	metrics    *monitoring.Metrics
	cfg        Config

	sessionsGuard sync.Mutex
	compactGuard  sync.Mutex
	productsGuard sync.Mutex
	nominalGuard  sync.Mutex

	mu      sync.RWMutex
	enabled bool
	ops     map[Op]*opState

	reconcileTrigger chan struct{}
	compactTrigger   chan struct{}
}

func NewController(store Store, clock timeutil.Clock, cfg Config, metrics *monitoring.Metrics) *Controller {
	ops := make(map[Op]*opState, len(Ops))
	for _, op := range Ops {
		ops[op] = &opState{}
	}
	return &Controller{
		store:      store,
		reconciler: NewReconciler(store, cfg.Segment),
		compactor:  NewCompactor(store, clock, cfg.KeepSessions, metrics),
		clock:      clock,
		metrics:    metrics,
		cfg:        cfg,
		enabled:    true,
		ops:        ops,
		// Size 1 so rapid triggers coalesce into one pending run.
		reconcileTrigger: make(chan struct{}, 1),
		compactTrigger:   make(chan struct{}, 1),
	}
}

// guarded runs fn under guard, recording the run against op.
func (c *Controller) guarded(ctx context.Context, op Op, trigger string, guard *sync.Mutex, fn func(context.Context) error) error {
	if !guard.TryLock() {
		c.mu.Lock()
		c.ops[op].rejected++
		c.mu.Unlock()
		c.metrics.JobRejected(string(op))
		return fmt.Errorf("%s: %w", op, spray.ErrInProgress)
	}
	defer guard.Unlock()

	run := c.startRun(op, trigger)
	err := fn(ctx)
	c.finishRun(op, run, err)
	if err != nil {
		monitoring.Logf("%s run %s (%s) error: %v", op, run.ID, trigger, err)
	}
	return err
}

func (c *Controller) startRun(op Op, trigger string) *RunInfo {
	run := &RunInfo{ID: uuid.NewString(), Trigger: trigger, StartedAt: c.clock.Now()}
	c.mu.Lock()
	c.ops[op].currentRun = run
	c.mu.Unlock()
	return run
}

func (c *Controller) finishRun(op Op, run *RunInfo, err error) {
	now := c.clock.Now()
	d := now.Sub(run.StartedAt)

	c.mu.Lock()
	st := c.ops[op]
	done := *run
	done.FinishedAt = now
	done.DurationMs = d.Milliseconds()
	if err != nil {
		done.Error = err.Error()
	}
	st.lastRun = &done
	st.currentRun = nil
	st.lastRunAt = now
	st.lastRunError = err
	st.runCount++
	c.mu.Unlock()

	c.metrics.JobFinished(string(op), d, err)
}

// Reconcile appends newly closed sessions.
func (c *Controller) Reconcile(ctx context.Context) error {
	_, err := c.ReconcileSessions(ctx, "request")
	return err
}

// ReconcileClosed appends newly closed sessions, counting every session of
// pump that ends at or before throughID as closed. The monitor calls it
// through the malfunction detector when a live cycle ends.
func (c *Controller) ReconcileClosed(ctx context.Context, pump spray.PumpType, throughID int64) error {
	return c.guarded(ctx, OpReconcile, "cycle", &c.sessionsGuard, func(ctx context.Context) error {
		_, err := c.reconciler.RunClosed(ctx, pump, throughID)
		return err
	})
}

// ReconcileSessions appends newly closed sessions and reports how many
// were inserted.
func (c *Controller) ReconcileSessions(ctx context.Context, trigger string) (int, error) {
	var n int
	err := c.guarded(ctx, OpReconcile, trigger, &c.sessionsGuard, func(ctx context.Context) error {
		var err error
		n, err = c.reconciler.RunOnce(ctx)
		return err
	})
	return n, err
}

// Rebuild re-derives every session from the telemetry store.
func (c *Controller) Rebuild(ctx context.Context) (int, error) {
	var n int
	err := c.guarded(ctx, OpRebuild, "request", &c.sessionsGuard, func(ctx context.Context) error {
		var err error
		n, err = c.reconciler.Rebuild(ctx)
		return err
	})
	return n, err
}

// Compact reconciles sessions and then deletes idle readings between them.
func (c *Controller) Compact(ctx context.Context) (CompactionResult, error) {
	return c.compact(ctx, "request")
}

func (c *Controller) compact(ctx context.Context, trigger string) (CompactionResult, error) {
	var res CompactionResult
	err := c.guarded(ctx, OpCompact, trigger, &c.compactGuard, func(ctx context.Context) error {
		c.sessionsGuard.Lock()
		defer c.sessionsGuard.Unlock()
		if _, err := c.reconciler.RunOnce(ctx); err != nil {
			return fmt.Errorf("reconcile before compaction: %w", err)
		}
		var err error
		res, err = c.compactor.RunOnce(ctx)
		return err
	})
	return res, err
}

// UpdateProducts rebuilds the product table from the current sessions.
func (c *Controller) UpdateProducts(ctx context.Context) ([]spray.Product, error) {
	var products []spray.Product
	err := c.guarded(ctx, OpProducts, "request", &c.productsGuard, func(ctx context.Context) error {
		var err error
		products, err = UpdateProducts(ctx, c.store)
		return err
	})
	return products, err
}

// AddNominal reconciles sessions and promotes the pump's sessions within
// [from, to] into the nominal set.
func (c *Controller) AddNominal(ctx context.Context, pump spray.PumpType, from, to time.Time) ([]spray.NominalSample, error) {
	var added []spray.NominalSample
	err := c.guarded(ctx, OpNominalAdd, "request", &c.nominalGuard, func(ctx context.Context) error {
		c.sessionsGuard.Lock()
		_, err := c.reconciler.RunOnce(ctx)
		c.sessionsGuard.Unlock()
		if err != nil {
			return fmt.Errorf("reconcile before nominal add: %w", err)
		}
		added, err = addNominal(ctx, c.store, pump, from, to, c.clock.Now())
		return err
	})
	return added, err
}

// RemoveNominal deletes one nominal sample; the rest are renumbered.
func (c *Controller) RemoveNominal(ctx context.Context, pump spray.PumpType, id int64) error {
	return c.guarded(ctx, OpNominalRemove, "request", &c.nominalGuard, func(ctx context.Context) error {
		if err := c.store.RemoveNominalSample(ctx, pump, id); err != nil {
			return err
		}
		monitoring.Logf("nominal: removed %s sample %d", pump, id)
		return nil
	})
}

// IsEnabled returns whether scheduled runs are enabled.
func (c *Controller) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled turns scheduled runs on or off. Enabling triggers a reconcile.
// Requested operations run regardless.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
	if enabled {
		c.TriggerReconcile()
	}
}

// TriggerReconcile queues a reconcile on the Run loop without blocking.
func (c *Controller) TriggerReconcile() {
	select {
	case c.reconcileTrigger <- struct{}{}:
	default:
		monitoring.Logf("reconcile manual trigger skipped (already pending)")
	}
}

// TriggerCompaction queues a compaction on the Run loop without blocking.
func (c *Controller) TriggerCompaction() {
	select {
	case c.compactTrigger <- struct{}{}:
	default:
		monitoring.Logf("compaction trigger skipped (already pending)")
	}
}

// Status returns a snapshot of every operation.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := Status{
		Enabled:         c.enabled,
		IsHealthy:       true,
		Interval:        c.cfg.Interval.String(),
		CompactSchedule: c.cfg.CompactSchedule,
		Ops:             make(map[Op]OpStatus, len(c.ops)),
	}
	for op, s := range c.ops {
		snap := OpStatus{LastRunAt: s.lastRunAt, RunCount: s.runCount, Rejected: s.rejected}
		if s.lastRunError != nil {
			snap.LastRunError = s.lastRunError.Error()
			st.IsHealthy = false
		}
		if s.currentRun != nil {
			run := *s.currentRun
			snap.CurrentRun = &run
		}
		if s.lastRun != nil {
			run := *s.lastRun
			snap.LastRun = &run
		}
		st.Ops[op] = snap
	}

	// Unhealthy if enabled but reconcile hasn't run in twice the interval.
	if last := c.ops[OpReconcile].lastRunAt; c.enabled && !last.IsZero() && c.cfg.Interval > 0 {
		if c.clock.Since(last) > 2*c.cfg.Interval {
			st.IsHealthy = false
		}
	}
	return st
}

// Run drives scheduled work until ctx is cancelled: an initial reconcile,
// periodic reconciles every Interval, queued triggers and the cron
// compaction schedule. It should be called in a goroutine.
func (c *Controller) Run(ctx context.Context) error {
	sched := cron.New(cron.WithSeconds())
	if c.cfg.CompactSchedule != "" {
		if _, err := sched.AddFunc(c.cfg.CompactSchedule, func() {
			if c.IsEnabled() {
				c.TriggerCompaction()
			}
		}); err != nil {
			return fmt.Errorf("invalid compaction schedule %q: %w", c.cfg.CompactSchedule, err)
		}
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	ticker := c.clock.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	monitoring.Logf("job controller started: enabled=%t interval=%s compact=%q",
		c.IsEnabled(), c.cfg.Interval, c.cfg.CompactSchedule)

	if c.IsEnabled() {
		c.runReconcile(ctx, "initial")
	}

	for {
		select {
		case <-ticker.C():
			if c.IsEnabled() {
				c.runReconcile(ctx, "periodic")
			}
		case <-c.reconcileTrigger:
			c.runReconcile(ctx, "manual")
		case <-c.compactTrigger:
			if _, err := c.compact(ctx, "scheduled"); err == nil {
				monitoring.Logf("scheduled compaction completed")
			}
		case <-ctx.Done():
			monitoring.Logf("job controller terminated")
			return ctx.Err()
		}
	}
}

func (c *Controller) runReconcile(ctx context.Context, trigger string) {
	n, err := c.ReconcileSessions(ctx, trigger)
	if err == nil && n > 0 {
		monitoring.Logf("%s reconcile inserted %d sessions", trigger, n)
	}
}
