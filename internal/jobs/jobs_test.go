package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spray.report/internal/db"
	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/segment"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

var t0 = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

func init() {
	monitoring.SetLogger(func(string, ...interface{}) {})
}

// testSegment is a 1 Hz configuration with short sessions allowed.
func testSegment() segment.Config {
	return segment.Config{
		SampleRate:       1,
		Window:           15 * time.Second,
		MergeGap:         15 * time.Second,
		MinSessionLength: 5 * time.Second,
		EdgeReadings:     1,
		WeightPerPulse:   1,
	}
}

func newStore(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "spray.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seed appends one reading per second starting at offset seconds after t0.
// g and b mark an active pump, x both, anything else an idle reading.
func seed(t *testing.T, store *db.DB, offset int, pattern string) {
	t.Helper()
	ctx := context.Background()
	for i, c := range pattern {
		r := spray.Reading{Time: t0.Add(time.Duration(offset+i) * time.Second), Pressure: 3}
		if c == 'g' || c == 'x' {
			r.GelcoatPulses, r.GelcoatSpeed = 2, 40
		}
		if c == 'b' || c == 'x' {
			r.BarrierPulses, r.BarrierSpeed = 1, 20
		}
		_, err := store.AppendReading(ctx, r)
		require.NoError(t, err)
	}
}

func repeat(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

func newController(t *testing.T, store *db.DB) (*Controller, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(t0.Add(24 * time.Hour))
	cfg := DefaultConfig()
	cfg.Interval = time.Minute
	cfg.CompactSchedule = ""
	cfg.Segment = testSegment()
	return NewController(store, clock, cfg, nil), clock
}

func TestReconciler_SplitsOnGapLongerThanMergeGap(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 0, repeat('g', 20)+repeat('.', 16)+repeat('g', 10)+repeat('.', 20))

	r := NewReconciler(store, testSegment())
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	sessions, err := store.AllSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sessions[0].StartReadingID)
	assert.Equal(t, int64(20), sessions[0].EndReadingID)
	assert.Equal(t, int64(37), sessions[1].StartReadingID)
	assert.Equal(t, int64(46), sessions[1].EndReadingID)
	assert.InDelta(t, 40.0, sessions[0].TotalSprayed, 1e-9)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a second run finds nothing new")
}

func TestReconciler_HoldsBackOpenSession(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 0, repeat('g', 10)+repeat('.', 5))

	r := NewReconciler(store, testSegment())
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "session may still grow")

	seed(t, store, 15, repeat('g', 5)+repeat('.', 20))
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	sessions, err := store.AllSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sessions[0].StartReadingID)
	assert.Equal(t, int64(20), sessions[0].EndReadingID)
}

func TestReconciler_RunClosedStoresCycleEndedByMonitor(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 0, repeat('b', 8)+repeat('g', 10)+repeat('.', 5))

	r := NewReconciler(store, testSegment())
	n, err := r.RunClosed(ctx, spray.Gelcoat, 17)
	require.NoError(t, err)
	assert.Zero(t, n, "cycle ends after the closed reading")

	n, err = r.RunClosed(ctx, spray.Gelcoat, 18)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only the closed pump is stored early")

	sessions, err := store.AllSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, spray.Gelcoat, sessions[0].Pump)
	assert.Equal(t, int64(9), sessions[0].StartReadingID)
	assert.Equal(t, int64(18), sessions[0].EndReadingID)

	n, err = r.RunClosed(ctx, spray.Gelcoat, 18)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestController_ReconcileClosed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 0, repeat('g', 10)+repeat('.', 3))
	c, _ := newController(t, store)

	require.NoError(t, c.ReconcileClosed(ctx, spray.Gelcoat, 10))
	count, err := store.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, int64(1), c.Status().Ops[OpReconcile].RunCount)
}

func TestReconciler_OverlappingPumpsAreNotTruncated(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 0, repeat('g', 20)+repeat('x', 10)+repeat('b', 10)+repeat('.', 10))

	r := NewReconciler(store, testSegment())
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only gelcoat has closed")

	seed(t, store, 50, repeat('.', 20))
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	sessions, err := store.AllSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, spray.Gelcoat, sessions[0].Pump)
	assert.Equal(t, spray.Barrier, sessions[1].Pump)
	assert.Equal(t, int64(21), sessions[1].StartReadingID)
	assert.Equal(t, int64(40), sessions[1].EndReadingID)
}

func TestReconciler_RebuildKeepsOperatorEdits(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 0, repeat('g', 10)+repeat('.', 20)+repeat('b', 10)+repeat('.', 20))

	r := NewReconciler(store, testSegment())
	_, err := r.RunOnce(ctx)
	require.NoError(t, err)
	before, err := store.AllSessions(ctx)
	require.NoError(t, err)

	require.NoError(t, store.SetSessionComment(ctx, 1, "thin coat"))
	require.NoError(t, store.SetSessionTrash(ctx, 2, true))

	n, err := r.Rebuild(ctx)
	require.NoError(t, err)
	require.Equal(t, len(before), n)

	after, err := store.AllSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "thin coat", after[0].Comments)
	assert.True(t, after[1].IsTrash)
	for i := range before {
		assert.Equal(t, before[i].StartReadingID, after[i].StartReadingID)
		assert.Equal(t, before[i].EndReadingID, after[i].EndReadingID)
	}
}

func TestController_GuardRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(t, newStore(t))

	c.sessionsGuard.Lock()
	err := c.Reconcile(ctx)
	_, rebuildErr := c.Rebuild(ctx)
	c.sessionsGuard.Unlock()

	assert.True(t, errors.Is(err, spray.ErrInProgress))
	assert.True(t, errors.Is(rebuildErr, spray.ErrInProgress))
	st := c.Status()
	assert.Equal(t, int64(1), st.Ops[OpReconcile].Rejected)
	assert.Zero(t, st.Ops[OpReconcile].RunCount)

	require.NoError(t, c.Reconcile(ctx))
	st = c.Status()
	assert.Equal(t, int64(1), st.Ops[OpReconcile].RunCount)
	require.NotNil(t, st.Ops[OpReconcile].LastRun)
	assert.NotEmpty(t, st.Ops[OpReconcile].LastRun.ID)
	assert.Equal(t, "request", st.Ops[OpReconcile].LastRun.Trigger)
	assert.True(t, st.IsHealthy)
}

func TestController_CompactDeletesGapsOutsideNewestSessions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	pattern := repeat('.', 5)
	for i := 0; i < 6; i++ {
		pattern += repeat('g', 6) + repeat('.', 20)
	}
	seed(t, store, 0, pattern)
	c, _ := newController(t, store)

	res, err := c.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5+20+20), res.Deleted)
	assert.Equal(t, 2, res.Gaps)
	assert.Equal(t, int64(58), res.Cursor.SinceReadingID)

	count, err := store.CountReadings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len(pattern)-45), count)

	sessions, err := store.AllSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 6, "sessions are untouched")

	res, err = c.Compact(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted, "nothing left to compact before the newest sessions")
	assert.Equal(t, int64(58), res.Cursor.SinceReadingID)
}

func TestController_UpdateProducts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gap := repeat('.', 20)
	seed(t, store, 0, repeat('g', 10)+gap+repeat('g', 10)+gap+repeat('b', 10)+gap)
	c, _ := newController(t, store)
	require.NoError(t, c.Reconcile(ctx))

	products, err := c.UpdateProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, int64(1), products[0].ID)
	assert.InDelta(t, 40.0, products[0].GelcoatMaterial, 1e-9)
	assert.InDelta(t, 10.0, products[0].BarrierMaterial, 1e-9)
}

func TestController_Nominal(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	seed(t, store, 0, repeat('g', 10)+repeat('.', 20)+repeat('g', 10)+repeat('.', 20))
	c, _ := newController(t, store)

	// No reconcile yet: AddNominal brings sessions up to date itself.
	added, err := c.AddNominal(ctx, spray.Gelcoat, t0.Add(time.Hour), t0)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, int64(1), added[0].ID)
	assert.Equal(t, int64(2), added[1].ID)

	_, err = c.AddNominal(ctx, spray.Barrier, t0, t0.Add(time.Hour))
	assert.True(t, errors.Is(err, spray.ErrNotFound))

	require.NoError(t, c.RemoveNominal(ctx, spray.Gelcoat, 1))
	samples, err := store.NominalSamples(ctx, spray.Gelcoat)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, int64(1), samples[0].ID)

	err = c.RemoveNominal(ctx, spray.Gelcoat, 7)
	assert.True(t, errors.Is(err, spray.ErrNotFound))
}

func TestController_TriggersDoNotBlock(t *testing.T) {
	c, _ := newController(t, newStore(t))
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			c.TriggerReconcile()
			c.TriggerCompaction()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("trigger blocked")
	}
}

func TestController_RunLoop(t *testing.T) {
	store := newStore(t)
	seed(t, store, 0, repeat('g', 10)+repeat('.', 20))
	c, clock := newController(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.Status().Ops[OpReconcile].RunCount == 1
	}, 2*time.Second, 5*time.Millisecond, "initial run")
	assert.Equal(t, "initial", c.Status().Ops[OpReconcile].LastRun.Trigger)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return c.Status().Ops[OpReconcile].RunCount == 2
	}, 2*time.Second, 5*time.Millisecond, "periodic run")

	c.SetEnabled(false)
	c.TriggerCompaction()
	require.Eventually(t, func() bool {
		return c.Status().Ops[OpCompact].RunCount == 1
	}, 2*time.Second, 5*time.Millisecond, "queued compaction")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestController_RunRejectsBadSchedule(t *testing.T) {
	store := newStore(t)
	clock := timeutil.NewMockClock(t0)
	cfg := DefaultConfig()
	cfg.CompactSchedule = "every day"
	c := NewController(store, clock, cfg, nil)
	assert.Error(t, c.Run(context.Background()))
}
