package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newManager(t *testing.T) (*Manager, *memStore, *timeutil.MockClock) {
	t.Helper()
	store := newMemStore()
	clock := timeutil.NewMockClock(t0)
	return NewManager(store, clock, DefaultConfig(), nil), store, clock
}

func TestManager_EnsureCreatesDefaults(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newManager(t)
	require.NoError(t, m.Ensure(ctx))
	assert.Len(t, store.records, 4)

	pump, err := m.Get(ctx, spray.KindPump, spray.Gelcoat)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(45*day), pump.End)
	filter, err := m.Get(ctx, spray.KindFilter, spray.Barrier)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(21*day), filter.End)

	// A second Ensure leaves existing records alone.
	writes := store.writes
	require.NoError(t, m.Ensure(ctx))
	assert.Equal(t, writes, store.writes)
}

func TestManager_Tighten(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t)

	ok, err := m.Tighten(ctx, spray.KindPump, spray.Gelcoat, 5*day, 5*day)
	require.NoError(t, err)
	assert.True(t, ok)
	rem, err := m.Remaining(ctx, spray.KindPump, spray.Gelcoat)
	require.NoError(t, err)
	assert.Equal(t, 5*day, rem)

	// Already within the threshold: unchanged.
	clock.Advance(time.Hour)
	ok, err = m.Tighten(ctx, spray.KindPump, spray.Gelcoat, 5*day, 5*day)
	require.NoError(t, err)
	assert.False(t, ok)
	rem, err = m.Remaining(ctx, spray.KindPump, spray.Gelcoat)
	require.NoError(t, err)
	assert.Equal(t, 5*day-time.Hour, rem)

	// A window longer than what is left never extends the record.
	ok, err = m.Tighten(ctx, spray.KindPump, spray.Gelcoat, 30*day, day)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_SetManuallyReadsBack(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t)
	before, err := m.Get(ctx, spray.KindFilter, spray.Barrier)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	rec, err := m.SetManually(ctx, spray.KindFilter, spray.Barrier, 3)
	require.NoError(t, err)
	assert.Equal(t, before.Start, rec.Start)

	clock.Advance(time.Second)
	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Filter)

	_, err = m.SetManually(ctx, spray.KindFilter, spray.Barrier, -1)
	assert.Error(t, err)
}

func TestManager_ResetAndStatus(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newManager(t)
	require.NoError(t, m.Ensure(ctx))

	_, err := m.SetManually(ctx, spray.KindPump, spray.Barrier, 10)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	st, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, st.Maintenance)
	assert.Equal(t, 20, st.Filter)
	assert.Len(t, st.Records, 4)

	require.NoError(t, m.Reset(ctx, spray.KindPump))
	for _, pump := range spray.Pumps {
		rec, err := m.Get(ctx, spray.KindPump, pump)
		require.NoError(t, err)
		assert.Equal(t, clock.Now(), rec.Start)
		assert.Equal(t, clock.Now().Add(45*day), rec.End)
	}
}

func TestLinearRegressor(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{3, 5, 7, 9}
	p, err := LinearRegressor{}.Fit(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 11.0, p.Predict(5), 1e-9)

	_, err = LinearRegressor{}.Fit([]float64{2, 2, 2}, []float64{0, 1, 2})
	assert.ErrorIs(t, err, spray.ErrEstimationDegenerate)
	_, err = LinearRegressor{}.Fit([]float64{1}, []float64{0})
	assert.ErrorIs(t, err, spray.ErrEstimationDegenerate)
}
