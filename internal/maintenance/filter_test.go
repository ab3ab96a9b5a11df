package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/spray.report/internal/detect"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

type filterFixture struct {
	est      *FilterEstimator
	manager  *Manager
	sessions *memSessions
	alerts   *memAlerts
	clock    *timeutil.MockClock
}

// newFilterFixture creates the filter records at t0 and moves the clock
// elapsed past it.
func newFilterFixture(t *testing.T, elapsed time.Duration) *filterFixture {
	t.Helper()
	clock := timeutil.NewMockClock(t0)
	manager := NewManager(newMemStore(), clock, DefaultConfig(), nil)
	require.NoError(t, manager.Ensure(context.Background()))
	clock.Advance(elapsed)

	alerts := &memAlerts{}
	sessions := &memSessions{}
	est := NewFilterEstimator(manager, sessions, fixedBaseline{spray.Gelcoat: 100},
		detect.NewAlerter(alerts, clock, 24*time.Hour, nil), clock, DefaultFilterConfig())
	return &filterFixture{est: est, manager: manager, sessions: sessions, alerts: alerts, clock: clock}
}

func (f *filterFixture) withSpeeds(speeds ...float64) {
	f.sessions.all = nil
	for i, v := range speeds {
		start := t0.Add(time.Duration(i+1) * time.Hour)
		f.sessions.all = append(f.sessions.all, spray.Session{
			ID: int64(i + 1), Pump: spray.Gelcoat, Start: start, End: start.Add(10 * time.Minute), AvgSpeed: v,
		})
	}
	f.sessions.count = len(speeds)
	// Keep the count on a multiple of four so the run is not throttled.
	for f.sessions.count%4 != 0 {
		f.sessions.count++
	}
}

func repeatSpeed(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestFilterEstimator_Tiers(t *testing.T) {
	ctx := context.Background()
	decline := make([]float64, 20)
	steep := make([]float64, 20)
	for i := range decline {
		decline[i] = 100 - 0.5*float64(i)
		steep[i] = 100 - float64(i)
	}

	tests := []struct {
		name     string
		elapsed  time.Duration
		speeds   []float64
		wantTier Tier
		wantDays float64
	}{
		{"one session uses the default", 3 * day, []float64{90}, TierDefault, 21},
		{"few sessions scale linearly", 3 * day, repeatSpeed(10, 97), TierLinear, 16.8},
		{"faster than nominal extends", 3 * day, repeatSpeed(10, 103), TierLinear, 25.2},
		{"regression on a steady decline", 10 * day, decline, TierRegression, 5},
		{"constant speed falls back", 10 * day, repeatSpeed(20, 90), TierLinear, 7},
		{"spent filter falls back", 10 * day, steep, TierLinear, 21 - 21*((100-90.5)/100)/0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFilterFixture(t, tt.elapsed)
			f.withSpeeds(tt.speeds...)

			got, err := f.est.Check(ctx, spray.Gelcoat)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTier, got.Tier)
			assert.InDelta(t, tt.wantDays, got.RemainingDays, 1e-6)

			rec, err := f.manager.Get(ctx, spray.KindFilter, spray.Gelcoat)
			require.NoError(t, err)
			want := f.clock.Now().Add(time.Duration(tt.wantDays * float64(day)))
			assert.WithinDuration(t, want, rec.End, time.Second)
		})
	}
}

func TestFilterEstimator_LinearDecreasesWithSpeed(t *testing.T) {
	f := newFilterFixture(t, 2*day)
	prev := 1e9
	for _, speed := range []float64{110, 100, 98, 95, 90, 87, 85, 80, 70, 50} {
		got := f.est.linear(speed, 100, 21)
		assert.Less(t, got, prev, "speed %.0f", speed)
		prev = got
	}
	assert.InDelta(t, -7.0, f.est.linear(80, 100, 21), 1e-9)
}

func TestFilterEstimator_OverdueFilterAlerts(t *testing.T) {
	ctx := context.Background()
	f := newFilterFixture(t, 3*day)
	f.withSpeeds(repeatSpeed(8, 80)...)

	got, err := f.est.Check(ctx, spray.Gelcoat)
	require.NoError(t, err)
	assert.Equal(t, TierLinear, got.Tier)
	assert.InDelta(t, -7.0, got.RemainingDays, 1e-9)
	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, detect.MsgFilterLifeLow(spray.Gelcoat), f.alerts.alerts[0].Message)

	rec, err := f.manager.Get(ctx, spray.KindFilter, spray.Gelcoat)
	require.NoError(t, err)
	assert.True(t, rec.End.Before(f.clock.Now()), "overdue filter ends in the past")
}

func TestFilterEstimator_Throttled(t *testing.T) {
	ctx := context.Background()

	t.Run("filter changed less than a day ago", func(t *testing.T) {
		f := newFilterFixture(t, 20*time.Hour)
		f.withSpeeds(repeatSpeed(8, 50)...)
		got, err := f.est.Check(ctx, spray.Gelcoat)
		require.NoError(t, err)
		assert.Equal(t, TierNone, got.Tier)
		assert.Empty(t, f.alerts.alerts)
	})

	t.Run("not an Nth session", func(t *testing.T) {
		f := newFilterFixture(t, 2*day)
		f.withSpeeds(repeatSpeed(8, 50)...)
		f.sessions.count = 9
		got, err := f.est.Check(ctx, spray.Gelcoat)
		require.NoError(t, err)
		assert.Equal(t, TierNone, got.Tier)
	})

	t.Run("no speed baseline", func(t *testing.T) {
		f := newFilterFixture(t, 2*day)
		f.withSpeeds(repeatSpeed(8, 50)...)
		got, err := f.est.Check(ctx, spray.Barrier)
		require.NoError(t, err)
		assert.Equal(t, TierNone, got.Tier)
	})
}

func TestFilterEstimator_LowLifeAlert(t *testing.T) {
	ctx := context.Background()
	f := newFilterFixture(t, 2*day)
	f.withSpeeds(repeatSpeed(8, 88)...)

	got, err := f.est.Check(ctx, spray.Gelcoat)
	require.NoError(t, err)
	assert.InDelta(t, 4.2, got.RemainingDays, 1e-6)
	require.Len(t, f.alerts.alerts, 1)
	assert.Equal(t, detect.MsgFilterLifeLow(spray.Gelcoat), f.alerts.alerts[0].Message)

	f.clock.Advance(time.Hour)
	_, err = f.est.Check(ctx, spray.Gelcoat)
	require.NoError(t, err)
	assert.Len(t, f.alerts.alerts, 1)
}

type stubRegressor struct{ value float64 }

func (s stubRegressor) Fit(_, _ []float64) (Predictor, error) { return s, nil }
func (s stubRegressor) Predict(float64) float64               { return s.value }

func TestFilterEstimator_CustomRegressor(t *testing.T) {
	f := newFilterFixture(t, 10*day)
	f.withSpeeds(repeatSpeed(20, 99)...)
	f.est.SetRegressor(stubRegressor{value: 40})

	got, err := f.est.Check(context.Background(), spray.Gelcoat)
	require.NoError(t, err)
	assert.Equal(t, TierRegression, got.Tier)
	assert.InDelta(t, 10.0, got.RemainingDays, 1e-9)
}
