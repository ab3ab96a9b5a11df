package maintenance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/spray.report/internal/detect"
	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

// SessionSource is the part of the session store the estimator reads.
// SessionsSince returns non-trashed sessions with Start at or after t,
// oldest first.
type SessionSource interface {
	SessionsSince(ctx context.Context, t time.Time) ([]spray.Session, error)
	CountSessions(ctx context.Context) (int, error)
}

// Baseliner returns the nominal mean of a metric.
type Baseliner interface {
	Baseline(ctx context.Context, pump spray.PumpType, metric spray.Metric) (float64, error)
}

// FilterConfig tunes the estimator.
type FilterConfig struct {
	Every         int           // run on every Nth session
	MinAge        time.Duration // skip while the filter is younger than this
	Tier3Sessions int
	DropRatio     float64 // speed drop that uses up a full filter life
	TargetRatio   float64 // speed, relative to nominal, at which the filter is spent
	LowDays       float64
}

func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Every:         4,
		MinAge:        day,
		Tier3Sessions: 20,
		DropRatio:     0.15,
		TargetRatio:   0.85,
		LowDays:       5,
	}
}

// Tier identifies which rule produced an estimate.
type Tier int

const (
	TierNone Tier = iota
	TierDefault
	TierLinear
	TierRegression
)

func (t Tier) String() string {
	switch t {
	case TierDefault:
		return "default"
	case TierLinear:
		return "linear"
	case TierRegression:
		return "regression"
	default:
		return "none"
	}
}

// Estimate is the result of one estimator run. Tier is TierNone when the
// run was throttled and nothing was written.
type Estimate struct {
	Pump          spray.PumpType
	Tier          Tier
	Sessions      int
	RemainingDays float64
}

// FilterEstimator projects the remaining filter life from the speed trend
// of the sessions run since the last filter change.
type FilterEstimator struct {
	manager   *Manager
	sessions  SessionSource
	baseline  Baseliner
	alerts    *detect.Alerter
	regressor Regressor
	clock     timeutil.Clock
	cfg       FilterConfig
}

func NewFilterEstimator(manager *Manager, sessions SessionSource, baseline Baseliner, alerts *detect.Alerter, clock timeutil.Clock, cfg FilterConfig) *FilterEstimator {
	return &FilterEstimator{
		manager:   manager,
		sessions:  sessions,
		baseline:  baseline,
		alerts:    alerts,
		regressor: LinearRegressor{},
		clock:     clock,
		cfg:       cfg,
	}
}

// SetRegressor swaps the tier-3 model.
func (f *FilterEstimator) SetRegressor(r Regressor) {
	if r != nil {
		f.regressor = r
	}
}

// Check runs after a cycle of pump closes. A missing speed baseline skips
// the run without error.
func (f *FilterEstimator) Check(ctx context.Context, pump spray.PumpType) (Estimate, error) {
	est := Estimate{Pump: pump}
	rec, err := f.manager.Get(ctx, spray.KindFilter, pump)
	if err != nil {
		return est, err
	}
	age := f.clock.Since(rec.Start)
	if age < f.cfg.MinAge {
		return est, nil
	}
	nominal, err := f.baseline.Baseline(ctx, pump, spray.MetricSpeed)
	if errors.Is(err, spray.ErrNoBaseline) {
		return est, nil
	}
	if err != nil {
		return est, err
	}
	count, err := f.sessions.CountSessions(ctx)
	if err != nil {
		return est, fmt.Errorf("count sessions: %w", err)
	}
	if f.cfg.Every > 1 && count%f.cfg.Every != 0 {
		return est, nil
	}
	sessions, err := f.sessions.SessionsSince(ctx, rec.Start)
	if err != nil {
		return est, fmt.Errorf("load sessions since filter change: %w", err)
	}

	est.Sessions = len(sessions)
	est.Tier, est.RemainingDays = f.estimate(sessions, nominal, math.Floor(age.Hours()/24))
	if _, err := f.manager.SetEstimate(ctx, pump, est.RemainingDays); err != nil {
		return est, err
	}
	monitoring.Logf("filter estimate: %s %.2f days remaining (%s tier, %d sessions)",
		pump, est.RemainingDays, est.Tier, est.Sessions)

	if est.RemainingDays < f.cfg.LowDays {
		info := fmt.Sprintf("Remaining days for filter life: %.2f", est.RemainingDays)
		if _, err := f.alerts.RaiseDeduplicated(ctx, detect.MsgFilterLifeLow(pump), info); err != nil {
			return est, err
		}
	}
	return est, nil
}

func (f *FilterEstimator) estimate(sessions []spray.Session, nominal, elapsedDays float64) (Tier, float64) {
	life := f.manager.DefaultLife(spray.KindFilter).Hours() / 24
	if len(sessions) < 2 {
		return TierDefault, life
	}
	speeds := make([]float64, len(sessions))
	for i, s := range sessions {
		speeds[i] = s.AvgSpeed
	}
	linear := f.linear(stat.Mean(speeds, nil), nominal, life)
	if len(sessions) < f.cfg.Tier3Sessions {
		return TierLinear, linear
	}
	days, err := f.regression(speeds, nominal, elapsedDays)
	if err != nil {
		monitoring.Logf("filter estimate: regression fallback to linear: %v", err)
		return TierLinear, linear
	}
	return TierRegression, days
}

// linear shrinks the default life in proportion to the mean speed drop, a
// DropRatio drop using up the whole life. A larger drop goes negative: the
// filter is overdue.
func (f *FilterEstimator) linear(mean, nominal, life float64) float64 {
	if nominal == 0 {
		return life
	}
	drop := (nominal - mean) / nominal
	return life - life*drop/f.cfg.DropRatio
}

// regression fits session index against speed, index 0 being the oldest
// session, and converts the index predicted at the spent speed into days.
func (f *FilterEstimator) regression(speeds []float64, nominal, elapsedDays float64) (float64, error) {
	if elapsedDays <= 0 {
		return 0, fmt.Errorf("no elapsed days: %w", spray.ErrEstimationDegenerate)
	}
	index := make([]float64, len(speeds))
	for i := range index {
		index[i] = float64(i)
	}
	model, err := f.regressor.Fit(speeds, index)
	if err != nil {
		return 0, err
	}
	predicted := model.Predict(f.cfg.TargetRatio * nominal)
	perDay := float64(len(speeds)) / elapsedDays
	remaining := predicted/perDay - elapsedDays
	if !finite(remaining) || remaining < 0 {
		return 0, fmt.Errorf("projected %.2f days: %w", remaining, spray.ErrEstimationDegenerate)
	}
	return remaining, nil
}
