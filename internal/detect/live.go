package detect

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/spray.report/internal/spray"
)

// Blockage compares the live window against the first seconds of the
// running cycle. A speed drop with pressure held up points at a restriction
// in the gun rather than starvation.
type Blockage struct {
	alerts *Alerter
	th     Thresholds
}

func NewBlockage(alerts *Alerter, th Thresholds) *Blockage {
	return &Blockage{alerts: alerts, th: th}
}

// Check runs once per steady-on tick. Blockage alerts are never suppressed.
func (b *Blockage) Check(ctx context.Context, pump spray.PumpType, cycle, window []spray.Reading) (Outcome, error) {
	n := b.th.referenceSize()
	if len(cycle) <= n || len(window) == 0 {
		return Skipped, nil
	}
	refSpeed, refPressure := means(cycle[:n], pump)
	liveSpeed, livePressure := means(window, pump)

	info := fmt.Sprintf("pump_type: %s, window speed: %.3f, window pressure: %.3f, reference speed: %.3f, reference pressure: %.3f",
		pump, liveSpeed, livePressure, refSpeed, refPressure)

	var msg string
	switch {
	case liveSpeed < b.th.PartialSpeedRatio*refSpeed && livePressure > b.th.PartialPressureRatio*refPressure:
		msg = MsgPartialBlockage
	case liveSpeed < b.th.TotalSpeedRatio*refSpeed && livePressure > b.th.TotalPressureRatio*refPressure:
		msg = MsgTotalBlockage
	default:
		return Passed, nil
	}
	if err := b.alerts.Raise(ctx, msg, info); err != nil {
		return Passed, err
	}
	return Raised, nil
}

// Pressure flags a live window whose mean pressure is below the nominal
// baseline by more than the configured ratio.
type Pressure struct {
	baseline *Aggregator
	alerts   *Alerter
	th       Thresholds
}

func NewPressure(baseline *Aggregator, alerts *Alerter, th Thresholds) *Pressure {
	return &Pressure{baseline: baseline, alerts: alerts, th: th}
}

func (p *Pressure) Check(ctx context.Context, pump spray.PumpType, window []spray.Reading) (Outcome, error) {
	if len(window) == 0 {
		return Skipped, nil
	}
	nominal, err := p.baseline.Baseline(ctx, pump, spray.MetricPressure)
	if err != nil {
		return skipOnNoBaseline(err)
	}
	_, mean := means(window, pump)
	if mean >= p.th.LowPressureRatio*nominal {
		return Passed, nil
	}
	info := fmt.Sprintf("window pressure: %.3f, nominal pressure: %.3f", mean, nominal)
	raised, err := p.alerts.RaiseDeduplicated(ctx, MsgLowPressure(pump), info)
	return dedupOutcome(raised, err)
}

func means(rs []spray.Reading, pump spray.PumpType) (speed, pressure float64) {
	speeds := make([]float64, len(rs))
	pressures := make([]float64, len(rs))
	for i, r := range rs {
		speeds[i] = r.Speed(pump)
		pressures[i] = r.Pressure
	}
	return stat.Mean(speeds, nil), stat.Mean(pressures, nil)
}

func dedupOutcome(raised bool, err error) (Outcome, error) {
	if err != nil {
		return Passed, err
	}
	if raised {
		return Raised, nil
	}
	return Suppressed, nil
}
