package detect

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/spray.report/internal/spray"
)

// NominalStore lists the operator-curated nominal samples of a pump.
type NominalStore interface {
	NominalSamples(ctx context.Context, pump spray.PumpType) ([]spray.NominalSample, error)
}

// Aggregator computes per-pump baselines from the nominal sample set.
type Aggregator struct {
	store  NominalStore
	alerts *Alerter
}

func NewAggregator(store NominalStore, alerts *Alerter) *Aggregator {
	return &Aggregator{store: store, alerts: alerts}
}

// Baseline returns the mean of metric over the pump's nominal samples. An
// empty set raises a nominal-value alert and returns spray.ErrNoBaseline.
func (a *Aggregator) Baseline(ctx context.Context, pump spray.PumpType, metric spray.Metric) (float64, error) {
	samples, err := a.store.NominalSamples(ctx, pump)
	if err != nil {
		return 0, fmt.Errorf("load %s nominal samples: %w", pump, err)
	}
	if len(samples) == 0 {
		if a.alerts != nil {
			if _, err := a.alerts.RaiseNominal(ctx, missingBaselineMessage(pump, metric)); err != nil {
				return 0, err
			}
		}
		return 0, fmt.Errorf("%s %s: %w", pump, metric, spray.ErrNoBaseline)
	}
	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value(metric)
	}
	return stat.Mean(values, nil), nil
}

func missingBaselineMessage(pump spray.PumpType, metric spray.Metric) string {
	switch metric {
	case spray.MetricSprayed:
		return fmt.Sprintf("No nominal value found for sprayed amount (%s). Can't check for pump malfunction.", pump)
	case spray.MetricSpeed:
		return fmt.Sprintf("No nominal value found for speed (%s). Can't estimate filter life.", pump)
	default:
		return fmt.Sprintf("No nominal value found for pressure (%s). Can't check whether pressure is sufficient.", pump)
	}
}
