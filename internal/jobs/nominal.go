package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
)

// NominalStore is the part of the store nominal maintenance needs.
type NominalStore interface {
	SessionsBetween(ctx context.Context, pump spray.PumpType, from, to time.Time) ([]spray.Session, error)
	AddNominalSamples(ctx context.Context, samples []spray.NominalSample) ([]spray.NominalSample, error)
	RemoveNominalSample(ctx context.Context, pump spray.PumpType, id int64) error
}

// addNominal promotes every non-trashed session of pump within [from, to]
// into the nominal set.
func addNominal(ctx context.Context, store NominalStore, pump spray.PumpType, from, to, now time.Time) ([]spray.NominalSample, error) {
	if to.Before(from) {
		from, to = to, from
	}
	sessions, err := store.SessionsBetween(ctx, pump, from, to)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no %s sessions between %s and %s: %w",
			pump, from.Format(time.RFC3339), to.Format(time.RFC3339), spray.ErrNotFound)
	}
	samples := make([]spray.NominalSample, len(sessions))
	for i, s := range sessions {
		samples[i] = spray.NominalFromSession(s, now)
	}
	added, err := store.AddNominalSamples(ctx, samples)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("nominal: added %d %s samples", len(added), pump)
	return added, nil
}
