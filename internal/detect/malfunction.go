package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
)

// SessionLister returns the newest non-trashed sessions of a pump, most
// recent first.
type SessionLister interface {
	RecentSessions(ctx context.Context, pump spray.PumpType, n int) ([]spray.Session, error)
}

// Reconciler brings the session table up to date with the telemetry store.
// Sessions of pump ending at or before throughID count as closed.
type Reconciler interface {
	ReconcileClosed(ctx context.Context, pump spray.PumpType, throughID int64) error
}

// Timeline shortens a maintenance window. Tighten sets End to now+window
// only when more than ifRemainingOver is left and reports whether it did.
type Timeline interface {
	Tighten(ctx context.Context, kind spray.MaintenanceKind, pump spray.PumpType, window, ifRemainingOver time.Duration) (bool, error)
}

// Malfunction watches the sprayed weight of recent sessions for sustained
// deviation from nominal.
type Malfunction struct {
	sessions   SessionLister
	reconciler Reconciler
	timeline   Timeline
	baseline   *Aggregator
	alerts     *Alerter
	th         Thresholds
}

func NewMalfunction(sessions SessionLister, reconciler Reconciler, timeline Timeline, baseline *Aggregator, alerts *Alerter, th Thresholds) *Malfunction {
	return &Malfunction{
		sessions:   sessions,
		reconciler: reconciler,
		timeline:   timeline,
		baseline:   baseline,
		alerts:     alerts,
		th:         th,
	}
}

// Check runs after a cycle of pump closes. closedThrough is the ID of the
// last reading of that cycle; the session it forms is stored before the
// recent sessions are read.
func (m *Malfunction) Check(ctx context.Context, pump spray.PumpType, closedThrough int64) (Outcome, error) {
	if m.reconciler != nil {
		if err := m.reconciler.ReconcileClosed(ctx, pump, closedThrough); err != nil && !errors.Is(err, spray.ErrInProgress) {
			monitoring.Logf("malfunction check: reconcile before %s check failed: %v", pump, err)
		}
	}

	nominal, err := m.baseline.Baseline(ctx, pump, spray.MetricSprayed)
	if err != nil {
		return skipOnNoBaseline(err)
	}
	recent, err := m.sessions.RecentSessions(ctx, pump, m.th.RecentSessions)
	if err != nil {
		return Passed, fmt.Errorf("load recent %s sessions: %w", pump, err)
	}
	if len(recent) < 2 {
		return Skipped, nil
	}

	deviations := make([]float64, len(recent))
	over := 0
	for i, s := range recent {
		deviations[i] = (s.TotalSprayed - nominal) / (nominal + 1e-5)
		if deviations[i] > m.th.DeviationLimit {
			over++
		}
	}

	outcome := Passed
	if over > m.th.ImmediateCount {
		info := fmt.Sprintf("%d of the last %d sessions deviate more than %.0f%%: %s",
			over, len(recent), m.th.DeviationLimit*100, formatDeviations(deviations))
		o, err := m.escalate(ctx, pump, MsgMalfunctionImmediate(pump), info, m.th.ImmediateMinRemaining)
		if err != nil {
			return outcome, err
		}
		outcome = merge(outcome, o)
	}
	if deviations[0] > m.th.DeviationLimit && deviations[1] > m.th.DeviationLimit {
		info := fmt.Sprintf("deviation from nominal for 2 consecutive sessions: %.3f and %.3f", deviations[0], deviations[1])
		o, err := m.escalate(ctx, pump, MsgMalfunctionCheckSoon(pump), info, m.th.AlertWindow)
		if err != nil {
			return outcome, err
		}
		outcome = merge(outcome, o)
	}
	return outcome, nil
}

// escalate tightens the pump record and raises msg when the record still has
// more than threshold left. Otherwise the pump is already close to service
// and msg is only repeated outside the de-duplication window.
func (m *Malfunction) escalate(ctx context.Context, pump spray.PumpType, msg, info string, threshold time.Duration) (Outcome, error) {
	tightened, err := m.timeline.Tighten(ctx, spray.KindPump, pump, m.th.AlertWindow, threshold)
	if err != nil {
		return Passed, err
	}
	if tightened {
		if err := m.alerts.Raise(ctx, msg, info); err != nil {
			return Passed, err
		}
		return Raised, nil
	}
	raised, err := m.alerts.RaiseDeduplicated(ctx, msg, info)
	return dedupOutcome(raised, err)
}

func merge(a, b Outcome) Outcome {
	if a == Raised || b == Raised {
		return Raised
	}
	if a == Suppressed || b == Suppressed {
		return Suppressed
	}
	return a
}

func skipOnNoBaseline(err error) (Outcome, error) {
	if errors.Is(err, spray.ErrNoBaseline) {
		return Skipped, nil
	}
	return Passed, err
}

func formatDeviations(ds []float64) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = fmt.Sprintf("%.3f", d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
