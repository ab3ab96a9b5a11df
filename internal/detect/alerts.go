// Package detect implements the nominal baseline aggregator and the anomaly
// detectors run by the monitoring loop: blockage, insufficient pressure and
// pump malfunction.
package detect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

// AlertStore is the alert log. MostRecentAlert returns spray.ErrNotFound
// when no alert carries the message.
type AlertStore interface {
	AppendAlert(ctx context.Context, a spray.Alert) (spray.Alert, error)
	MostRecentAlert(ctx context.Context, message string) (spray.Alert, error)
}

// Outcome summarises one detector invocation.
type Outcome int

const (
	Passed Outcome = iota
	Skipped
	Raised
	Suppressed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Raised:
		return "raised"
	case Suppressed:
		return "suppressed"
	default:
		return "passed"
	}
}

// Alerter appends alerts, optionally suppressing repeats of the same message
// inside the de-duplication window.
type Alerter struct {
	store   AlertStore
	clock   timeutil.Clock
	window  time.Duration
	metrics *monitoring.Metrics
}

func NewAlerter(store AlertStore, clock timeutil.Clock, window time.Duration, metrics *monitoring.Metrics) *Alerter {
	return &Alerter{store: store, clock: clock, window: window, metrics: metrics}
}

// Raise appends an operational alert unconditionally.
func (a *Alerter) Raise(ctx context.Context, message, info string) error {
	return a.append(ctx, message, info, false)
}

// RaiseDeduplicated appends the alert unless one with the same message was
// recorded within the window. It reports whether an alert was written.
func (a *Alerter) RaiseDeduplicated(ctx context.Context, message, info string) (bool, error) {
	return a.raiseDedup(ctx, message, info, false)
}

// RaiseNominal records a missing-baseline alert, de-duplicated like
// RaiseDeduplicated so a pump without samples is not reported every tick.
func (a *Alerter) RaiseNominal(ctx context.Context, message string) (bool, error) {
	return a.raiseDedup(ctx, message, "", true)
}

func (a *Alerter) raiseDedup(ctx context.Context, message, info string, nominal bool) (bool, error) {
	last, err := a.store.MostRecentAlert(ctx, message)
	switch {
	case errors.Is(err, spray.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("look up last %q alert: %w", message, err)
	case a.clock.Since(last.Time) <= a.window:
		return false, nil
	}
	if err := a.append(ctx, message, info, nominal); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Alerter) append(ctx context.Context, message, info string, nominal bool) error {
	_, err := a.store.AppendAlert(ctx, spray.Alert{
		Time:                a.clock.Now(),
		Message:             message,
		MoreInfo:            info,
		IsNominalValueAlert: nominal,
	})
	if err != nil {
		return fmt.Errorf("append alert %q: %w", message, err)
	}
	a.metrics.Alert(nominal)
	monitoring.Logf("alert: %s %s", message, info)
	return nil
}

// Alert messages. The pump-specific ones take the pump name.
const (
	MsgPartialBlockage = "Partial Spraygun Blockage"
	MsgTotalBlockage   = "Total Spraygun Blockage"
)

func MsgLowPressure(p spray.PumpType) string {
	return fmt.Sprintf("Insufficient Pressure of %s pump", p)
}

func MsgMalfunctionImmediate(p spray.PumpType) string {
	return fmt.Sprintf("%s Pump Malfunction (Immediate)", p)
}

func MsgMalfunctionCheckSoon(p spray.PumpType) string {
	return fmt.Sprintf("%s Pump Malfunction (Check in 5 Days)", p)
}

func MsgFilterLifeLow(p spray.PumpType) string {
	return fmt.Sprintf("%s Filter Life less than 5 days", p)
}
