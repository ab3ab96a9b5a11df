// Package jobs runs the batch operations over the session store: session
// reconciliation and rebuild, retention compaction, product derivation and
// nominal sample maintenance. Every operation is guarded so at most one
// instance runs at a time.
package jobs

import (
	"context"
	"sort"

	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/segment"
	"github.com/banshee-data/spray.report/internal/spray"
)

// SessionStore is the part of the store the reconciler reads and writes.
type SessionStore interface {
	ReadingsAfter(ctx context.Context, afterID int64) ([]spray.Reading, error)
	LastSessionEndReadingID(ctx context.Context, pump spray.PumpType) (int64, error)
	InsertSessions(ctx context.Context, sessions []spray.Session) ([]spray.Session, error)
	AllSessions(ctx context.Context) ([]spray.Session, error)
	ReplaceSessions(ctx context.Context, sessions []spray.Session) ([]spray.Session, error)
}

// Reconciler brings the session table up to date with the telemetry store
// using the batch segmenter. A session whose last reading is still within
// the merge gap of the newest reading may yet grow, so it is held back
// until a later run, unless the live monitor has already closed it.
type Reconciler struct {
	store SessionStore
	cfg   segment.Config
}

func NewReconciler(store SessionStore, cfg segment.Config) *Reconciler {
	return &Reconciler{store: store, cfg: cfg}
}

// RunOnce segments readings recorded after each pump's last stored session
// and appends the closed sessions. It returns the number inserted.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	return r.run(ctx, nil)
}

// RunClosed is RunOnce for a cycle of pump the live monitor has just closed:
// sessions of pump ending at or before throughID are stored even when they
// are still within the merge gap of the newest reading.
func (r *Reconciler) RunClosed(ctx context.Context, pump spray.PumpType, throughID int64) (int, error) {
	return r.run(ctx, map[spray.PumpType]int64{pump: throughID})
}

func (r *Reconciler) run(ctx context.Context, closedThrough map[spray.PumpType]int64) (int, error) {
	cursors := map[spray.PumpType]int64{}
	from := int64(-1)
	for _, p := range spray.Pumps {
		id, err := r.store.LastSessionEndReadingID(ctx, p)
		if err != nil {
			return 0, err
		}
		cursors[p] = id
		if from < 0 || id < from {
			from = id
		}
	}
	readings, err := r.store.ReadingsAfter(ctx, from)
	if err != nil {
		return 0, err
	}
	sessions := r.derive(readings, cursors, closedThrough)
	if len(sessions) == 0 {
		return 0, nil
	}
	stored, err := r.store.InsertSessions(ctx, sessions)
	if err != nil {
		return 0, err
	}
	monitoring.Logf("reconcile: inserted %d sessions (ids %d..%d)", len(stored), stored[0].ID, stored[len(stored)-1].ID)
	return len(stored), nil
}

// Rebuild re-derives the whole session table from the telemetry store.
// Operator comments and trash flags carry over to sessions with the same
// pump and bounds.
func (r *Reconciler) Rebuild(ctx context.Context) (int, error) {
	old, err := r.store.AllSessions(ctx)
	if err != nil {
		return 0, err
	}
	edits := make(map[sessionKey]spray.Session, len(old))
	for _, s := range old {
		if s.Comments != "" || s.IsTrash {
			edits[keyOf(s)] = s
		}
	}

	readings, err := r.store.ReadingsAfter(ctx, 0)
	if err != nil {
		return 0, err
	}
	sessions := r.derive(readings, nil, nil)
	kept := 0
	for i, s := range sessions {
		if e, ok := edits[keyOf(s)]; ok {
			sessions[i].Comments, sessions[i].IsTrash = e.Comments, e.IsTrash
			kept++
		}
	}
	stored, err := r.store.ReplaceSessions(ctx, sessions)
	if err != nil {
		return 0, err
	}
	monitoring.Logf("rebuild: %d sessions derived from %d readings (was %d, %d edits kept)",
		len(stored), len(readings), len(old), kept)
	return len(stored), nil
}

// derive segments each pump over the readings after its cursor, drops
// sessions that are still open and returns the rest in start order.
func (r *Reconciler) derive(readings []spray.Reading, cursors, closedThrough map[spray.PumpType]int64) []spray.Session {
	if len(readings) == 0 {
		return nil
	}
	newest := readings[len(readings)-1].Time
	closed := func(p spray.PumpType) []segment.Boundary {
		after := cursors[p]
		i := sort.Search(len(readings), func(i int) bool { return readings[i].ID > after })
		var out []segment.Boundary
		through, hasThrough := closedThrough[p]
		for _, b := range segment.Segment(readings[i:], p, r.cfg) {
			if newest.Sub(b.End) > r.cfg.MergeGap || (hasThrough && b.EndReadingID <= through) {
				out = append(out, b)
			}
		}
		return out
	}
	bounds := segment.Merge(closed(spray.Gelcoat), closed(spray.Barrier))
	out := make([]spray.Session, 0, len(bounds))
	for _, b := range bounds {
		out = append(out, segment.Summarize(b, readings, r.cfg.WeightPerPulse))
	}
	return out
}

type sessionKey struct {
	pump       spray.PumpType
	start, end int64
}

func keyOf(s spray.Session) sessionKey {
	return sessionKey{pump: s.Pump, start: s.Start.UnixNano(), end: s.End.UnixNano()}
}
