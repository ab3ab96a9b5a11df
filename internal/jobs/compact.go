package jobs

import (
	"context"

	"github.com/banshee-data/spray.report/internal/history"
	"github.com/banshee-data/spray.report/internal/monitoring"
	"github.com/banshee-data/spray.report/internal/spray"
	"github.com/banshee-data/spray.report/internal/timeutil"
)

// DefaultKeepSessions is the number of newest sessions whose trailing gaps
// compaction leaves alone.
const DefaultKeepSessions = 4

// CompactionStore is the part of the store the compactor needs.
type CompactionStore interface {
	AllSessions(ctx context.Context) ([]spray.Session, error)
	CompactionCursor(ctx context.Context) (spray.CompactionCursor, error)
	SaveCompactionCursor(ctx context.Context, c spray.CompactionCursor) error
	DeleteIdleReadings(ctx context.Context, afterID, beforeID int64, eps float64) (int64, error)
}

// CompactionResult summarises one compaction run.
type CompactionResult struct {
	Deleted int64                  `json:"deleted"`
	Gaps    int                    `json:"gaps"`
	Cursor  spray.CompactionCursor `json:"cursor"`
}

// Compactor deletes idle readings between sessions. Sessions must be
// reconciled before it runs; the controller takes care of that.
type Compactor struct {
	store   CompactionStore
	clock   timeutil.Clock
	keep    int
	metrics *monitoring.Metrics
}

func NewCompactor(store CompactionStore, clock timeutil.Clock, keep int, metrics *monitoring.Metrics) *Compactor {
	if keep < 1 {
		keep = DefaultKeepSessions
	}
	return &Compactor{store: store, clock: clock, keep: keep, metrics: metrics}
}

// RunOnce plans and applies one compaction pass.
func (c *Compactor) RunOnce(ctx context.Context) (CompactionResult, error) {
	cursor, err := c.store.CompactionCursor(ctx)
	if err != nil {
		return CompactionResult{}, err
	}
	// Trashed sessions still bound real activity, so they take part.
	sessions, err := c.store.AllSessions(ctx)
	if err != nil {
		return CompactionResult{Cursor: cursor}, err
	}
	plan := history.PlanCompaction(sessions, cursor, c.keep, c.clock.Now())
	res := CompactionResult{Gaps: len(plan.Gaps), Cursor: cursor}

	if plan.PrefixBeforeID > 0 {
		n, err := c.store.DeleteIdleReadings(ctx, 0, plan.PrefixBeforeID, history.IdleSpeed)
		if err != nil {
			return res, err
		}
		res.Deleted += n
	}
	for _, g := range plan.Gaps {
		n, err := c.store.DeleteIdleReadings(ctx, g.AfterID, g.BeforeID, history.IdleSpeed)
		if err != nil {
			c.metrics.ReadingsCompacted(res.Deleted)
			return res, err
		}
		res.Deleted += n
	}
	c.metrics.ReadingsCompacted(res.Deleted)

	if plan.Cursor != cursor {
		if err := c.store.SaveCompactionCursor(ctx, plan.Cursor); err != nil {
			return res, err
		}
		res.Cursor = plan.Cursor
	}
	monitoring.Logf("compact: deleted %d idle readings across %d gaps; next run from reading %d",
		res.Deleted, res.Gaps, res.Cursor.SinceReadingID)
	return res, nil
}
