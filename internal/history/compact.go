package history

import (
	"time"

	"github.com/banshee-data/spray.report/internal/spray"
)

// IdleSpeed is the speed below which a reading counts as idle for both
// pumps during compaction.
const IdleSpeed = 1e-4

// Gap is a span of reading IDs strictly between AfterID and BeforeID that
// lies between two sessions.
type Gap struct {
	AfterID  int64
	BeforeID int64
}

// CompactionPlan lists the idle readings a compaction run may delete.
type CompactionPlan struct {
	// PrefixBeforeID is non-zero on the first run: idle readings with a
	// smaller ID precede every session.
	PrefixBeforeID int64
	Gaps           []Gap
	// Cursor is where the following run starts. It is unchanged when there
	// were too few sessions to plan anything.
	Cursor spray.CompactionCursor
}

// PlanCompaction plans deletions over sessions ordered by Start. Only
// sessions starting at or after the cursor take part, and the gaps after
// the newest keep sessions are left alone because the live monitor may
// still read them. For each gap the lower bound is the latest End seen so
// far, including sessions before the cursor, so a session enclosed by an
// earlier longer one never opens a gap inside it.
func PlanCompaction(sessions []spray.Session, cursor spray.CompactionCursor, keep int, now time.Time) CompactionPlan {
	plan := CompactionPlan{Cursor: cursor}
	var (
		latest   spray.Session
		hasPrior bool
	)
	if !cursor.IsZero() {
		i := 0
		for i < len(sessions) && sessions[i].StartReadingID < cursor.SinceReadingID {
			if !hasPrior || sessions[i].End.After(latest.End) {
				latest, hasPrior = sessions[i], true
			}
			i++
		}
		sessions = sessions[i:]
	} else if len(sessions) > 0 {
		plan.PrefixBeforeID = sessions[0].StartReadingID
	}
	if len(sessions) <= keep {
		return plan
	}

	for i := 0; i < len(sessions)-keep; i++ {
		if !hasPrior || sessions[i].End.After(latest.End) {
			latest, hasPrior = sessions[i], true
		}
		next := sessions[i+1]
		if !latest.End.Before(next.Start) {
			continue
		}
		if next.StartReadingID-latest.EndReadingID < 2 {
			continue
		}
		plan.Gaps = append(plan.Gaps, Gap{AfterID: latest.EndReadingID, BeforeID: next.StartReadingID})
	}

	anchor := sessions[len(sessions)-keep]
	plan.Cursor = spray.CompactionCursor{
		SinceReadingID: anchor.StartReadingID,
		SinceTime:      anchor.Start,
		RanAt:          now,
	}
	return plan
}
