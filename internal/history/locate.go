// Package history answers time-range queries over the session table and
// plans which telemetry can be dropped or grouped once sessions are known.
package history

import (
	"time"

	"github.com/banshee-data/spray.report/internal/spray"
)

// Match is the result of Locate. Sessions aliases the input slice.
type Match struct {
	Sessions []spray.Session
	// Start and End are the query bounds after swapping an inverted range.
	Start, End time.Time
	// Steps counts binary-search comparisons plus outward scan steps.
	Steps int
}

// Empty reports whether no session overlapped the query.
func (m Match) Empty() bool { return len(m.Sessions) == 0 }

// Locate returns the contiguous run of sessions overlapping [start, end].
// sessions must be ordered by Start. A session overlaps when
// End >= start && Start <= end.
//
// The search orders by End as well as Start, which holds while sessions do
// not nest. A long session enclosing later shorter ones is returned only
// when it is contiguous with an overlapping session; a query that falls in
// a gap between the enclosed sessions misses it.
func Locate(sessions []spray.Session, start, end time.Time) Match {
	if start.After(end) {
		start, end = end, start
	}
	m := Match{Start: start, End: end}

	hit := -1
	lo, hi := 0, len(sessions)-1
	for lo <= hi && hit < 0 {
		m.Steps++
		mid := lo + (hi-lo)/2
		s := sessions[mid]
		switch {
		case !s.End.Before(start) && !s.Start.After(end):
			hit = mid
		case s.End.Before(start):
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	if hit < 0 {
		return m
	}

	left, right := hit, hit
	for left > 0 && !sessions[left-1].End.Before(start) {
		left--
		m.Steps++
	}
	for right < len(sessions)-1 && !sessions[right+1].Start.After(end) {
		right++
		m.Steps++
	}
	m.Sessions = sessions[left : right+1]
	return m
}

// RawBounds returns the time range of raw readings to serve for a match:
// from the later of the query start and the first session's Start to the
// earlier of the query end and the last session's End.
func (m Match) RawBounds() (from, to time.Time) {
	if m.Empty() {
		return m.Start, m.End
	}
	from, to = m.Start, m.End
	if first := m.Sessions[0].Start; first.After(from) {
		from = first
	}
	if last := m.Sessions[len(m.Sessions)-1].End; last.Before(to) {
		to = last
	}
	return from, to
}
