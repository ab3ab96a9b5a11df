// Package segment turns a reading stream into per-pump session boundaries.
//
// Batch mode (Segment) re-derives every boundary from stored history and is
// what the reconciliation worker writes to the session table. Online mode
// (Segmenter) follows the live rolling window one tick at a time and hands
// each closed cycle to the detectors exactly once.
package segment

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/spray.report/internal/spray"
)

// DefaultWeightPerPulse is the kilograms of material moved by one encoder
// pulse, identical for both pumps on the current line.
const DefaultWeightPerPulse = 150.0 / 10.17 * 1.33 / 100

// Config holds segmentation parameters shared by both modes.
type Config struct {
	SampleRate       int           // readings per second
	Window           time.Duration // length of the live rolling window
	MergeGap         time.Duration // largest gap still inside one session
	MinSessionLength time.Duration
	EdgeReadings     int // K readings compared at each end of the window
	WeightPerPulse   float64
}

func DefaultConfig() Config {
	return Config{
		SampleRate:       10,
		Window:           15 * time.Second,
		MergeGap:         15 * time.Second,
		MinSessionLength: 15 * time.Second,
		EdgeReadings:     5,
		WeightPerPulse:   DefaultWeightPerPulse,
	}
}

// WindowSize is the number of readings fetched for one live tick.
func (c Config) WindowSize() int {
	n := int(c.Window.Seconds() * float64(c.SampleRate))
	if n < 1 {
		n = 1
	}
	return n
}

// Boundary marks the first and last active reading of a session.
type Boundary struct {
	Pump           spray.PumpType
	Start          time.Time
	End            time.Time
	StartReadingID int64
	EndReadingID   int64
}

func (b Boundary) Duration() time.Duration { return b.End.Sub(b.Start) }

func (c Config) keep(b Boundary) bool {
	d := b.Duration()
	return d > 0 && d >= c.MinSessionLength
}

// Segment applies the edge-detection rule to readings (ordered by ID) for
// one pump. Two consecutive active readings share a session iff their gap is
// at most MergeGap. Sessions shorter than MinSessionLength are dropped.
func Segment(readings []spray.Reading, pump spray.PumpType, cfg Config) []Boundary {
	var (
		out  []Boundary
		cur  Boundary
		open bool
	)
	for _, r := range readings {
		if !r.Active(pump) {
			continue
		}
		if open && r.Time.Sub(cur.End) > cfg.MergeGap {
			if cfg.keep(cur) {
				out = append(out, cur)
			}
			open = false
		}
		if !open {
			cur = Boundary{Pump: pump, Start: r.Time, End: r.Time, StartReadingID: r.ID, EndReadingID: r.ID}
			open = true
			continue
		}
		cur.End = r.Time
		cur.EndReadingID = r.ID
	}
	if open && cfg.keep(cur) {
		out = append(out, cur)
	}
	return out
}

// Merge interleaves two start-ordered boundary lists into one.
func Merge(a, b []Boundary) []Boundary {
	out := make([]Boundary, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if !b[j].Start.Before(a[i].Start) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// Summarize computes the aggregates of b over every reading whose ID lies in
// [StartReadingID, EndReadingID]. readings must be ordered by ID.
func Summarize(b Boundary, readings []spray.Reading, weightPerPulse float64) spray.Session {
	lo := sort.Search(len(readings), func(i int) bool { return readings[i].ID >= b.StartReadingID })
	hi := sort.Search(len(readings), func(i int) bool { return readings[i].ID > b.EndReadingID })
	span := readings[lo:hi]

	pulses := make([]float64, len(span))
	pressure := make([]float64, len(span))
	for i, r := range span {
		pulses[i] = r.Pulses(b.Pump)
		pressure[i] = r.Pressure
	}

	s := spray.Session{
		Pump:            b.Pump,
		Start:           b.Start,
		End:             b.End,
		DurationSeconds: b.Duration().Seconds(),
		StartReadingID:  b.StartReadingID,
		EndReadingID:    b.EndReadingID,
	}
	if len(span) == 0 {
		return s
	}
	total := floats.Sum(pulses)
	s.TotalSprayed = total * weightPerPulse
	s.AvgPressure = stat.Mean(pressure, nil)
	if s.DurationSeconds > 0 {
		s.AvgSpeed = total / s.DurationSeconds
	}
	return s
}

// Derive segments both pumps and returns summarized sessions in start order.
// IDs are left for the caller to assign.
func Derive(readings []spray.Reading, cfg Config) []spray.Session {
	bounds := Merge(
		Segment(readings, spray.Gelcoat, cfg),
		Segment(readings, spray.Barrier, cfg),
	)
	out := make([]spray.Session, 0, len(bounds))
	for _, b := range bounds {
		out = append(out, Summarize(b, readings, cfg.WeightPerPulse))
	}
	return out
}
