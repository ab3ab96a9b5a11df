package segment

import (
	"github.com/banshee-data/spray.report/internal/spray"
)

// Transition classifies one live window.
type Transition int

const (
	NoWindow Transition = iota
	MachineOff
	BarrierTurningOn
	GelcoatTurningOn
	GelcoatTurningOff
	BarrierTurningOff
	GelcoatRunning
	BarrierRunning
)

func (t Transition) String() string {
	switch t {
	case MachineOff:
		return "machine off"
	case BarrierTurningOn:
		return "barrier turning on"
	case GelcoatTurningOn:
		return "gelcoat turning on"
	case GelcoatTurningOff:
		return "gelcoat turning off"
	case BarrierTurningOff:
		return "barrier turning off"
	case GelcoatRunning:
		return "gelcoat running"
	case BarrierRunning:
		return "barrier running"
	default:
		return "no window"
	}
}

// Cycle is a closed accumulator handed out by Step.
type Cycle struct {
	Pump     spray.PumpType
	Readings []spray.Reading
}

// Boundary returns the first and last reading of the cycle.
func (c Cycle) Boundary() Boundary {
	if len(c.Readings) == 0 {
		return Boundary{Pump: c.Pump}
	}
	first, last := c.Readings[0], c.Readings[len(c.Readings)-1]
	return Boundary{
		Pump:           c.Pump,
		Start:          first.Time,
		End:            last.Time,
		StartReadingID: first.ID,
		EndReadingID:   last.ID,
	}
}

// LiveCheck carries what the blockage and pressure detectors need while a
// pump is running.
type LiveCheck struct {
	Pump   spray.PumpType
	Window []spray.Reading
	Cycle  []spray.Reading
}

// Tick is the outcome of one Step.
type Tick struct {
	Transition Transition
	Finalized  []Cycle
	Live       *LiveCheck
}

type accumulator struct {
	readings []spray.Reading
	lastID   int64
}

// appendNew adds readings not seen before. Overlapping windows never
// duplicate a reading inside a cycle.
func (a *accumulator) appendNew(rs []spray.Reading) {
	for _, r := range rs {
		if r.ID <= a.lastID {
			continue
		}
		a.readings = append(a.readings, r)
		a.lastID = r.ID
	}
}

// Segmenter is the online state machine. It is owned by a single goroutine
// and is not safe for concurrent use.
type Segmenter struct {
	k   int
	acc map[spray.PumpType]*accumulator
}

func NewSegmenter(cfg Config) *Segmenter {
	k := cfg.EdgeReadings
	if k < 1 {
		k = 1
	}
	return &Segmenter{
		k: k,
		acc: map[spray.PumpType]*accumulator{
			spray.Gelcoat: {},
			spray.Barrier: {},
		},
	}
}

// Len returns the number of readings buffered for pump p.
func (s *Segmenter) Len(p spray.PumpType) int {
	return len(s.acc[p].readings)
}

// Step classifies window (ordered by ID) and updates the accumulators. The
// cases are tested in a fixed order; the first match wins.
func (s *Segmenter) Step(window []spray.Reading) Tick {
	if len(window) == 0 {
		return Tick{Transition: NoWindow}
	}
	k := s.k
	if k > len(window) {
		k = len(window)
	}
	head, tail := window[:k], window[len(window)-k:]
	gHead, gTail := anyPulses(head, spray.Gelcoat), anyPulses(tail, spray.Gelcoat)
	bHead, bTail := anyPulses(head, spray.Barrier), anyPulses(tail, spray.Barrier)

	var tick Tick
	switch {
	case !gHead && !gTail && !bHead && !bTail:
		tick.Transition = MachineOff
		for _, p := range spray.Pumps {
			tick.finalize(s, p)
		}
	case bTail && !bHead:
		tick.Transition = BarrierTurningOn
		s.turnOn(&tick, window, spray.Barrier)
	case gTail && !gHead:
		tick.Transition = GelcoatTurningOn
		s.turnOn(&tick, window, spray.Gelcoat)
	case gHead && !gTail:
		tick.Transition = GelcoatTurningOff
		s.acc[spray.Gelcoat].appendNew(prefix(window, spray.Gelcoat))
		tick.finalize(s, spray.Gelcoat)
	case bHead && !bTail:
		tick.Transition = BarrierTurningOff
		s.acc[spray.Barrier].appendNew(prefix(window, spray.Barrier))
		tick.finalize(s, spray.Barrier)
	case gHead && gTail:
		tick.Transition = GelcoatRunning
		s.running(&tick, window, spray.Gelcoat)
	default:
		tick.Transition = BarrierRunning
		s.running(&tick, window, spray.Barrier)
	}
	return tick
}

// turnOn starts or extends p's cycle with the active suffix. A non-empty
// cycle on the other pump is taken to have ended in this window.
func (s *Segmenter) turnOn(tick *Tick, window []spray.Reading, p spray.PumpType) {
	s.acc[p].appendNew(suffix(window, p))
	other := p.Other()
	if len(s.acc[other].readings) > 0 {
		s.acc[other].appendNew(prefix(window, other))
		tick.finalize(s, other)
	}
}

func (s *Segmenter) running(tick *Tick, window []spray.Reading, p spray.PumpType) {
	a := s.acc[p]
	a.appendNew(window)
	cycle := make([]spray.Reading, len(a.readings))
	copy(cycle, a.readings)
	tick.Live = &LiveCheck{Pump: p, Window: window, Cycle: cycle}
}

func (t *Tick) finalize(s *Segmenter, p spray.PumpType) {
	a := s.acc[p]
	if len(a.readings) == 0 {
		return
	}
	t.Finalized = append(t.Finalized, Cycle{Pump: p, Readings: a.readings})
	a.readings = nil
}

func anyPulses(rs []spray.Reading, p spray.PumpType) bool {
	var sum float64
	for _, r := range rs {
		sum += r.Pulses(p)
	}
	return sum > 0
}

// suffix returns window from the first active reading of p onward.
func suffix(window []spray.Reading, p spray.PumpType) []spray.Reading {
	for i, r := range window {
		if r.Pulses(p) > 0 {
			return window[i:]
		}
	}
	return nil
}

// prefix returns window up to and including the last active reading of p.
func prefix(window []spray.Reading, p spray.PumpType) []spray.Reading {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Pulses(p) > 0 {
			return window[:i+1]
		}
	}
	return nil
}
