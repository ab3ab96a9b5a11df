// Package spray holds the domain types shared by the segmenter, the
// detectors, the maintenance timeline and the stores.
package spray

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// PumpType names one of the two pumps on the line.
type PumpType string

const (
	Gelcoat PumpType = "gelcoat"
	Barrier PumpType = "barrier"
)

// Pumps lists every pump in a stable order.
var Pumps = []PumpType{Gelcoat, Barrier}

// ParsePumpType validates a caller-supplied pump name.
func ParsePumpType(s string) (PumpType, error) {
	switch PumpType(strings.ToLower(strings.TrimSpace(s))) {
	case Gelcoat:
		return Gelcoat, nil
	case Barrier:
		return Barrier, nil
	}
	return "", fmt.Errorf("%w: %q (want gelcoat or barrier)", ErrInvalidPumpType, s)
}

// Other returns the opposite pump.
func (p PumpType) Other() PumpType {
	if p == Gelcoat {
		return Barrier
	}
	return Gelcoat
}

func (p PumpType) String() string { return string(p) }

// Reading is one telemetry sample. ID is assigned by the store and follows
// time order.
type Reading struct {
	ID            int64     `json:"id"`
	Time          time.Time `json:"time"`
	GelcoatPulses float64   `json:"gelcoat_pulses"`
	BarrierPulses float64   `json:"barrier_pulses"`
	GelcoatSpeed  float64   `json:"gelcoat_speed"`
	BarrierSpeed  float64   `json:"barrier_speed"`
	WaterLevel1   float64   `json:"water_level_1"`
	WaterLevel2   float64   `json:"water_level_2"`
	Pressure      float64   `json:"pressure"`
}

// Pulses returns the pulse count for the given pump.
func (r Reading) Pulses(p PumpType) float64 {
	if p == Barrier {
		return r.BarrierPulses
	}
	return r.GelcoatPulses
}

// Speed returns the rotational speed for the given pump.
func (r Reading) Speed(p PumpType) float64 {
	if p == Barrier {
		return r.BarrierSpeed
	}
	return r.GelcoatSpeed
}

// Active reports whether the pump moved any fluid during this sample.
func (r Reading) Active(p PumpType) bool {
	return r.Pulses(p) != 0
}

// Session is a bounded interval of continuous activity of one pump.
type Session struct {
	ID              int64     `json:"id"`
	Pump            PumpType  `json:"pump_type"`
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	TotalSprayed    float64   `json:"total_sprayed"`
	AvgSpeed        float64   `json:"avg_speed"`
	AvgPressure     float64   `json:"avg_pressure"`
	Comments        string    `json:"comments"`
	IsTrash         bool      `json:"is_trash"`
	StartReadingID  int64     `json:"start_reading_id"`
	EndReadingID    int64     `json:"end_reading_id"`
}

// Metric selects one of the aggregate values a nominal baseline is built from.
type Metric string

const (
	MetricPressure Metric = "pressure"
	MetricSprayed  Metric = "sprayed"
	MetricSpeed    Metric = "speed"
)

// NominalSample is a session promoted by an operator into the baseline set.
type NominalSample struct {
	ID           int64     `json:"id"`
	Pump         PumpType  `json:"pump_type"`
	SessionID    int64     `json:"session_id"`
	TimeAdded    time.Time `json:"time_added"`
	Start        time.Time `json:"start_date"`
	End          time.Time `json:"end_date"`
	TotalSprayed float64   `json:"total_sprayed"`
	AvgSpeed     float64   `json:"avg_speed"`
	AvgPressure  float64   `json:"avg_pressure"`
}

// Value returns the sample's value for metric m.
func (s NominalSample) Value(m Metric) float64 {
	switch m {
	case MetricSprayed:
		return s.TotalSprayed
	case MetricSpeed:
		return s.AvgSpeed
	default:
		return s.AvgPressure
	}
}

// NominalFromSession copies the aggregates of a session into a sample.
func NominalFromSession(s Session, added time.Time) NominalSample {
	return NominalSample{
		Pump:         s.Pump,
		SessionID:    s.ID,
		TimeAdded:    added,
		Start:        s.Start,
		End:          s.End,
		TotalSprayed: s.TotalSprayed,
		AvgSpeed:     s.AvgSpeed,
		AvgPressure:  s.AvgPressure,
	}
}

// MaintenanceKind distinguishes pump service from filter replacement.
type MaintenanceKind string

const (
	KindPump   MaintenanceKind = "pump"
	KindFilter MaintenanceKind = "filter"
)

// ParseMaintenanceKind validates a caller-supplied maintenance kind.
func ParseMaintenanceKind(s string) (MaintenanceKind, error) {
	switch MaintenanceKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindPump:
		return KindPump, nil
	case KindFilter:
		return KindFilter, nil
	}
	return "", fmt.Errorf("invalid maintenance kind %q (want pump or filter)", s)
}

// MaintenanceRecord is the current service window of one (kind, pump) pair.
// End is the projected exhaustion date.
type MaintenanceRecord struct {
	Kind  MaintenanceKind `json:"kind"`
	Pump  PumpType        `json:"pump_type"`
	Start time.Time       `json:"start_time"`
	End   time.Time       `json:"end_time"`
}

// Remaining returns the time left before End, negative once overdue.
func (r MaintenanceRecord) Remaining(now time.Time) time.Duration {
	return r.End.Sub(now)
}

// RemainingDays floors Remaining to whole days.
func (r MaintenanceRecord) RemainingDays(now time.Time) int {
	return int(math.Floor(r.Remaining(now).Hours() / 24))
}

// Alert is an append-only event. IsNominalValueAlert marks alerts about
// missing baselines rather than machine behaviour.
type Alert struct {
	ID                  int64     `json:"id"`
	Time                time.Time `json:"time"`
	Message             string    `json:"message"`
	MoreInfo            string    `json:"more_info"`
	IsNominalValueAlert bool      `json:"is_nominal_value_alert"`
}

// Product is one finished part: two gelcoat coats followed by one barrier
// coat. IdentityKey is stable across rebuilds so operator edits survive.
type Product struct {
	ID              int64     `json:"id"`
	IdentityKey     string    `json:"identity_key"`
	Start           time.Time `json:"start_time"`
	End             time.Time `json:"end_time"`
	GelcoatMaterial float64   `json:"gelcoat_material"`
	BarrierMaterial float64   `json:"barrier_material"`
	Comments        string    `json:"comments"`
	Hidden          bool      `json:"hidden"`
}

// CompactionCursor marks where the next compaction run starts. The zero
// value means compaction has never run.
type CompactionCursor struct {
	SinceReadingID int64     `json:"since_reading_id"`
	SinceTime      time.Time `json:"since_time"`
	RanAt          time.Time `json:"ran_at"`
}

// IsZero reports whether compaction has never run.
func (c CompactionCursor) IsZero() bool {
	return c.SinceReadingID == 0 && c.SinceTime.IsZero()
}
