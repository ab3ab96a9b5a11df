// Package source feeds telemetry into the store. Every transport (serial
// line, MQTT topic, fixture file, HTTP body) produces the same line format
// and hands it to an Ingester.
package source

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/spray.report/internal/spray"
)

// ErrMalformed marks a line that could not be parsed into a reading.
var ErrMalformed = errors.New("malformed reading")

// legacyTimeLayout is the 12-hour local timestamp written by the encoder
// board firmware.
const legacyTimeLayout = "2006-01-02 03:04:05 PM"

var timeLayouts = []string{time.RFC3339Nano, legacyTimeLayout, "2006-01-02 15:04:05"}

// Parser turns one line of device output into a Reading. A line is either
// a JSON object or comma-separated values:
//
//	barrier_pulses,gelcoat_pulses,barrier_speed,gelcoat_speed,water_level_1,water_level_2,pressure
//
// optionally preceded by a timestamp field.
type Parser struct {
	// Location applies to timestamps without a zone. Nil means UTC.
	Location *time.Location
}

// wireReading accepts both the store's field names and the names used by
// the encoder board.
type wireReading struct {
	Time          string   `json:"time"`
	GelcoatPulses *float64 `json:"gelcoat_pulses"`
	BarrierPulses *float64 `json:"barrier_pulses"`
	GelcoatSpeed  *float64 `json:"gelcoat_speed"`
	BarrierSpeed  *float64 `json:"barrier_speed"`
	WaterLevel1   *float64 `json:"water_level_1"`
	WaterLevel2   *float64 `json:"water_level_2"`
	Pressure      *float64 `json:"pressure"`

	BoardGelcoatPulses *float64 `json:"Gelcoat_pulses"`
	BoardBarrierPulses *float64 `json:"Barr_pulses"`
	BoardGelcoatSpeed  *float64 `json:"Gelcoat_speedRPM"`
	BoardBarrierSpeed  *float64 `json:"Barrier_speedRPM"`
	BoardWaterLevel1   *float64 `json:"WaterLevel_1"`
	BoardWaterLevel2   *float64 `json:"WaterLevel_2"`
	BoardPressure      *float64 `json:"Pressure"`
}

func first(vs ...*float64) float64 {
	for _, v := range vs {
		if v != nil {
			return *v
		}
	}
	return 0
}

// Parse decodes line. A zero Time means the line carried no timestamp.
func (p Parser) Parse(line []byte) (spray.Reading, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return spray.Reading{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	var (
		r   spray.Reading
		err error
	)
	if line[0] == '{' {
		r, err = p.parseJSON(line)
	} else {
		r, err = p.parseCSV(string(line))
	}
	if err != nil {
		return spray.Reading{}, err
	}
	for _, v := range []float64{r.GelcoatPulses, r.BarrierPulses, r.GelcoatSpeed, r.BarrierSpeed, r.WaterLevel1, r.WaterLevel2, r.Pressure} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return spray.Reading{}, fmt.Errorf("%w: non-finite value", ErrMalformed)
		}
	}
	return r, nil
}

func (p Parser) parseJSON(line []byte) (spray.Reading, error) {
	var w wireReading
	if err := json.Unmarshal(line, &w); err != nil {
		return spray.Reading{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	t, err := p.parseTime(w.Time)
	if err != nil {
		return spray.Reading{}, err
	}
	return spray.Reading{
		Time:          t,
		GelcoatPulses: first(w.GelcoatPulses, w.BoardGelcoatPulses),
		BarrierPulses: first(w.BarrierPulses, w.BoardBarrierPulses),
		GelcoatSpeed:  first(w.GelcoatSpeed, w.BoardGelcoatSpeed),
		BarrierSpeed:  first(w.BarrierSpeed, w.BoardBarrierSpeed),
		WaterLevel1:   first(w.WaterLevel1, w.BoardWaterLevel1),
		WaterLevel2:   first(w.WaterLevel2, w.BoardWaterLevel2),
		Pressure:      first(w.Pressure, w.BoardPressure),
	}, nil
}

func (p Parser) parseCSV(line string) (spray.Reading, error) {
	fields := strings.Split(line, ",")
	var r spray.Reading
	switch len(fields) {
	case 7:
	case 8:
		t, err := p.parseTime(strings.TrimSpace(fields[0]))
		if err != nil {
			return r, err
		}
		r.Time = t
		fields = fields[1:]
	default:
		return r, fmt.Errorf("%w: expected 7 or 8 fields, got %d", ErrMalformed, len(fields))
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return r, fmt.Errorf("%w: field %d: %v", ErrMalformed, i+1, err)
		}
		vals[i] = v
	}
	r.BarrierPulses, r.GelcoatPulses = vals[0], vals[1]
	r.BarrierSpeed, r.GelcoatSpeed = vals[2], vals[3]
	r.WaterLevel1, r.WaterLevel2 = vals[4], vals[5]
	r.Pressure = vals[6]
	return r, nil
}

func (p Parser) parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised time %q", ErrMalformed, s)
}
