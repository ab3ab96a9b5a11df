package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/spray.report/internal/spray"
)

var t0 = time.Date(2026, 2, 9, 6, 30, 0, 0, time.UTC)

// newTestDB creates a migrated database in a temporary directory.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "spray.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedReadings appends one reading per second from t0. Each pattern rune
// sets the active pumps: g gelcoat, b barrier, x both, anything else idle.
func seedReadings(t *testing.T, db *DB, pattern string) []spray.Reading {
	t.Helper()
	ctx := context.Background()
	out := make([]spray.Reading, 0, len(pattern))
	for i, c := range pattern {
		r := spray.Reading{Time: t0.Add(time.Duration(i) * time.Second), Pressure: 4}
		if c == 'g' || c == 'x' {
			r.GelcoatPulses, r.GelcoatSpeed = 2, 30
		}
		if c == 'b' || c == 'x' {
			r.BarrierPulses, r.BarrierSpeed = 3, 25
		}
		stored, err := db.AppendReading(ctx, r)
		if err != nil {
			t.Fatalf("AppendReading failed: %v", err)
		}
		out = append(out, stored)
	}
	return out
}

func testSession(pump spray.PumpType, startMin, endMin int) spray.Session {
	return spray.Session{
		Pump:            pump,
		Start:           t0.Add(time.Duration(startMin) * time.Minute),
		End:             t0.Add(time.Duration(endMin) * time.Minute),
		DurationSeconds: float64((endMin - startMin) * 60),
		TotalSprayed:    float64(endMin - startMin),
		AvgSpeed:        20,
		AvgPressure:     4,
		StartReadingID:  int64(startMin*60 + 1),
		EndReadingID:    int64(endMin*60 + 1),
	}
}
