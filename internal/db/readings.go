package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/banshee-data/spray.report/internal/spray"
)

const readingColumns = `id, ts_unix_nano, gelcoat_pulses, barrier_pulses, gelcoat_speed,
	barrier_speed, water_level_1, water_level_2, pressure`

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(s scanner) (spray.Reading, error) {
	var r spray.Reading
	var ts int64
	err := s.Scan(&r.ID, &ts, &r.GelcoatPulses, &r.BarrierPulses, &r.GelcoatSpeed,
		&r.BarrierSpeed, &r.WaterLevel1, &r.WaterLevel2, &r.Pressure)
	r.Time = fromNano(ts)
	return r, err
}

func collectReadings(rows *sql.Rows) ([]spray.Reading, error) {
	defer rows.Close()
	var out []spray.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AppendReading stores r and returns it with its assigned ID.
func (db *DB) AppendReading(ctx context.Context, r spray.Reading) (spray.Reading, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO readings (
			ts_unix_nano, gelcoat_pulses, barrier_pulses, gelcoat_speed,
			barrier_speed, water_level_1, water_level_2, pressure
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		toNano(r.Time), r.GelcoatPulses, r.BarrierPulses, r.GelcoatSpeed,
		r.BarrierSpeed, r.WaterLevel1, r.WaterLevel2, r.Pressure)
	if err != nil {
		return r, storeErr("append reading", err)
	}
	r.ID, err = res.LastInsertId()
	return r, storeErr("append reading", err)
}

// LatestReadings returns the newest n readings, oldest first.
func (db *DB) LatestReadings(ctx context.Context, n int) ([]spray.Reading, error) {
	rows, err := db.QueryContext(ctx, `SELECT * FROM (
			SELECT `+readingColumns+` FROM readings ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, n)
	if err != nil {
		return nil, storeErr("latest readings", err)
	}
	out, err := collectReadings(rows)
	return out, storeErr("latest readings", err)
}

// ReadingsBetween returns readings with from <= Time <= to in ID order.
func (db *DB) ReadingsBetween(ctx context.Context, from, to time.Time) ([]spray.Reading, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+readingColumns+` FROM readings
		WHERE ts_unix_nano >= ? AND ts_unix_nano <= ? ORDER BY id`, toNano(from), toNano(to))
	if err != nil {
		return nil, storeErr("readings between", err)
	}
	out, err := collectReadings(rows)
	return out, storeErr("readings between", err)
}

// FindReadingAtOrAfter returns the first reading at or after t.
func (db *DB) FindReadingAtOrAfter(ctx context.Context, t time.Time) (spray.Reading, error) {
	r, err := scanReading(db.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM readings
		WHERE ts_unix_nano >= ? ORDER BY ts_unix_nano ASC, id ASC LIMIT 1`, toNano(t)))
	return r, storeErr("find reading at or after", err)
}

// FindReadingAtOrBefore returns the last reading at or before t.
func (db *DB) FindReadingAtOrBefore(ctx context.Context, t time.Time) (spray.Reading, error) {
	r, err := scanReading(db.QueryRowContext(ctx, `SELECT `+readingColumns+` FROM readings
		WHERE ts_unix_nano <= ? ORDER BY ts_unix_nano DESC, id DESC LIMIT 1`, toNano(t)))
	return r, storeErr("find reading at or before", err)
}

// ReadingsByIDRange returns readings with from <= ID <= to.
func (db *DB) ReadingsByIDRange(ctx context.Context, from, to int64) ([]spray.Reading, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+readingColumns+` FROM readings
		WHERE id >= ? AND id <= ? ORDER BY id`, from, to)
	if err != nil {
		return nil, storeErr("readings by id range", err)
	}
	out, err := collectReadings(rows)
	return out, storeErr("readings by id range", err)
}

// ReadingsAfter returns every reading with an ID greater than afterID.
func (db *DB) ReadingsAfter(ctx context.Context, afterID int64) ([]spray.Reading, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+readingColumns+` FROM readings
		WHERE id > ? ORDER BY id`, afterID)
	if err != nil {
		return nil, storeErr("readings after", err)
	}
	out, err := collectReadings(rows)
	return out, storeErr("readings after", err)
}

// ActiveReadingsSince returns readings after sinceID in which pump moved.
func (db *DB) ActiveReadingsSince(ctx context.Context, pump spray.PumpType, sinceID int64) ([]spray.Reading, error) {
	col := "gelcoat_pulses"
	if pump == spray.Barrier {
		col = "barrier_pulses"
	}
	rows, err := db.QueryContext(ctx, `SELECT `+readingColumns+` FROM readings
		WHERE id > ? AND `+col+` != 0 ORDER BY id`, sinceID)
	if err != nil {
		return nil, storeErr("active readings", err)
	}
	out, err := collectReadings(rows)
	return out, storeErr("active readings", err)
}

// CountReadings returns the number of stored readings.
func (db *DB) CountReadings(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n)
	return n, storeErr("count readings", err)
}

// DeleteIdleReadings deletes readings with afterID < ID < beforeID whose
// speeds are both below eps. A zero afterID deletes from the first reading.
func (db *DB) DeleteIdleReadings(ctx context.Context, afterID, beforeID int64, eps float64) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM readings
		WHERE id > ? AND id < ? AND gelcoat_speed < ? AND barrier_speed < ?`,
		afterID, beforeID, eps, eps)
	if err != nil {
		return 0, storeErr("delete idle readings", err)
	}
	n, err := res.RowsAffected()
	return n, storeErr("delete idle readings", err)
}
