package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/banshee-data/spray.report/internal/spray"
)

const nominalColumns = `pump_type, id, session_id, added_unix_nano, start_unix_nano,
	end_unix_nano, total_sprayed, avg_speed, avg_pressure`

// NominalSamples returns the baseline set of pump in ID order.
func (db *DB) NominalSamples(ctx context.Context, pump spray.PumpType) ([]spray.NominalSample, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+nominalColumns+` FROM nominal_samples
		WHERE pump_type = ? ORDER BY id`, string(pump))
	if err != nil {
		return nil, storeErr("nominal samples", err)
	}
	defer rows.Close()
	var out []spray.NominalSample
	for rows.Next() {
		var (
			s                 spray.NominalSample
			p                 string
			added, start, end int64
		)
		if err := rows.Scan(&p, &s.ID, &s.SessionID, &added, &start, &end,
			&s.TotalSprayed, &s.AvgSpeed, &s.AvgPressure); err != nil {
			return nil, storeErr("nominal samples", err)
		}
		s.Pump = spray.PumpType(p)
		s.TimeAdded, s.Start, s.End = fromNano(added), fromNano(start), fromNano(end)
		out = append(out, s)
	}
	return out, storeErr("nominal samples", rows.Err())
}

// AddNominalSamples appends samples, numbering each pump's samples after
// its current count. The stored samples are returned with their IDs.
func (db *DB) AddNominalSamples(ctx context.Context, samples []spray.NominalSample) ([]spray.NominalSample, error) {
	out := make([]spray.NominalSample, 0, len(samples))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		next := map[spray.PumpType]int64{}
		for _, s := range samples {
			if _, ok := next[s.Pump]; !ok {
				var count int64
				if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM nominal_samples WHERE pump_type = ?`,
					string(s.Pump)).Scan(&count); err != nil {
					return err
				}
				next[s.Pump] = count
			}
			next[s.Pump]++
			s.ID = next[s.Pump]
			if _, err := tx.ExecContext(ctx, `INSERT INTO nominal_samples (`+nominalColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				string(s.Pump), s.ID, s.SessionID, toNano(s.TimeAdded), toNano(s.Start), toNano(s.End),
				s.TotalSprayed, s.AvgSpeed, s.AvgPressure); err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr("add nominal samples", err)
	}
	return out, nil
}

// RemoveNominalSample deletes one sample and renumbers the remaining
// samples of the pump to 1..n, preserving their order.
func (db *DB) RemoveNominalSample(ctx context.Context, pump spray.PumpType, id int64) error {
	op := fmt.Sprintf("remove %s nominal sample %d", pump, id)
	return storeErr(op, db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM nominal_samples WHERE pump_type = ? AND id = ?`, string(pump), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return sql.ErrNoRows
		}

		rows, err := tx.QueryContext(ctx, `SELECT id FROM nominal_samples WHERE pump_type = ? ORDER BY id`, string(pump))
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var v int64
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		// Ascending order keeps every new ID free: it is at most the old one
		// and all smaller slots are already compacted.
		for i, old := range ids {
			if want := int64(i + 1); old != want {
				if _, err := tx.ExecContext(ctx, `UPDATE nominal_samples SET id = ? WHERE pump_type = ? AND id = ?`,
					want, string(pump), old); err != nil {
					return err
				}
			}
		}
		return nil
	}))
}
