package db

import (
	"context"
	"fmt"

	"github.com/banshee-data/spray.report/internal/spray"
)

// GetMaintenance returns the record for (kind, pump) or spray.ErrNotFound.
func (db *DB) GetMaintenance(ctx context.Context, kind spray.MaintenanceKind, pump spray.PumpType) (spray.MaintenanceRecord, error) {
	rec := spray.MaintenanceRecord{Kind: kind, Pump: pump}
	var start, end int64
	err := db.QueryRowContext(ctx, `SELECT start_unix_nano, end_unix_nano FROM maintenance
		WHERE kind = ? AND pump_type = ?`, string(kind), string(pump)).Scan(&start, &end)
	if err != nil {
		return rec, storeErr(fmt.Sprintf("get %s %s maintenance", pump, kind), err)
	}
	rec.Start, rec.End = fromNano(start), fromNano(end)
	return rec, nil
}

// UpsertMaintenance writes the record, replacing any existing one for the
// same (kind, pump).
func (db *DB) UpsertMaintenance(ctx context.Context, rec spray.MaintenanceRecord) error {
	_, err := db.ExecContext(ctx, `INSERT INTO maintenance (kind, pump_type, start_unix_nano, end_unix_nano)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, pump_type) DO UPDATE SET
			start_unix_nano = excluded.start_unix_nano,
			end_unix_nano = excluded.end_unix_nano`,
		string(rec.Kind), string(rec.Pump), toNano(rec.Start), toNano(rec.End))
	return storeErr("upsert maintenance", err)
}
