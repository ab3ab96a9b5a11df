package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/banshee-data/spray.report/internal/spray"
)

// CompactionCursor returns the stored cursor, or the zero cursor when
// compaction has never run.
func (db *DB) CompactionCursor(ctx context.Context) (spray.CompactionCursor, error) {
	var (
		c            spray.CompactionCursor
		since, ranAt int64
	)
	err := db.QueryRowContext(ctx, `SELECT since_reading_id, since_unix_nano, ran_at_unix_nano
		FROM compaction_state WHERE singleton = 1`).Scan(&c.SinceReadingID, &since, &ranAt)
	if errors.Is(err, sql.ErrNoRows) {
		return spray.CompactionCursor{}, nil
	}
	if err != nil {
		return c, storeErr("compaction cursor", err)
	}
	c.SinceTime, c.RanAt = fromNano(since), fromNano(ranAt)
	return c, nil
}

// SaveCompactionCursor replaces the stored cursor.
func (db *DB) SaveCompactionCursor(ctx context.Context, c spray.CompactionCursor) error {
	_, err := db.ExecContext(ctx, `INSERT INTO compaction_state (singleton, since_reading_id, since_unix_nano, ran_at_unix_nano)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (singleton) DO UPDATE SET
			since_reading_id = excluded.since_reading_id,
			since_unix_nano = excluded.since_unix_nano,
			ran_at_unix_nano = excluded.ran_at_unix_nano`,
		c.SinceReadingID, toNano(c.SinceTime), toNano(c.RanAt))
	return storeErr("save compaction cursor", err)
}
