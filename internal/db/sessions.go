package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/spray.report/internal/spray"
)

const sessionColumns = `id, pump_type, start_unix_nano, end_unix_nano, duration_seconds,
	total_sprayed, avg_speed, avg_pressure, comments, is_trash, start_reading_id, end_reading_id`

func scanSession(s scanner) (spray.Session, error) {
	var (
		out        spray.Session
		pump       string
		start, end int64
		trash      int
	)
	err := s.Scan(&out.ID, &pump, &start, &end, &out.DurationSeconds, &out.TotalSprayed,
		&out.AvgSpeed, &out.AvgPressure, &out.Comments, &trash, &out.StartReadingID, &out.EndReadingID)
	out.Pump = spray.PumpType(pump)
	out.Start, out.End = fromNano(start), fromNano(end)
	out.IsTrash = trash != 0
	return out, err
}

func (db *DB) querySessions(ctx context.Context, op, query string, args ...any) ([]spray.Session, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()
	var out []spray.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		out = append(out, s)
	}
	return out, storeErr(op, rows.Err())
}

// InsertSessions appends sessions with IDs continuing from the current
// count. The stored sessions are returned with their IDs.
func (db *DB) InsertSessions(ctx context.Context, sessions []spray.Session) ([]spray.Session, error) {
	if len(sessions) == 0 {
		return nil, nil
	}
	var out []spray.Session
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = insertSessions(ctx, tx, sessions)
		return err
	})
	if err != nil {
		return nil, storeErr("insert sessions", err)
	}
	return out, nil
}

// ReplaceSessions swaps the whole session table for sessions in one
// transaction, numbering them 1..n.
func (db *DB) ReplaceSessions(ctx context.Context, sessions []spray.Session) ([]spray.Session, error) {
	var out []spray.Session
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
			return err
		}
		var err error
		out, err = insertSessions(ctx, tx, sessions)
		return err
	})
	if err != nil {
		return nil, storeErr("replace sessions", err)
	}
	return out, nil
}

func insertSessions(ctx context.Context, tx *sql.Tx, sessions []spray.Session) ([]spray.Session, error) {
	out := make([]spray.Session, len(sessions))
	var count int64
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return nil, err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	for i, s := range sessions {
		s.ID = count + int64(i) + 1
		if _, err := stmt.ExecContext(ctx, s.ID, string(s.Pump), toNano(s.Start), toNano(s.End),
			s.DurationSeconds, s.TotalSprayed, s.AvgSpeed, s.AvgPressure, s.Comments,
			boolInt(s.IsTrash), s.StartReadingID, s.EndReadingID); err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// LastSessionEndReadingID returns the highest EndReadingID stored for pump,
// trashed sessions included, or 0 when the pump has no sessions.
func (db *DB) LastSessionEndReadingID(ctx context.Context, pump spray.PumpType) (int64, error) {
	var id sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(end_reading_id) FROM sessions WHERE pump_type = ?`,
		string(pump)).Scan(&id)
	if err != nil {
		return 0, storeErr("last session end", err)
	}
	return id.Int64, nil
}

// AllSessions returns every session, trashed or not, ordered by start.
func (db *DB) AllSessions(ctx context.Context) ([]spray.Session, error) {
	return db.querySessions(ctx, "all sessions",
		`SELECT `+sessionColumns+` FROM sessions ORDER BY start_unix_nano, id`)
}

// Sessions returns sessions with the given trash flag in ID order.
func (db *DB) Sessions(ctx context.Context, trashed bool) ([]spray.Session, error) {
	return db.querySessions(ctx, "list sessions",
		`SELECT `+sessionColumns+` FROM sessions WHERE is_trash = ? ORDER BY id`, boolInt(trashed))
}

// SessionsSince returns non-trashed sessions starting at or after t,
// oldest first.
func (db *DB) SessionsSince(ctx context.Context, t time.Time) ([]spray.Session, error) {
	return db.querySessions(ctx, "sessions since",
		`SELECT `+sessionColumns+` FROM sessions
		WHERE is_trash = 0 AND start_unix_nano >= ? ORDER BY start_unix_nano, id`, toNano(t))
}

// SessionsBetween returns non-trashed sessions of pump that lie entirely
// inside [from, to].
func (db *DB) SessionsBetween(ctx context.Context, pump spray.PumpType, from, to time.Time) ([]spray.Session, error) {
	return db.querySessions(ctx, "sessions between",
		`SELECT `+sessionColumns+` FROM sessions
		WHERE is_trash = 0 AND pump_type = ? AND start_unix_nano >= ? AND end_unix_nano <= ?
		ORDER BY id`, string(pump), toNano(from), toNano(to))
}

// RecentSessions returns the newest n non-trashed sessions of pump, most
// recent first.
func (db *DB) RecentSessions(ctx context.Context, pump spray.PumpType, n int) ([]spray.Session, error) {
	return db.querySessions(ctx, "recent sessions",
		`SELECT `+sessionColumns+` FROM sessions
		WHERE is_trash = 0 AND pump_type = ? ORDER BY id DESC LIMIT ?`, string(pump), n)
}

// CountSessions counts every session, trashed ones included.
func (db *DB) CountSessions(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, storeErr("count sessions", err)
}

// LatestSession returns the session with the highest ID.
func (db *DB) LatestSession(ctx context.Context) (spray.Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY id DESC LIMIT 1`))
	return s, storeErr("latest session", err)
}

// SessionByID returns one session.
func (db *DB) SessionByID(ctx context.Context, id int64) (spray.Session, error) {
	s, err := scanSession(db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	return s, storeErr(fmt.Sprintf("session %d", id), err)
}

// SetSessionTrash flags or restores a session.
func (db *DB) SetSessionTrash(ctx context.Context, id int64, trashed bool) error {
	return db.updateOne(ctx, fmt.Sprintf("trash session %d", id),
		`UPDATE sessions SET is_trash = ? WHERE id = ?`, boolInt(trashed), id)
}

// SetSessionComment replaces the operator comment of a session.
func (db *DB) SetSessionComment(ctx context.Context, id int64, comment string) error {
	return db.updateOne(ctx, fmt.Sprintf("comment session %d", id),
		`UPDATE sessions SET comments = ? WHERE id = ?`, comment, id)
}

// DeleteAllSessions empties the session table ahead of a rebuild.
func (db *DB) DeleteAllSessions(ctx context.Context) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sessions`)
	return storeErr("delete sessions", err)
}

// updateOne runs an update that must touch exactly one row.
func (db *DB) updateOne(ctx context.Context, op, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		return storeErr(op, sql.ErrNoRows)
	}
	return nil
}
