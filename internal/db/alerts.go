package db

import (
	"context"
	"sort"

	"github.com/banshee-data/spray.report/internal/spray"
)

const alertColumns = `id, ts_unix_nano, message, more_info, is_nominal_value_alert`

func scanAlert(s scanner) (spray.Alert, error) {
	var (
		a       spray.Alert
		ts      int64
		nominal int
	)
	err := s.Scan(&a.ID, &ts, &a.Message, &a.MoreInfo, &nominal)
	a.Time = fromNano(ts)
	a.IsNominalValueAlert = nominal != 0
	return a, err
}

// AppendAlert stores a and returns it with its ID.
func (db *DB) AppendAlert(ctx context.Context, a spray.Alert) (spray.Alert, error) {
	res, err := db.ExecContext(ctx, `INSERT INTO alerts (ts_unix_nano, message, more_info, is_nominal_value_alert)
		VALUES (?, ?, ?, ?)`, toNano(a.Time), a.Message, a.MoreInfo, boolInt(a.IsNominalValueAlert))
	if err != nil {
		return a, storeErr("append alert", err)
	}
	a.ID, err = res.LastInsertId()
	return a, storeErr("append alert", err)
}

// MostRecentAlert returns the newest alert with exactly this message.
func (db *DB) MostRecentAlert(ctx context.Context, message string) (spray.Alert, error) {
	a, err := scanAlert(db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE message = ? ORDER BY id DESC LIMIT 1`, message))
	return a, storeErr("most recent alert", err)
}

// LatestAlerts merges the newest n operational alerts with the newest
// nNominal missing-baseline alerts, newest first.
func (db *DB) LatestAlerts(ctx context.Context, n, nNominal int) ([]spray.Alert, error) {
	operational, err := db.latestAlerts(ctx, false, n)
	if err != nil {
		return nil, err
	}
	nominal, err := db.latestAlerts(ctx, true, nNominal)
	if err != nil {
		return nil, err
	}
	out := append(operational, nominal...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].ID > out[j].ID
		}
		return out[i].Time.After(out[j].Time)
	})
	return out, nil
}

func (db *DB) latestAlerts(ctx context.Context, nominal bool, n int) ([]spray.Alert, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts
		WHERE is_nominal_value_alert = ? ORDER BY id DESC LIMIT ?`, boolInt(nominal), n)
	if err != nil {
		return nil, storeErr("latest alerts", err)
	}
	defer rows.Close()
	var out []spray.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, storeErr("latest alerts", err)
		}
		out = append(out, a)
	}
	return out, storeErr("latest alerts", rows.Err())
}
