// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package historydb keeps the repair history of devices and a journal of the
// repair attempts in a SQLite database.
//
// It is an alternative to the single line history file for hosts managing
// several transceivers; devices are keyed by serial number.
package historydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"

	"periph.io/x/rfxcvr/v3/repair"
)

// ErrNotFound is returned by Load when the device has no history.
var ErrNotFound = errors.New("historydb: no history for device")

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	serial     TEXT PRIMARY KEY,
	last_temp  INTEGER NOT NULL,
	good       INTEGER NOT NULL,
	weak       INTEGER NOT NULL,
	bad        INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS attempts (
	id         TEXT PRIMARY KEY,
	serial     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	mode       INTEGER NOT NULL,
	result     INTEGER NOT NULL,
	temp       INTEGER NOT NULL,
	last_temp  INTEGER NOT NULL,
	good       INTEGER NOT NULL,
	weak       INTEGER NOT NULL,
	bad        INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS attempts_serial ON attempts(serial, started_at);
`

// DB is an open history database.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("historydb: failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases usable and serializes
	// writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("historydb: failed to initialize schema: %w", err)
	}
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Load returns the history of the device validated against the used lanes.
func (d *DB) Load(ctx context.Context, serial string, used uint8) (repair.History, error) {
	var h repair.History
	err := d.db.QueryRowContext(ctx,
		"SELECT last_temp, good, weak, bad FROM devices WHERE serial = ?", serial,
	).Scan(&h.LastTemp, &h.Good, &h.Weak, &h.Bad)
	if errors.Is(err, sql.ErrNoRows) {
		return h, ErrNotFound
	}
	if err != nil {
		return h, fmt.Errorf("historydb: failed to load %q: %w", serial, err)
	}
	if err := h.Validate(used); err != nil {
		return repair.History{}, err
	}
	return h, nil
}

// Save replaces the history of the device.
func (d *DB) Save(ctx context.Context, serial string, h repair.History) error {
	return save(ctx, d.db, serial, h, d.now())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func save(ctx context.Context, e execer, serial string, h repair.History, now time.Time) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO devices (serial, last_temp, good, weak, bad, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			last_temp = excluded.last_temp,
			good = excluded.good,
			weak = excluded.weak,
			bad = excluded.bad,
			updated_at = excluded.updated_at`,
		serial, h.LastTemp, h.Good, h.Weak, h.Bad, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("historydb: failed to save %q: %w", serial, err)
	}
	return nil
}

// Attempt is a journal entry.
type Attempt struct {
	ID      xid.ID
	Serial  string
	Started time.Time
	Mode    repair.RunMode
	Result  repair.CheckResult
	Temp    int16
	History repair.History
	Err     string
}

func (a *Attempt) String() string {
	s := fmt.Sprintf("%s %s %s %s %d°C %s", a.ID, a.Started.Format(time.RFC3339), a.Mode, a.Result, a.Temp, a.History)
	if a.Err != "" {
		s += ": " + a.Err
	}
	return s
}

// Record journals the outcome of Repair.Execute and, when the cycle updated
// the history, saves it for the device. Both happen in one transaction.
func (d *DB) Record(ctx context.Context, serial string, mode repair.RunMode, rep *repair.Report, execErr error) (*Attempt, error) {
	if rep == nil {
		return nil, fmt.Errorf("historydb: no report to record: %w", repair.ErrInvalidParameter)
	}
	a := &Attempt{
		ID:      xid.New(),
		Serial:  serial,
		Started: d.now(),
		Mode:    mode,
		Result:  rep.Result,
		Temp:    rep.Temp,
		History: rep.History,
	}
	if execErr != nil {
		a.Err = execErr.Error()
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("historydb: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO attempts (id, serial, started_at, mode, result, temp, last_temp, good, weak, bad, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID.String(), serial, a.Started.UnixMilli(), int(mode), int(rep.Result), rep.Temp,
		rep.History.LastTemp, rep.History.Good, rep.History.Weak, rep.History.Bad, a.Err)
	if err != nil {
		return nil, fmt.Errorf("historydb: failed to record attempt: %w", err)
	}
	if rep.HistoryChanged() {
		if err := save(ctx, tx, serial, rep.History, a.Started); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("historydb: failed to commit: %w", err)
	}
	return a, nil
}

// Attempts returns the latest attempts of the device, newest first. A limit
// of 0 or less returns every attempt.
func (d *DB) Attempts(ctx context.Context, serial string, limit int) ([]*Attempt, error) {
	q := `SELECT id, started_at, mode, result, temp, last_temp, good, weak, bad, error
		FROM attempts WHERE serial = ? ORDER BY started_at DESC, id DESC`
	args := []any{serial}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("historydb: failed to query attempts: %w", err)
	}
	defer rows.Close()
	var out []*Attempt
	for rows.Next() {
		a := &Attempt{Serial: serial}
		var id string
		var started int64
		var mode, result int
		if err := rows.Scan(&id, &started, &mode, &result, &a.Temp, &a.History.LastTemp, &a.History.Good, &a.History.Weak, &a.History.Bad, &a.Err); err != nil {
			return nil, fmt.Errorf("historydb: failed to scan attempt: %w", err)
		}
		if a.ID, err = xid.FromString(id); err != nil {
			return nil, fmt.Errorf("historydb: attempt id %q: %w", id, err)
		}
		a.Started = time.UnixMilli(started)
		a.Mode = repair.RunMode(mode)
		a.Result = repair.CheckResult(result)
		out = append(out, a)
	}
	return out, rows.Err()
}
