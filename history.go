// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package rfxcvr

import (
	"context"
	"errors"
	"io/fs"

	"periph.io/x/rfxcvr/v3/config"
	"periph.io/x/rfxcvr/v3/repair"
	"periph.io/x/rfxcvr/v3/repair/historydb"
)

// HistoryStore persists the repair History of a board.
type HistoryStore interface {
	// Load returns the persisted History, or repair.DefaultHistory if there
	// is none yet.
	Load(used uint8) (repair.History, error)
	// Save replaces the persisted History.
	Save(h repair.History) error
	// Record persists the outcome of a repair cycle.
	Record(mode repair.RunMode, rep *repair.Report, err error) error
	Close() error
}

// OpenHistory returns the sqlite journal when c.DB is set, the history file
// otherwise.
func OpenHistory(c *config.History) (HistoryStore, error) {
	if c.DB == "" {
		return &fileStore{path: c.File}, nil
	}
	db, err := historydb.Open(c.DB)
	if err != nil {
		return nil, err
	}
	return &dbStore{db: db, serial: c.Serial}, nil
}

type fileStore struct {
	path string
}

func (f *fileStore) Load(used uint8) (repair.History, error) {
	h, err := repair.LoadHistoryFile(f.path, used)
	if errors.Is(err, fs.ErrNotExist) {
		return repair.DefaultHistory(used), nil
	}
	return h, err
}

func (f *fileStore) Save(h repair.History) error {
	return repair.SaveHistoryFile(f.path, h)
}

// Record only keeps the History; there is no journal.
func (f *fileStore) Record(mode repair.RunMode, rep *repair.Report, err error) error {
	if !rep.HistoryChanged() {
		return nil
	}
	return f.Save(rep.History)
}

func (f *fileStore) Close() error {
	return nil
}

type dbStore struct {
	db     *historydb.DB
	serial string
}

func (d *dbStore) Load(used uint8) (repair.History, error) {
	h, err := d.db.Load(context.Background(), d.serial, used)
	if err == historydb.ErrNotFound {
		return repair.DefaultHistory(used), nil
	}
	return h, err
}

func (d *dbStore) Save(h repair.History) error {
	return d.db.Save(context.Background(), d.serial, h)
}

func (d *dbStore) Record(mode repair.RunMode, rep *repair.Report, err error) error {
	_, rerr := d.db.Record(context.Background(), d.serial, mode, rep, err)
	return rerr
}

func (d *dbStore) Close() error {
	return d.db.Close()
}

// Attempts returns the journal of the board when the sqlite store is used.
func Attempts(s HistoryStore, limit int) ([]*historydb.Attempt, error) {
	d, ok := s.(*dbStore)
	if !ok {
		return nil, errors.New("rfxcvr: the history file has no journal")
	}
	return d.db.Attempts(context.Background(), d.serial, limit)
}
