// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package rfxcvr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/config"
	"periph.io/x/rfxcvr/v3/regport/regporttest"
	"periph.io/x/rfxcvr/v3/repair"
)

func testConfig(t *testing.T) *config.Board {
	cfg := config.Default()
	cfg.Link.Deframers = []config.LaneMask{0x03, 0x0C}
	cfg.History.File = filepath.Join(t.TempDir(), "jrxrepair.txt")
	return cfg
}

// screenedPart makes the efuse report a part that passed the factory
// screening.
func screenedPart(f *regporttest.Fake) {
	f.Set(0x132, 0x03)
	f.Set(0x136, 0x01)
}

func TestAssemble(t *testing.T) {
	cfg := testConfig(t)
	b, err := Assemble(regporttest.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if got := b.Repair.UsedLanes(); got != 0x0F {
		t.Fatalf("lanes 0x%02X", got)
	}
	if b.Repair.History != repair.DefaultHistory(0x0F) {
		t.Fatalf("history %s", b.Repair.History)
	}
	if b.Repair.State() != b.State || b.Probe.Config().UsedLanes() != 0x0F {
		t.Fatal("collaborators not shared")
	}
	if b.Repair.Opts() != *cfg.RepairOpts() {
		t.Fatal("options not applied")
	}
}

func TestAssembleLoadsHistory(t *testing.T) {
	cfg := testConfig(t)
	h := repair.History{LastTemp: 33, Good: 0x0B, Bad: 0x04}
	if err := repair.SaveHistoryFile(cfg.History.File, h); err != nil {
		t.Fatal(err)
	}
	b, err := Assemble(regporttest.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if b.Repair.History != h {
		t.Fatalf("history %s", b.Repair.History)
	}

	// The persisted history doesn't match the lanes anymore.
	cfg.Link.Deframers = []config.LaneMask{0x03}
	if _, err := Assemble(regporttest.New(), cfg); !errors.Is(err, repair.ErrInvalidParameter) {
		t.Fatalf("unexpected %v", err)
	}
	cfg.Link.Protocol = "JESD204X"
	if _, err := Assemble(regporttest.New(), cfg); err == nil {
		t.Fatal("expected error")
	}
}

func TestExecuteScreenedFile(t *testing.T) {
	cfg := testConfig(t)
	regs := regporttest.New()
	screenedPart(regs)
	b, err := Assemble(regs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := b.Execute()
	if !errors.Is(err, repair.ErrNotApplicable) {
		t.Fatalf("unexpected %v", err)
	}
	if rep.Result != repair.Checked|repair.Screened {
		t.Fatalf("result %s", rep.Result)
	}
	if _, err := os.Stat(cfg.History.File); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("unchanged history written")
	}
	if _, err := Attempts(b.History, 0); err == nil {
		t.Fatal("expected error")
	}
}

func TestExecuteScreenedNoWrites(t *testing.T) {
	cfg := testConfig(t)
	regs := regporttest.New()
	screenedPart(regs)
	// The firmware completes every mailbox command with an empty response.
	regs.Set(calengine.DefaultMailboxOpts.Base+0x09, 0x02)
	b, err := Assemble(regs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if err := b.Repair.RestoreState(); err != nil {
		t.Fatal(err)
	}
	if s, ok := b.State.Screened(); !s || !ok {
		t.Fatal("screen bit not cached")
	}
	regs.Reset()
	rep, err := b.Execute()
	if !errors.Is(err, repair.ErrNotApplicable) {
		t.Fatalf("unexpected %v", err)
	}
	if rep.Result != repair.Checked|repair.Screened {
		t.Fatalf("result %s", rep.Result)
	}
	if w := regs.Writes(); len(w) != 0 {
		t.Fatalf("unexpected writes %v", w)
	}
}

func TestExecuteScreenedDB(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.DB = filepath.Join(t.TempDir(), "history.db")
	cfg.History.Serial = "SN7"
	regs := regporttest.New()
	screenedPart(regs)
	b, err := Assemble(regs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if _, err := b.Execute(); !errors.Is(err, repair.ErrNotApplicable) {
		t.Fatalf("unexpected %v", err)
	}
	all, err := Attempts(b.History, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Serial != "SN7" || all[0].Result != repair.Checked|repair.Screened || all[0].Err == "" {
		t.Fatalf("unexpected %v", all)
	}
}

func TestFileStoreRecord(t *testing.T) {
	p := filepath.Join(t.TempDir(), "h.txt")
	s, err := OpenHistory(&config.History{File: p})
	if err != nil {
		t.Fatal(err)
	}
	h := repair.History{LastTemp: 20, Good: 0x01, Weak: 0x02}
	rep := &repair.Report{Result: repair.Checked | repair.AssessLanes | repair.ApplySuccess, History: h}
	if err := s.Record(repair.Normal, rep, nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(0x03)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Fatalf("%s != %s", got, h)
	}
}

func TestInitialization(t *testing.T) {
	cfg := testConfig(t)
	cfg.Repair.Init = "none"
	regs := regporttest.New()
	screenedPart(regs)
	b, err := Assemble(regs, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Initialization(); err != nil {
		t.Fatal(err)
	}
	if s, ok := b.State.Screened(); !s || !ok {
		t.Fatal("screen bit not cached")
	}
	if b.State.JrxRepaired() {
		t.Fatal("unexpected workaround")
	}
}
