// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/rfxcvr/v3/jesd"
	"periph.io/x/rfxcvr/v3/repair"
)

const board = `
spi:
  port: SPI1.0
  frequency: 5MHz
link:
  protocol: JESD204B
  deframers: [0x0F, "0x30"]
repair:
  margin: 15
  bias_min: 2
  swc_poll:
    interval: 2ms
    timeout: 1s
  mode: fast
  init: all
history:
  serial: SN42
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDefault(t *testing.T) {
	b := Default()
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	if o := b.RepairOpts(); *o != repair.DefaultOpts {
		t.Fatalf("%+v != %+v", *o, repair.DefaultOpts)
	}
	c, err := b.LinkConfig()
	if err != nil {
		t.Fatal(err)
	}
	if c.Protocol != jesd.JESD204C || c.UsedLanes() != 0xFF {
		t.Fatalf("unexpected %+v", c)
	}
}

func TestLoad(t *testing.T) {
	b, err := Load(write(t, "board.yaml", board))
	if err != nil {
		t.Fatal(err)
	}
	if b.SPI.Port != "SPI1.0" || physic.Frequency(b.SPI.Frequency) != 5*physic.MegaHertz {
		t.Fatalf("unexpected %+v", b.SPI)
	}
	c, err := b.LinkConfig()
	if err != nil {
		t.Fatal(err)
	}
	if c.Protocol != jesd.JESD204B || c.UsedLanes() != 0x3F || len(c.Deframers) != 2 {
		t.Fatalf("unexpected %+v", c)
	}
	o := b.RepairOpts()
	if o.Margin != 15 || o.Bias != (repair.BiasRange{Min: 2, Max: 7, Default: 7}) {
		t.Fatalf("unexpected %+v", o)
	}
	if o.SwCPoll != (repair.Poll{Interval: 2 * time.Millisecond, Timeout: time.Second}) {
		t.Fatalf("unexpected %+v", o.SwCPoll)
	}
	// Untouched settings keep their default.
	if o.TrackingCalPoll != repair.DefaultOpts.TrackingCalPoll || b.Mailbox.Base != 0x46A00000 {
		t.Fatal("default lost")
	}
	if m, _ := b.RunMode(); m != repair.Fast {
		t.Fatalf("mode %s", m)
	}
	if s, _ := b.InitScope(); s != repair.InitAll {
		t.Fatalf("scope %s", s)
	}
	if b.History.Serial != "SN42" || b.History.File != "jrxrepair.txt" {
		t.Fatalf("unexpected %+v", b.History)
	}
}

func TestLoadInvalid(t *testing.T) {
	data := []string{
		"spi:\n  frequency: fast\n",
		"link:\n  protocol: JESD204D\n",
		"link:\n  deframers: [0x100]\n",
		"link:\n  deframers: [1, 2, 4, 8]\n",
		"repair:\n  mode: slow\n",
		"repair:\n  init: some\n",
		"repair:\n  unknown: 1\n",
		"mailbox:\n  timeout: 0s\n",
		"history:\n  file: \"\"\n",
	}
	for i, line := range data {
		if _, err := Load(write(t, "board.yaml", line)); err == nil {
			t.Fatalf("#%d: expected error", i)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadEnv(t *testing.T) {
	env := write(t, ".env", "RFXCVR_SPI_PORT=SPI0.1\nRFXCVR_SERIAL=from-file\nRFXCVR_USE_PRBS=true\n")
	t.Setenv("RFXCVR_SERIAL", "from-env")
	t.Setenv("RFXCVR_HISTORY_DB", "/tmp/history.db")
	b, err := Load("", env, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatal(err)
	}
	if b.SPI.Port != "SPI0.1" || !b.Repair.UsePRBS {
		t.Fatalf("unexpected %+v", b)
	}
	if b.History.Serial != "from-env" || b.History.DB != "/tmp/history.db" {
		t.Fatalf("unexpected %+v", b.History)
	}

	t.Setenv("RFXCVR_USE_PRBS", "maybe")
	if _, err := Load("", env); err == nil {
		t.Fatal("expected error")
	}
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Encode(&buf); err != nil {
		t.Fatal(err)
	}
	s := buf.String()
	for _, want := range []string{"frequency: 10MHz", "0xFF", "interval: 1ms"} {
		if !strings.Contains(s, want) {
			t.Fatalf("%q not in:\n%s", want, s)
		}
	}
	b := &Board{}
	if err := b.Decode(&buf); err != nil {
		t.Fatal(err)
	}
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	if b.Link.Deframers[0] != 0xFF || b.Repair.TestDwell != repair.DefaultOpts.TestDwell {
		t.Fatalf("unexpected %+v", b)
	}
}
