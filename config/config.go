// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the board description used to assemble a transceiver
// and its repair engine.
//
// The board is described in YAML. A few settings can be overridden from the
// environment, optionally loaded from .env files:
//
//	RFXCVR_SPI_PORT      spi.port
//	RFXCVR_SPI_FREQ      spi.frequency
//	RFXCVR_SERIAL        history.serial
//	RFXCVR_HISTORY_FILE  history.file
//	RFXCVR_HISTORY_DB    history.db
//	RFXCVR_USE_PRBS      repair.use_prbs
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/jesd"
	"periph.io/x/rfxcvr/v3/repair"
)

// Board is the configuration of one transceiver.
type Board struct {
	SPI     SPI     `yaml:"spi"`
	Mailbox Mailbox `yaml:"mailbox"`
	Link    Link    `yaml:"link"`
	Repair  Repair  `yaml:"repair"`
	History History `yaml:"history"`
}

// SPI selects the register bus.
type SPI struct {
	// Port is the spireg name of the port; empty selects the first one.
	Port      string    `yaml:"port"`
	Frequency Frequency `yaml:"frequency"`
}

// Frequency is a physic.Frequency read from a string like "10MHz".
type Frequency physic.Frequency

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *Frequency) UnmarshalYAML(n *yaml.Node) error {
	return f.set(n.Value)
}

// MarshalYAML implements yaml.Marshaler.
func (f Frequency) MarshalYAML() (any, error) {
	return physic.Frequency(f).String(), nil
}

func (f *Frequency) set(s string) error {
	var v physic.Frequency
	if err := v.Set(s); err != nil {
		return fmt.Errorf("config: frequency %q: %w", s, err)
	}
	*f = Frequency(v)
	return nil
}

// Mailbox locates the calibration firmware mailbox.
type Mailbox struct {
	Base     uint32        `yaml:"base"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Link is the JESD receive link.
type Link struct {
	Protocol string `yaml:"protocol"`
	// Deframers lists the lane mask of each deframer.
	Deframers []LaneMask `yaml:"deframers"`
}

// LaneMask is a lane bitmask written in hexadecimal.
type LaneMask uint8

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *LaneMask) UnmarshalYAML(n *yaml.Node) error {
	v, err := strconv.ParseUint(n.Value, 0, 8)
	if err != nil {
		return fmt.Errorf("config: line %d: lane mask %q: %w", n.Line, n.Value, err)
	}
	*m = LaneMask(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (m LaneMask) MarshalYAML() (any, error) {
	return fmt.Sprintf("0x%02X", uint8(m)), nil
}

// Poll is a polling budget.
type Poll struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Repair holds the engine knobs.
type Repair struct {
	Margin          int           `yaml:"margin"`
	TempSensor      int           `yaml:"temp_sensor"`
	BiasMin         uint8         `yaml:"bias_min"`
	BiasMax         uint8         `yaml:"bias_max"`
	BiasDefault     uint8         `yaml:"bias_default"`
	TrackingCalPoll Poll          `yaml:"tracking_cal_poll"`
	SwCPoll         Poll          `yaml:"swc_poll"`
	InitCalTimeout  time.Duration `yaml:"init_cal_timeout"`
	TestDwell       time.Duration `yaml:"test_dwell"`
	UsePRBS         bool          `yaml:"use_prbs"`
	// Mode is "normal" or "fast".
	Mode string `yaml:"mode"`
	// Init is "none", "all" or "nonscreened".
	Init string `yaml:"init"`
}

// History selects where the repair history is persisted. When DB is set,
// the sqlite journal is used and File is ignored.
type History struct {
	File   string `yaml:"file"`
	DB     string `yaml:"db"`
	Serial string `yaml:"serial"`
}

// Default returns the configuration of a board with all 8 lanes on one
// JESD204C deframer.
func Default() *Board {
	o := repair.DefaultOpts
	m := calengine.DefaultMailboxOpts
	return &Board{
		SPI: SPI{Frequency: Frequency(10 * physic.MegaHertz)},
		Mailbox: Mailbox{
			Base:     m.Base,
			Interval: m.Interval,
			Timeout:  m.Timeout,
		},
		Link: Link{Protocol: jesd.JESD204C.String(), Deframers: []LaneMask{0xFF}},
		Repair: Repair{
			Margin:          o.Margin,
			TempSensor:      o.TempSensor,
			BiasMin:         o.Bias.Min,
			BiasMax:         o.Bias.Max,
			BiasDefault:     o.Bias.Default,
			TrackingCalPoll: Poll(o.TrackingCalPoll),
			SwCPoll:         Poll(o.SwCPoll),
			InitCalTimeout:  o.InitCalTimeout,
			TestDwell:       o.TestDwell,
			UsePRBS:         o.UsePRBS,
			Mode:            "normal",
			Init:            "nonscreened",
		},
		History: History{File: "jrxrepair.txt", Serial: "default"},
	}
}

// Load reads the YAML file at path on top of Default, then applies the
// environment overrides. Missing envFiles are ignored. An empty path only
// applies the overrides.
func Load(path string, envFiles ...string) (*Board, error) {
	b := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		defer f.Close()
		if err := b.Decode(f); err != nil {
			return nil, err
		}
	}
	env, err := readEnv(envFiles)
	if err != nil {
		return nil, err
	}
	if err := b.override(env); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Decode reads YAML from r into b.
func (b *Board) Decode(r io.Reader) error {
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(b); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Encode writes b as YAML.
func (b *Board) Encode(w io.Writer) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(b); err != nil {
		return err
	}
	return e.Close()
}

func (b *Board) String() string {
	var buf bytes.Buffer
	_ = b.Encode(&buf)
	return buf.String()
}

// readEnv merges the .env files with the process environment, which has
// precedence.
func readEnv(files []string) (map[string]string, error) {
	env := map[string]string{}
	for _, f := range files {
		m, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("config: %s: %w", f, err)
		}
		for k, v := range m {
			env[k] = v
		}
	}
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			env[k] = v
		}
	}
	return env, nil
}

var envKeys = []string{
	"RFXCVR_SPI_PORT",
	"RFXCVR_SPI_FREQ",
	"RFXCVR_SERIAL",
	"RFXCVR_HISTORY_FILE",
	"RFXCVR_HISTORY_DB",
	"RFXCVR_USE_PRBS",
}

func (b *Board) override(env map[string]string) error {
	if v, ok := env["RFXCVR_SPI_PORT"]; ok {
		b.SPI.Port = v
	}
	if v, ok := env["RFXCVR_SPI_FREQ"]; ok {
		if err := b.SPI.Frequency.set(v); err != nil {
			return err
		}
	}
	if v, ok := env["RFXCVR_SERIAL"]; ok {
		b.History.Serial = v
	}
	if v, ok := env["RFXCVR_HISTORY_FILE"]; ok {
		b.History.File = v
	}
	if v, ok := env["RFXCVR_HISTORY_DB"]; ok {
		b.History.DB = v
	}
	if v, ok := env["RFXCVR_USE_PRBS"]; ok {
		p, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: RFXCVR_USE_PRBS: %w", err)
		}
		b.Repair.UsePRBS = p
	}
	return nil
}

// Validate checks the configuration can be used to assemble the board.
func (b *Board) Validate() error {
	if b.SPI.Frequency <= 0 {
		return fmt.Errorf("config: invalid SPI frequency %s", physic.Frequency(b.SPI.Frequency))
	}
	if b.Mailbox.Interval <= 0 || b.Mailbox.Timeout <= 0 {
		return errors.New("config: mailbox interval and timeout must be positive")
	}
	if _, err := b.LinkConfig(); err != nil {
		return err
	}
	if _, err := b.RunMode(); err != nil {
		return err
	}
	if _, err := b.InitScope(); err != nil {
		return err
	}
	if b.History.File == "" && b.History.DB == "" {
		return errors.New("config: no history store")
	}
	return nil
}

// LinkConfig returns the JESD link configuration.
func (b *Board) LinkConfig() (*jesd.Config, error) {
	p, err := jesd.ParseProtocol(b.Link.Protocol)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c := &jesd.Config{Protocol: p}
	for _, m := range b.Link.Deframers {
		c.Deframers = append(c.Deframers, jesd.Deframer{LaneEnabled: uint8(m)})
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// MailboxOpts returns the calibration mailbox options.
func (b *Board) MailboxOpts() *calengine.MailboxOpts {
	return &calengine.MailboxOpts{Base: b.Mailbox.Base, Interval: b.Mailbox.Interval, Timeout: b.Mailbox.Timeout}
}

// RepairOpts returns the repair engine options.
func (b *Board) RepairOpts() *repair.Opts {
	r := &b.Repair
	return &repair.Opts{
		Margin:          r.Margin,
		TempSensor:      r.TempSensor,
		Bias:            repair.BiasRange{Min: r.BiasMin, Max: r.BiasMax, Default: r.BiasDefault},
		TrackingCalPoll: repair.Poll(r.TrackingCalPoll),
		SwCPoll:         repair.Poll(r.SwCPoll),
		InitCalTimeout:  r.InitCalTimeout,
		TestDwell:       r.TestDwell,
		UsePRBS:         r.UsePRBS,
	}
}

// RunMode parses Repair.Mode.
func (b *Board) RunMode() (repair.RunMode, error) {
	switch strings.ToLower(b.Repair.Mode) {
	case "", "normal":
		return repair.Normal, nil
	case "fast":
		return repair.Fast, nil
	}
	return 0, fmt.Errorf("config: unknown repair mode %q", b.Repair.Mode)
}

// InitScope parses Repair.Init.
func (b *Board) InitScope() (repair.InitScope, error) {
	switch strings.ToLower(b.Repair.Init) {
	case "none":
		return repair.InitNone, nil
	case "all":
		return repair.InitAll, nil
	case "", "nonscreened":
		return repair.InitNonScreened, nil
	}
	return 0, fmt.Errorf("config: unknown init scope %q", b.Repair.Init)
}
