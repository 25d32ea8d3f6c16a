// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package rfxcvr assembles a transceiver board from its configuration: the
// SPI register port, the calibration firmware mailbox, the JESD link probe
// and the lane repair engine.
package rfxcvr

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"periph.io/x/rfxcvr/v3/adispi"
	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/config"
	"periph.io/x/rfxcvr/v3/jesd"
	"periph.io/x/rfxcvr/v3/regport"
	"periph.io/x/rfxcvr/v3/repair"
)

// Init calls host.Init() and returns it as-is.
//
// By calling rfxcvr.Init(), you are guaranteed to have every host driver
// providing a SPI port, including FTDI adapters, loaded.
func Init() (*driverreg.State, error) {
	return host.Init()
}

// Board is an assembled transceiver.
type Board struct {
	Config  *config.Board
	Regs    regport.Port
	Cal     *calengine.Mailbox
	Probe   *jesd.Probe
	State   *repair.DeviceState
	Repair  *repair.Repair
	History HistoryStore

	port spi.PortCloser
}

// Open initializes the host drivers, opens the SPI port named in cfg and
// assembles the board. The DeviceState is restored from the hardware.
func Open(cfg *config.Board) (*Board, error) {
	if _, err := Init(); err != nil {
		return nil, err
	}
	p, err := spireg.Open(cfg.SPI.Port)
	if err != nil {
		return nil, fmt.Errorf("rfxcvr: %w", err)
	}
	dev, err := adispi.Open(p, physic.Frequency(cfg.SPI.Frequency))
	if err != nil {
		p.Close()
		return nil, err
	}
	b, err := Assemble(dev, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	b.port = p
	if err := b.Repair.RestoreState(); err != nil {
		b.Close()
		return nil, err
	}
	glog.V(1).Infof("rfxcvr: opened %s on %s, %s", b.Repair, dev, b.State)
	return b, nil
}

// Assemble builds the board on top of an already open register port and
// loads the persisted History.
func Assemble(p regport.Port, cfg *config.Board) (*Board, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	link, err := cfg.LinkConfig()
	if err != nil {
		return nil, err
	}
	b := &Board{
		Config: cfg,
		Regs:   p,
		Cal:    calengine.NewMailbox(p, cfg.MailboxOpts()),
		Probe:  jesd.NewProbe(p, link),
		State:  &repair.DeviceState{},
	}
	b.Repair, err = repair.New(repair.Device{
		Regs:  p,
		Cal:   b.Cal,
		Temp:  b.Cal,
		Link:  link,
		Probe: b.Probe,
		State: b.State,
	}, cfg.RepairOpts())
	if err != nil {
		return nil, err
	}
	if b.History, err = OpenHistory(&cfg.History); err != nil {
		return nil, err
	}
	if b.Repair.History, err = b.History.Load(link.UsedLanes()); err != nil {
		b.History.Close()
		return nil, err
	}
	return b, nil
}

// Execute runs a repair cycle in the configured mode and records it.
func (b *Board) Execute() (*repair.Report, error) {
	mode, err := b.Config.RunMode()
	if err != nil {
		return nil, err
	}
	rep, err := b.Repair.Execute(mode)
	if rep != nil {
		if rerr := b.History.Record(mode, rep, err); rerr != nil {
			glog.Errorf("rfxcvr: failed to persist %s: %v", rep.History, rerr)
			if err == nil {
				err = rerr
			}
		}
	}
	return rep, err
}

// Initialization runs the start up sequence in the configured scope.
func (b *Board) Initialization() error {
	s, err := b.Config.InitScope()
	if err != nil {
		return err
	}
	return b.Repair.Initialization(s)
}

// Close releases the history store and the SPI port.
func (b *Board) Close() error {
	var errs []error
	if b.History != nil {
		errs = append(errs, b.History.Close())
	}
	if b.port != nil {
		errs = append(errs, b.port.Close())
	}
	return errors.Join(errs...)
}
