// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package repairsmoketest is leveraged by periph-smoketest to verify that the
// JESD receive lanes of a transceiver can be assessed and repaired.
package repairsmoketest

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"

	"periph.io/x/rfxcvr/v3"
	"periph.io/x/rfxcvr/v3/adispi"
	"periph.io/x/rfxcvr/v3/config"
	"periph.io/x/rfxcvr/v3/regport"
	"periph.io/x/rfxcvr/v3/repair"
)

// SmokeTest is imported by periph-smoketest.
type SmokeTest struct {
}

// Name implements the SmokeTest interface.
func (s *SmokeTest) Name() string {
	return "jrxrepair"
}

// Description implements the SmokeTest interface.
func (s *SmokeTest) Description() string {
	return "Tests JESD receive lane assessment and the VCM workaround"
}

// Run implements the SmokeTest interface.
func (s *SmokeTest) Run(f *flag.FlagSet, args []string) (err error) {
	cfgPath := f.String("config", "", "board configuration file")
	verbose := f.Bool("v", false, "log every register access")
	fix := f.Bool("fix", false, "enable then disable the VCM workaround; changes the hardware")
	if err := f.Parse(args); err != nil {
		return err
	}
	if f.NArg() != 0 {
		f.Usage()
		return errors.New("unrecognized arguments")
	}
	cfg, err := config.Load(*cfgPath, ".env")
	if err != nil {
		return err
	}
	if _, err := rfxcvr.Init(); err != nil {
		return err
	}
	p, err := spireg.Open(cfg.SPI.Port)
	if err != nil {
		return err
	}
	defer func() {
		if err2 := p.Close(); err == nil {
			err = err2
		}
	}()
	dev, err := adispi.Open(p, physic.Frequency(cfg.SPI.Frequency))
	if err != nil {
		return err
	}
	var port regport.Port = dev
	if *verbose {
		port = &loggingPort{Port: dev}
	}
	if err := regPerfTest(dev); err != nil {
		return err
	}
	b, err := rfxcvr.Assemble(port, cfg)
	if err != nil {
		return err
	}
	defer b.History.Close()
	if err := b.Repair.RestoreState(); err != nil {
		return err
	}
	if err := assessTest(b.Repair); err != nil {
		return err
	}
	if *fix {
		return fixTest(b.Repair)
	}
	return nil
}

// regPerfTest reads in a tight loop to evaluate the bus performance.
//
// It doesn't evaluate correctness.
func regPerfTest(p regport.Port) error {
	const loops = 1000
	fmt.Printf("  Register bus performance on %s:\n", p)
	fmt.Printf("    %d reads: ", loops)
	start := time.Now()
	for i := 0; i < loops; i++ {
		if _, err := p.Read(0x04, 0xFF); err != nil {
			return err
		}
	}
	s := time.Since(start)
	fmt.Printf("%s; %s/op\n", s, s/loops)
	return nil
}

// assessTest exercises the read only operations.
func assessTest(r *repair.Repair) error {
	fmt.Printf("  Assessment of %s:\n", r)
	t, err := r.Temperature()
	if err != nil {
		return err
	}
	fmt.Printf("    temperature %d°C; %s\n", t, r.State())
	scr, err := r.ScreenTest()
	if err != nil {
		return err
	}
	fmt.Printf("    factory screened: %t\n", scr)
	c, err := r.HistoryCheck()
	if err != nil {
		return err
	}
	fmt.Printf("    history check: %s\n", c.Result)
	if !r.State().InitCalsRun() {
		fmt.Printf("    init calibrations not run, skipping lane tests\n")
		return nil
	}
	bad, err := r.LaneAssess()
	if err != nil {
		return err
	}
	fmt.Printf("    lanes with errors: 0x%02X\n", bad)
	swc, err := r.SwCEnableGet()
	if err != nil {
		return err
	}
	fmt.Printf("    switch-C enabled: 0x%02X\n", swc)
	return nil
}

// fixTest applies the workaround on every used lane, verifies the link and
// removes it.
func fixTest(r *repair.Repair) error {
	if r.State().JrxRepaired() {
		return errors.New("the workaround is already applied; refusing to remove it")
	}
	used := r.UsedLanes()
	fmt.Printf("  VCM workaround on 0x%02X:\n", used)
	if err := r.VcmLanesFix(used, true); err != nil {
		return err
	}
	if err := settle(r); err != nil {
		return err
	}
	bad, err := r.LaneAssess()
	if err != nil {
		return err
	}
	fmt.Printf("    enabled; lanes with errors: 0x%02X\n", bad)
	if err := r.VcmLanesFix(used, false); err != nil {
		return err
	}
	if err := settle(r); err != nil {
		return err
	}
	if r.State().JrxRepaired() {
		return errors.New("workaround state not cleared")
	}
	fmt.Printf("    disabled\n")
	return nil
}

func settle(r *repair.Repair) error {
	if _, err := r.FastAttackRun(); err != nil {
		return fmt.Errorf("fast attack calibration: %w", err)
	}
	return nil
}

// loggingPort logs every register access.
type loggingPort struct {
	regport.Port
}

func (p *loggingPort) Read(addr, mask uint32) (uint32, error) {
	start := time.Now()
	v, err := p.Port.Read(addr, mask)
	if err != nil {
		fmt.Printf("    %s Read(0x%08X, 0x%X) = %v\n", time.Since(start), addr, mask, err)
		return v, err
	}
	fmt.Printf("    %s Read(0x%08X, 0x%X) = 0x%X\n", time.Since(start), addr, mask, v)
	return v, nil
}

func (p *loggingPort) Write(addr, value, mask uint32) error {
	start := time.Now()
	if err := p.Port.Write(addr, value, mask); err != nil {
		fmt.Printf("    %s Write(0x%08X, 0x%X, 0x%X) = %v\n", time.Since(start), addr, value, mask, err)
		return err
	}
	fmt.Printf("    %s Write(0x%08X, 0x%X, 0x%X)\n", time.Since(start), addr, value, mask)
	return nil
}
