// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package jesd

import (
	"periph.io/x/rfxcvr/v3/regport"
)

// FSMReady is the 204C lane state machine state of a synchronized lane.
const FSMReady = 6

// Deserializer lane register blocks.
var laneBase = [MaxLanes]uint32{
	0x60410000,
	0x60411000,
	0x60412000,
	0x60413000,
	0x60414000,
	0x60415000,
	0x60416000,
	0x60417000,
}

// Offsets within a lane block.
const (
	// 204B.
	offSync     = 0x10 // bit 0: frame sync, bit 1: code group sync
	offBDCnt    = 0x20
	offNITCnt   = 0x21
	offUEKCnt   = 0x22
	offErrCtl8b = 0x28 // bit 0: hold, bit 1: pclk error clear latch, bit 2: reset

	// 204C.
	offFSM       = 0x40 // bits 2:0
	offCksCnt    = 0x50
	offMBCnt     = 0x51
	offSHCnt     = 0x52
	offEMBCnt    = 0x53
	offErrCtl64b = 0x58 // bit 0: hold, bit 1: reset

	// PRBS checker.
	offPRBSCnt = 0x60 // 3 bytes, little endian
	offPRBSCtl = 0x64 // bit 0: counter clear, bit 1: enable, bits 6:4: pattern
)

const prbs7 = 1

func fld(lane int, off, mask uint32) regport.Field {
	return regport.Field{Addr: laneBase[lane] + off, Mask: mask}
}

// Probe reads synchronization status and error counters of the deserializer
// lanes.
type Probe struct {
	p    regport.Port
	cfg  *Config
	prbs bool
}

// NewProbe returns a Probe for the link configuration cfg.
func NewProbe(p regport.Port, cfg *Config) *Probe {
	return &Probe{p: p, cfg: cfg}
}

// Config returns the link configuration.
func (p *Probe) Config() *Config {
	return p.cfg
}

// LaneSynchronized returns true if the lane reached the link ready state.
func (p *Probe) LaneSynchronized(lane int) (bool, error) {
	if err := checkLane(lane); err != nil {
		return false, err
	}
	if p.cfg.Protocol == JESD204C {
		s, err := fld(lane, offFSM, 0x07).Get(p.p)
		if err != nil {
			return false, err
		}
		return s == FSMReady, nil
	}
	s, err := p.p.Read(laneBase[lane]+offSync, 0x03)
	if err != nil {
		return false, err
	}
	return s == 0x03, nil
}

// LaneErrors returns the packed error counters of the lane since the last
// ClearErrors.
//
// For 204C byte 0 is the checksum error count, byte 1 the multi-block
// alignment count, byte 2 the sync header count and byte 3 the embedded
// alignment framing count. For 204B byte 0 is the bad disparity count, byte 1
// the not in table count and byte 2 the unexpected K character count. When
// the PRBS checker is active, the 24 bits PRBS error counter is returned
// instead.
func (p *Probe) LaneErrors(lane int) (uint32, error) {
	if err := checkLane(lane); err != nil {
		return 0, err
	}
	if p.prbs {
		return p.prbsErrors(lane)
	}
	if p.cfg.Protocol == JESD204C {
		return p.errors64b(lane)
	}
	return p.errors8b(lane)
}

func (p *Probe) errors64b(lane int) (uint32, error) {
	hold := fld(lane, offErrCtl64b, 0x01)
	if err := hold.Set(p.p, 1); err != nil {
		return 0, err
	}
	v, err := p.readCounters(lane, offCksCnt, offMBCnt, offSHCnt, offEMBCnt)
	if err != nil {
		return 0, err
	}
	return v, hold.Set(p.p, 0)
}

func (p *Probe) errors8b(lane int) (uint32, error) {
	// The error clear latch of the pclk domain clears the counters as soon as
	// they are held; it has to be disarmed while reading.
	latch := fld(lane, offErrCtl8b, 0x02)
	hold := fld(lane, offErrCtl8b, 0x01)
	if err := latch.Set(p.p, 0); err != nil {
		return 0, err
	}
	if err := hold.Set(p.p, 1); err != nil {
		return 0, err
	}
	v, err := p.readCounters(lane, offBDCnt, offNITCnt, offUEKCnt)
	if err != nil {
		return 0, err
	}
	if err := hold.Set(p.p, 0); err != nil {
		return 0, err
	}
	return v, latch.Set(p.p, 1)
}

// readCounters packs 8 bits counters, the first one in the least significant
// byte.
func (p *Probe) readCounters(lane int, offs ...uint32) (uint32, error) {
	var v uint32
	for i, off := range offs {
		c, err := p.p.Read(laneBase[lane]+off, 0xFF)
		if err != nil {
			return 0, err
		}
		v |= c << (8 * uint(i))
	}
	return v, nil
}

func (p *Probe) prbsErrors(lane int) (uint32, error) {
	return p.readCounters(lane, offPRBSCnt, offPRBSCnt+1, offPRBSCnt+2)
}

// ClearErrors resets the lane's error counters, opening a new sampling
// window.
func (p *Probe) ClearErrors(lane int) error {
	if err := checkLane(lane); err != nil {
		return err
	}
	switch {
	case p.prbs:
		return fld(lane, offPRBSCtl, 0x01).Pulse(p.p)
	case p.cfg.Protocol == JESD204C:
		return fld(lane, offErrCtl64b, 0x02).Pulse(p.p)
	default:
		return fld(lane, offErrCtl8b, 0x04).Pulse(p.p)
	}
}

// SetPRBS enables or disables the PRBS7 checker on every used lane.
//
// While enabled, LaneErrors reports the checker's error counter.
func (p *Probe) SetPRBS(enable bool) error {
	var v uint32
	if enable {
		v = prbs7<<4 | 0x02
	}
	for _, lane := range Lanes(p.cfg.UsedLanes()) {
		if err := p.p.Write(laneBase[lane]+offPRBSCtl, v, 0x72); err != nil {
			return err
		}
		if enable {
			if err := fld(lane, offPRBSCtl, 0x01).Pulse(p.p); err != nil {
				return err
			}
		}
	}
	p.prbs = enable
	return nil
}

// PRBSActive returns true if the PRBS checker is enabled.
func (p *Probe) PRBSActive() bool {
	return p.prbs
}
