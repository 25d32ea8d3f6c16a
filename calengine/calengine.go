// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package calengine describes the calibration firmware running on the
// transceiver's embedded processor and implements a register mailbox client
// for it.
//
// Channel masks address deserializer lanes for the SerDes objects: bit n is
// lane n.
package calengine

import (
	"fmt"
	"strings"
	"time"
)

// NumChannels is the number of channels reported in calibration status.
const NumChannels = 8

// Channels is a channel mask.
type Channels uint32

// Has returns true if channel n is selected.
func (c Channels) Has(n int) bool {
	return c&(1<<uint(n)) != 0
}

func (c Channels) String() string {
	return fmt.Sprintf("0x%02X", uint32(c))
}

// TrackingCal is a mask of tracking calibration classes.
type TrackingCal uint32

// Tracking calibration classes.
const (
	TCRxQEC   TrackingCal = 1 << 0
	TCTxLOL   TrackingCal = 1 << 1
	TCTxQEC   TrackingCal = 1 << 2
	TCSerdes  TrackingCal = 1 << 3
	TCRxADC   TrackingCal = 1 << 4
	TCTxLBADC TrackingCal = 1 << 5
	TCORxADC  TrackingCal = 1 << 6
)

// InitCal is a mask of initialization calibrations.
type InitCal uint64

// Initialization calibrations used by the drivers.
const (
	ICRxADC  InitCal = 1 << 2
	ICORxADC InitCal = 1 << 4
	ICSerdes InitCal = 1 << 7
)

// InitCalMode selects how an initialization calibration is run.
type InitCalMode uint8

const (
	// InitCalNormal runs the full calibration.
	InitCalNormal InitCalMode = 0
	// InitCalFastAttack re-runs the calibration starting from its current
	// state, to re-settle after a register change.
	InitCalFastAttack InitCalMode = 1
)

// InitCals is a request to run initialization calibrations.
type InitCals struct {
	Cals     InitCal
	Channels Channels
	Mode     InitCalMode
}

// InitCalStatus is the per channel initialization calibration state.
type InitCalStatus struct {
	ErrCodes         [NumChannels]uint32
	CalsSincePowerUp [NumChannels]InitCal
	CalsLastRun      [NumChannels]InitCal
}

// InitCalErrData is the result of an initialization calibration run.
type InitCalErrData struct {
	ErrCodes [NumChannels]uint32
}

// Err returns a *CalError if any channel reported an error.
func (d *InitCalErrData) Err() error {
	var ch Channels
	for i, c := range d.ErrCodes {
		if c != 0 {
			ch |= 1 << uint(i)
		}
	}
	if ch == 0 {
		return nil
	}
	return &CalError{Channels: ch, Codes: d.ErrCodes}
}

// CalError is returned when an initialization calibration failed on one or
// more channels.
type CalError struct {
	Channels Channels
	Codes    [NumChannels]uint32
}

func (e *CalError) Error() string {
	var parts []string
	for i, c := range e.Codes {
		if c != 0 {
			parts = append(parts, fmt.Sprintf("ch%d=0x%X", i, c))
		}
	}
	return "calengine: init cal failed: " + strings.Join(parts, " ")
}

// ObjectID identifies a firmware calibration object.
type ObjectID uint8

// Firmware objects.
const (
	ObjICSerdes ObjectID = 0x07
	ObjTCSerdes ObjectID = 0x33
)

// SerDes control command set, firmware ABI.
const (
	// SerDesCtrlSetFSMCmd is the control command carrying a SerDes test
	// command payload.
	SerDesCtrlSetFSMCmd uint8 = 0x01
	// SerDesTestCmd is the payload byte 1 value of a test command.
	SerDesTestCmd uint8 = 0x05
	// SerDesTestSetVcmSwC is the payload byte 2 value selecting the VCM
	// switch-C test.
	SerDesTestSetVcmSwC uint8 = 0x12
	// SerDesTestCmdDone is reported in status byte 1 when the last test
	// command completed.
	SerDesTestCmdDone uint8 = 0x0E
	// SerDesCtrlRspHeaderSize is the offset of the command specific data in
	// a SerDes status response.
	SerDesCtrlRspHeaderSize = 2
	// SerDesCtrlPayloadSize is the size of a SerDes test command payload.
	SerDesCtrlPayloadSize = 9
)

// Engine is the calibration firmware capability.
//
// All methods block until the firmware answered.
type Engine interface {
	// TrackingCalsEnabled returns the channels on which cal is enabled.
	TrackingCalsEnabled(cal TrackingCal) (Channels, error)
	// SetTrackingCals enables or disables cal on channels ch.
	SetTrackingCals(ch Channels, cal TrackingCal, enable bool) error
	// TrackingCalActive returns true if cal is still running on channel n.
	TrackingCalActive(n int, cal TrackingCal) (bool, error)
	// RunInitCals starts initialization calibrations.
	RunInitCals(req InitCals) error
	// WaitInitCals waits for the calibrations started by RunInitCals.
	WaitInitCals(timeout time.Duration) (InitCalErrData, error)
	// InitCalStatus returns the per channel status.
	InitCalStatus() (InitCalStatus, error)
	// ControlCmd sends a control command to obj on channels ch. It returns
	// the number of response bytes copied into resp.
	ControlCmd(obj ObjectID, cmd uint8, ch Channels, req, resp []byte) (int, error)
	// CalSpecificStatus reads the object specific status of obj on channels
	// ch into resp.
	CalSpecificStatus(ch Channels, obj ObjectID, resp []byte) error
}
