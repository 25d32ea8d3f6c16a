// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import "fmt"

// State is the device API state bitmask.
type State uint32

// State bits used by the repair engine.
const (
	StateInitCalsRun State = 0x0080
	StateJrxRepaired State = 0x1000
)

// DeviceState is the per device state shared between the initialization
// sequence and the repair engine.
//
// The zero value is a device that did not run its init calibrations yet and
// whose factory screening is unknown.
type DeviceState struct {
	bits   State
	screen int8 // 0: unknown, 1: screened, -1: not screened
}

// Bits returns the raw state bitmask.
func (d *DeviceState) Bits() State {
	return d.bits
}

// InitCalsRun returns true once the initialization calibrations completed.
func (d *DeviceState) InitCalsRun() bool {
	return d.bits&StateInitCalsRun != 0
}

// SetInitCalsRun is called by the initialization sequence.
func (d *DeviceState) SetInitCalsRun(v bool) {
	d.set(StateInitCalsRun, v)
}

// JrxRepaired returns true while the VCM workaround is applied.
func (d *DeviceState) JrxRepaired() bool {
	return d.bits&StateJrxRepaired != 0
}

// SetJrxRepaired is called by VcmLanesFix. It is exported to restore the
// state of a device that was repaired by a previous process.
func (d *DeviceState) SetJrxRepaired(v bool) {
	d.set(StateJrxRepaired, v)
}

// Screened returns the cached factory screening bit. known is false until
// ScreenTest ran once.
func (d *DeviceState) Screened() (screened, known bool) {
	return d.screen > 0, d.screen != 0
}

// SetScreened caches the factory screening bit.
func (d *DeviceState) SetScreened(v bool) {
	if v {
		d.screen = 1
	} else {
		d.screen = -1
	}
}

func (d *DeviceState) String() string {
	s := "unknown"
	if scr, ok := d.Screened(); ok {
		s = fmt.Sprint(scr)
	}
	return fmt.Sprintf("DeviceState{0x%04X, screened:%s}", uint32(d.bits), s)
}

func (d *DeviceState) set(b State, v bool) {
	if v {
		d.bits |= b
	} else {
		d.bits &^= b
	}
}
