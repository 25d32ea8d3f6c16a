// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package calenginetest implements a scripted calibration engine to test
// drivers that depend on calengine.Engine.
package calenginetest

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/rfxcvr/v3/calengine"
)

// Call is one recorded Engine call.
type Call struct {
	Name   string
	Ch     calengine.Channels
	Cal    calengine.TrackingCal
	Enable bool
	Req    []byte
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s, 0x%X, %t, %x)", c.Name, c.Ch, uint32(c.Cal), c.Enable, c.Req)
}

// Fake is a calengine.Engine that emulates the SerDes related firmware
// behavior.
//
// It also implements a temperature sensor.
type Fake struct {
	mu sync.Mutex

	// Enabled is the set of channels each tracking calibration is enabled on.
	Enabled map[calengine.TrackingCal]calengine.Channels
	// QuiesceAfter is the number of TrackingCalActive polls reporting a
	// disabled calibration still active.
	QuiesceAfter int
	// Status is returned by InitCalStatus.
	Status calengine.InitCalStatus
	// InitErr is returned by WaitInitCals.
	InitErr calengine.InitCalErrData
	// SwC is the switch-C lane mask held by the firmware.
	SwC uint8
	// SwCBusy is the number of CalSpecificStatus polls reporting the last
	// test command as still running.
	SwCBusy int
	// Temp is returned by Temperature.
	Temp physic.Temperature
	// Err injects a failure in the method of the same name.
	Err map[string]error
	// OnInitCals is called with the lock released by RunInitCals.
	OnInitCals func(req calengine.InitCals) error

	Calls []Call

	busy    map[int]int
	pending int
}

// New returns a Fake with every tracking calibration disabled.
func New() *Fake {
	return &Fake{
		Enabled: map[calengine.TrackingCal]calengine.Channels{},
		Err:     map[string]error{},
		Temp:    physic.ZeroCelsius + 25*physic.Celsius,
	}
}

// SetTemp sets the temperature in °C.
func (f *Fake) SetTemp(c int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Temp = physic.ZeroCelsius + physic.Temperature(c)*physic.Celsius
}

// CallsTo returns the recorded calls to the method name.
func (f *Fake) CallsTo(name string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// TrackingCalsEnabled implements calengine.Engine.
func (f *Fake) TrackingCalsEnabled(cal calengine.TrackingCal) (calengine.Channels, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: "TrackingCalsEnabled", Cal: cal})
	if err := f.Err["TrackingCalsEnabled"]; err != nil {
		return 0, err
	}
	return f.Enabled[cal], nil
}

// SetTrackingCals implements calengine.Engine.
func (f *Fake) SetTrackingCals(ch calengine.Channels, cal calengine.TrackingCal, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: "SetTrackingCals", Ch: ch, Cal: cal, Enable: enable})
	if err := f.Err["SetTrackingCals"]; err != nil {
		return err
	}
	if enable {
		f.Enabled[cal] |= ch
		return nil
	}
	f.Enabled[cal] &^= ch
	if f.busy == nil {
		f.busy = map[int]int{}
	}
	for i := 0; i < calengine.NumChannels; i++ {
		if ch.Has(i) {
			f.busy[i] = f.QuiesceAfter
		}
	}
	return nil
}

// TrackingCalActive implements calengine.Engine.
func (f *Fake) TrackingCalActive(n int, cal calengine.TrackingCal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: "TrackingCalActive", Ch: 1 << uint(n), Cal: cal})
	if err := f.Err["TrackingCalActive"]; err != nil {
		return false, err
	}
	if f.Enabled[cal].Has(n) {
		return true, nil
	}
	if f.busy[n] > 0 {
		f.busy[n]--
		return true, nil
	}
	return false, nil
}

// RunInitCals implements calengine.Engine.
func (f *Fake) RunInitCals(req calengine.InitCals) error {
	f.mu.Lock()
	f.Calls = append(f.Calls, Call{Name: "RunInitCals", Ch: req.Channels, Req: []byte{byte(req.Mode)}})
	err := f.Err["RunInitCals"]
	hook := f.OnInitCals
	if err == nil {
		for i := 0; i < calengine.NumChannels; i++ {
			if req.Channels.Has(i) {
				f.Status.CalsSincePowerUp[i] |= req.Cals
				f.Status.CalsLastRun[i] = req.Cals
			}
		}
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		return hook(req)
	}
	return nil
}

// WaitInitCals implements calengine.Engine.
func (f *Fake) WaitInitCals(timeout time.Duration) (calengine.InitCalErrData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: "WaitInitCals"})
	if err := f.Err["WaitInitCals"]; err != nil {
		return calengine.InitCalErrData{}, err
	}
	return f.InitErr, nil
}

// InitCalStatus implements calengine.Engine.
func (f *Fake) InitCalStatus() (calengine.InitCalStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: "InitCalStatus"})
	if err := f.Err["InitCalStatus"]; err != nil {
		return calengine.InitCalStatus{}, err
	}
	return f.Status, nil
}

// ControlCmd implements calengine.Engine.
//
// Only the SerDes VCM switch-C test command is understood. A payload with a
// zero used lane mask is a query.
func (f *Fake) ControlCmd(obj calengine.ObjectID, cmd uint8, ch calengine.Channels, req, resp []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: "ControlCmd", Ch: ch, Req: append([]byte(nil), req...)})
	if err := f.Err["ControlCmd"]; err != nil {
		return 0, err
	}
	if obj != calengine.ObjICSerdes || cmd != calengine.SerDesCtrlSetFSMCmd {
		return 0, fmt.Errorf("calenginetest: unsupported command 0x%02X on object 0x%02X", cmd, obj)
	}
	if len(req) != calengine.SerDesCtrlPayloadSize || req[1] != calengine.SerDesTestCmd || req[2] != calengine.SerDesTestSetVcmSwC {
		return 0, fmt.Errorf("calenginetest: unsupported payload %x", req)
	}
	if req[4] != 0 {
		f.SwC = req[5]
	}
	f.pending = f.SwCBusy
	return 0, nil
}

// CalSpecificStatus implements calengine.Engine.
func (f *Fake) CalSpecificStatus(ch calengine.Channels, obj calengine.ObjectID, resp []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: "CalSpecificStatus", Ch: ch})
	if err := f.Err["CalSpecificStatus"]; err != nil {
		return err
	}
	for i := range resp {
		resp[i] = 0
	}
	if f.pending > 0 {
		f.pending--
		return nil
	}
	if len(resp) > 1 {
		resp[1] = calengine.SerDesTestCmdDone
	}
	if len(resp) > calengine.SerDesCtrlRspHeaderSize {
		resp[calengine.SerDesCtrlRspHeaderSize] = f.SwC
	}
	return nil
}

// Temperature returns Temp.
func (f *Fake) Temperature(index int) (physic.Temperature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Name: "Temperature"})
	if err := f.Err["Temperature"]; err != nil {
		return 0, err
	}
	return f.Temp, nil
}

var _ calengine.Engine = &Fake{}
