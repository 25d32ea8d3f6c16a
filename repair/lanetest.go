// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"github.com/golang/glog"
	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/jesd"
)

// NotSynchronized is the error word of a lane that lost synchronization.
const NotSynchronized = 0xFFFFFFFF

// TestResult is the error word of each lane. Unused lanes are 0.
type TestResult [jesd.MaxLanes]uint32

// Failing returns the mask of lanes with a non zero error word.
func (t *TestResult) Failing() uint8 {
	var m uint8
	for i, v := range t {
		if v != 0 {
			m |= 1 << uint(i)
		}
	}
	return m
}

// Test counts the link errors of every used lane during Opts.TestDwell.
func (r *Repair) Test() (TestResult, error) {
	var res TestResult
	lanes := jesd.Lanes(r.usedLanes())
	for _, l := range lanes {
		if err := r.d.Probe.ClearErrors(l); err != nil {
			return res, err
		}
	}
	if r.opts.TestDwell > 0 {
		r.sleep(r.opts.TestDwell)
	}
	for _, l := range lanes {
		ok, err := r.d.Probe.LaneSynchronized(l)
		if err != nil {
			return res, err
		}
		if !ok {
			res[l] = NotSynchronized
			continue
		}
		if res[l], err = r.d.Probe.LaneErrors(l); err != nil {
			return res, err
		}
	}
	glog.V(2).Infof("repair: test %08X", res)
	return res, nil
}

// FastAttackRun re-runs the SerDes init calibration in fast attack mode on
// the used lanes and waits for it.
//
// The error is a *calengine.CalError when a channel reported an error.
func (r *Repair) FastAttackRun() (calengine.InitCalErrData, error) {
	req := calengine.InitCals{
		Cals:     calengine.ICSerdes,
		Channels: calengine.Channels(r.usedLanes()),
		Mode:     calengine.InitCalFastAttack,
	}
	if err := r.d.Cal.RunInitCals(req); err != nil {
		return calengine.InitCalErrData{}, err
	}
	d, err := r.d.Cal.WaitInitCals(r.opts.InitCalTimeout)
	if err != nil {
		return d, err
	}
	return d, d.Err()
}
