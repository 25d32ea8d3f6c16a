// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"math/bits"

	"github.com/golang/glog"
	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/jesd"
)

// RestoreState rebuilds the DeviceState of a device that was brought up by
// another process: the init calibrations are considered run when the SerDes
// init calibration ran on every used lane since power up, and the workaround
// is considered applied when the hardware holds it.
//
// The screening bit is read from the efuse unless already cached, so that a
// later Execute on a screened part does not touch the hardware.
func (r *Repair) RestoreState() error {
	if _, ok := r.d.State.Screened(); !ok {
		if _, err := r.ScreenTest(); err != nil {
			return err
		}
	}
	used := r.usedLanes()
	lanes := jesd.Lanes(used)
	st, err := r.d.Cal.InitCalStatus()
	if err != nil {
		return err
	}
	run := len(lanes) != 0
	for _, l := range lanes {
		if st.CalsSincePowerUp[l]&calengine.ICSerdes == 0 {
			run = false
		}
	}
	r.d.State.SetInitCalsRun(run)

	repaired := false
	if len(lanes) != 0 {
		if bits.OnesCount8(used) > SwCThreshold {
			if !run {
				// The firmware SerDes object is not up.
				r.d.State.SetJrxRepaired(false)
				return nil
			}
			swc, err := r.SwCEnableGet()
			if err != nil {
				return err
			}
			repaired = swc != 0
		} else {
			l := lanes[0]
			pd1, err := r.d.Regs.Read(deserPhy[l]+pdReg1.off, pdReg1.mask)
			if err != nil {
				return err
			}
			tst, err := r.d.Regs.Read(deserPhy[l]+coreTest.off, coreTest.mask)
			if err != nil {
				return err
			}
			repaired = pd1 == pdReg1.val[vcmLaneUsed] && tst == coreTest.val[vcmLaneUsed]
		}
	}
	r.d.State.SetJrxRepaired(repaired)
	glog.V(1).Infof("repair: restored %s", r.d.State)
	return nil
}
