// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/jesd"
)

// swcQueryLanes is the number of lanes SwCEnableGet asks.
const swcQueryLanes = 2

// SwCEnableGet returns the lanes with the switch-C path enabled, as reported
// for the first two used lanes.
func (r *Repair) SwCEnableGet() (uint8, error) {
	var mask uint8
	lanes := jesd.Lanes(r.usedLanes())
	if len(lanes) > swcQueryLanes {
		lanes = lanes[:swcQueryLanes]
	}
	for _, l := range lanes {
		req := swcPayload(l)
		req[3] = 1
		resp, err := r.swcCommand(l, req)
		if err != nil {
			return 0, err
		}
		mask |= resp[calengine.SerDesCtrlRspHeaderSize]
	}
	glog.V(1).Infof("repair: SwC enabled on 0x%02X", mask)
	return mask, nil
}

// SwCEnableSet enables the switch-C path on the lanes in mask and disables it
// on the other used lanes.
func (r *Repair) SwCEnableSet(mask uint8) error {
	used := r.usedLanes()
	lanes := jesd.Lanes(used)
	if len(lanes) == 0 {
		return invalidf("no deserializer lane used")
	}
	req := swcPayload(lanes[0])
	req[3] = 1
	req[4] = used
	req[5] = mask
	req[6] = used
	req[7] = mask
	if mask != 0 {
		req[8] = 1
	}
	glog.V(1).Infof("repair: SwC set 0x%02X", mask)
	_, err := r.swcCommand(lanes[0], req)
	return err
}

func swcPayload(lane int) []byte {
	req := make([]byte, calengine.SerDesCtrlPayloadSize)
	req[0] = byte(lane)
	req[1] = calengine.SerDesTestCmd
	req[2] = calengine.SerDesTestSetVcmSwC
	return req
}

// swcCommand sends a SerDes test command to lane and polls its completion.
// It returns the last status read.
func (r *Repair) swcCommand(lane int, req []byte) ([]byte, error) {
	ch := calengine.Channels(1) << uint(lane)
	resp := make([]byte, calengine.SerDesCtrlPayloadSize)
	if _, err := r.d.Cal.ControlCmd(calengine.ObjICSerdes, calengine.SerDesCtrlSetFSMCmd, ch, req, resp); err != nil {
		return nil, err
	}
	err := r.poll(fmt.Sprintf("SwC command on lane %d", lane), r.opts.SwCPoll, func() (bool, error) {
		if err := r.d.Cal.CalSpecificStatus(ch, calengine.ObjTCSerdes, resp); err != nil {
			return false, err
		}
		return resp[1] == calengine.SerDesTestCmdDone, nil
	})
	return resp, err
}
