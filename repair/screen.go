// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"errors"

	"github.com/golang/glog"
	"periph.io/x/rfxcvr/v3/regport"
)

// Efuse controller registers.
const (
	regProductID     = 0x00000004
	regEfuseReadAddr = 0x00000130
	regEfuseReadCtrl = 0x00000131
	regEfuseStatus   = 0x00000132 // bit 0: data valid, bit 1: read state
	regEfuseData     = 0x00000134 // 4 bytes, little endian

	efuseScreenWord = 0x09
	efuseReadCmd    = 0x19
	efuseRetries    = 5
	efuseScreenBit  = 16
)

var (
	efuseDataValid = regport.Field{Addr: regEfuseStatus, Mask: 0x01}
	efuseReadState = regport.Field{Addr: regEfuseStatus, Mask: 0x02}
)

// ErrEfuse is returned when the efuse controller did not return data.
var ErrEfuse = errors.New("repair: efuse data not ready")

// ScreenTest reads the factory VCM screening bit from the efuse and caches
// it in the DeviceState.
func (r *Repair) ScreenTest() (bool, error) {
	p := r.d.Regs
	// The product ID read wakes up the efuse controller.
	if _, err := p.Read(regProductID, 0xFF); err != nil {
		return false, err
	}
	if err := p.Write(regEfuseReadAddr, efuseScreenWord, 0xFF); err != nil {
		return false, err
	}
	if err := p.Write(regEfuseReadCtrl, efuseReadCmd, 0xFF); err != nil {
		return false, err
	}
	ready := false
	for i := 0; i < efuseRetries && !ready; i++ {
		v, err := efuseDataValid.Get(p)
		if err != nil {
			return false, err
		}
		if v != 1 {
			continue
		}
		if v, err = efuseReadState.Get(p); err != nil {
			return false, err
		}
		ready = v == 1
	}
	if !ready {
		return false, ErrEfuse
	}
	var data uint32
	for i := uint32(0); i < 4; i++ {
		b, err := p.Read(regEfuseData+i, 0xFF)
		if err != nil {
			return false, err
		}
		data |= b << (8 * i)
	}
	s := data&(1<<efuseScreenBit) != 0
	r.d.State.SetScreened(s)
	glog.V(1).Infof("repair: efuse 0x%08X, screened %t", data, s)
	return s, nil
}
