// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"math/bits"

	"github.com/golang/glog"
	"periph.io/x/rfxcvr/v3/jesd"
)

// Deserializer PHY register blocks.
var deserPhy = [jesd.MaxLanes]uint32{
	0x60430000,
	0x60430800,
	0x60431000,
	0x60431800,
	0x60432000,
	0x60432800,
	0x60433000,
	0x60433800,
}

// Offsets within a PHY block.
const (
	regPD0     = 0x00
	regPD1     = 0x01
	regTest    = 0x0C // CORE1P2_TEST, analog mux tap
	regVcmBias = 0x24
	regCTL0    = 0x40
	regCTL18   = 0x52
	regCTL28   = 0x5C
	regCTL31   = 0x5F
	regCTL41   = 0x69
	regCTL43   = 0x6B
	regCTL45   = 0x6D
	regCTL49   = 0x71
	regCTL54   = 0x76

	biasFieldMax = 0x0F
)

// phyTop8Pack powers the 8 PHYs of the deserializer; bit n powers down PHY n.
const phyTop8Pack = 0x60438000

// SwCThreshold is the number of used lanes above which the switch-C path is
// used instead of direct register writes.
const SwCThreshold = 4

// Preset selectors.
const (
	vcmDisabled = iota
	vcmLaneUsed
	vcmLaneUnused
)

// preset is a register of a PHY block with its value for each selector.
type preset struct {
	off  uint32
	mask uint32
	val  [3]uint32
}

func (p *preset) write(r *Repair, lane, sel int) error {
	glog.V(2).Infof("repair: lane %d [0x%02X] = 0x%02X", lane, p.off, p.val[sel])
	return r.d.Regs.Write(deserPhy[lane]+p.off, p.val[sel], p.mask)
}

var (
	pdReg0   = preset{regPD0, 0x3F, [3]uint32{0x01, 0xFF, 0x35}}
	pdReg1   = preset{regPD1, 0x07, [3]uint32{0x00, 0x02, 0x07}}
	coreTest = preset{regTest, 0x1F, [3]uint32{0x00, 30, 29}}
	ctl0     = preset{regCTL0, 0x0F, [3]uint32{0x00, 0xFF, 0x0F}}
	ctl18    = preset{regCTL18, 0x01, [3]uint32{0x00, 0xFF, 0x01}}
	ctl28    = preset{regCTL28, 0xFF, [3]uint32{0x00, 0xFF, 0xFF}}
	ctl31    = preset{regCTL31, 0x01, [3]uint32{0x00, 0xFF, 0x01}}
	ctl41    = preset{regCTL41, 0xFF, [3]uint32{0x00, 0x00, 0xFF}}
	ctl43    = preset{regCTL43, 0xFF, [3]uint32{0x00, 0xFF, 0x80}}
	ctl45    = preset{regCTL45, 0xFF, [3]uint32{0x00, 0xFF, 0x80}}
	ctl49    = preset{regCTL49, 0x07, [3]uint32{0x20, 0xFF, 0x06}}
	ctl54    = preset{regCTL54, 0x0F, [3]uint32{0x00, 0xFF, 0x05}}
)

// unusedProfile powers down the analog blocks of a lane that is not used, in
// write order.
var unusedProfile = []*preset{
	&ctl49, &pdReg0, &pdReg1, &ctl18, &ctl31, &ctl54, &ctl0, &ctl28, &ctl41, &ctl43, &ctl45,
}

// VcmLanesFix applies or removes the VCM workaround for the lanes in
// laneMask.
//
// When enabling, every lane outside laneMask is powered down. Then with more
// than SwCThreshold lanes the firmware switch-C path is enabled for
// laneMask, otherwise the common mode amplifier of each lane in laneMask is
// powered down directly.
func (r *Repair) VcmLanesFix(laneMask uint8, enable bool) error {
	n := bits.OnesCount8(laneMask)
	glog.V(1).Infof("repair: VcmLanesFix(0x%02X, %t), %d lanes", laneMask, enable, n)
	if !enable {
		if n <= SwCThreshold {
			for l := 0; l < jesd.MaxLanes; l++ {
				if err := pdReg1.write(r, l, vcmDisabled); err != nil {
					return err
				}
				if err := coreTest.write(r, l, vcmDisabled); err != nil {
					return err
				}
			}
		} else if err := r.SwCEnableSet(0); err != nil {
			return err
		}
		if err := r.d.Regs.Write(phyTop8Pack, uint32(^laneMask), 0xFF); err != nil {
			return err
		}
		r.d.State.SetJrxRepaired(false)
		return nil
	}

	if err := r.d.Regs.Write(phyTop8Pack, 0, 0xFF); err != nil {
		return err
	}
	for l := 0; l < jesd.MaxLanes; l++ {
		if laneMask&(1<<uint(l)) != 0 {
			continue
		}
		for _, p := range unusedProfile {
			if err := p.write(r, l, vcmLaneUnused); err != nil {
				return err
			}
		}
	}
	if n > SwCThreshold {
		if err := r.SwCEnableSet(laneMask); err != nil {
			return err
		}
		for l := 0; l < jesd.MaxLanes; l++ {
			if laneMask&(1<<uint(l)) == 0 {
				if err := coreTest.write(r, l, vcmLaneUnused); err != nil {
					return err
				}
			}
		}
	} else {
		for l := 0; l < jesd.MaxLanes; l++ {
			sel := vcmLaneUsed
			if laneMask&(1<<uint(l)) == 0 {
				sel = vcmLaneUnused
			}
			if err := pdReg1.write(r, l, sel); err != nil {
				return err
			}
			if err := coreTest.write(r, l, sel); err != nil {
				return err
			}
		}
	}
	r.d.State.SetJrxRepaired(true)
	return nil
}

// Apply configures the hardware for h: the workaround is enabled on the used
// lanes if any of them is weak or bad and disabled otherwise.
func (r *Repair) Apply(h History) error {
	used := r.usedLanes()
	if err := h.Validate(used); err != nil {
		return err
	}
	return r.VcmLanesFix(used, h.Weak|h.Bad != 0)
}
