// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"github.com/golang/glog"
	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/jesd"
	"periph.io/x/rfxcvr/v3/regport"
)

// MaxBiasSteps is the maximum number of survey slots.
const MaxBiasSteps = 8

// LaneScore has bit i set when survey slot i had no error on the lane.
type LaneScore uint8

// Survey is the result of a bias sweep.
type Survey struct {
	Bias BiasRange
	// Slots holds the Test result of each bias value; slot i is value
	// Bias.Min+i.
	Slots [MaxBiasSteps]TestResult
	// Skipped is true when the first step reused the factory calibration.
	Skipped bool
}

// Scores returns the score of every lane.
func (s *Survey) Scores() [jesd.MaxLanes]LaneScore {
	var out [jesd.MaxLanes]LaneScore
	for i := 0; i < s.Bias.Steps(); i++ {
		for l, v := range s.Slots[i] {
			if v == 0 {
				out[l] |= 1 << uint(i)
			}
		}
	}
	return out
}

// Classify splits the used lanes by score.
func (s *Survey) Classify(used uint8) (good, weak, bad uint8) {
	maxScore, badScore := s.Bias.MaxScore(), s.Bias.BadScore()
	for l, sc := range s.Scores() {
		b := uint8(1) << uint(l)
		if used&b == 0 {
			continue
		}
		switch {
		case sc == maxScore:
			good |= b
		case sc <= badScore:
			bad |= b
		default:
			weak |= b
		}
	}
	return good, weak, bad
}

// Merge narrows h with the survey classification: good lanes can only be
// lost, bad lanes can only be added and every other used lane is weak.
// LastTemp is left untouched.
func (s *Survey) Merge(h *History, used uint8) {
	good, _, bad := s.Classify(used)
	h.Bad |= bad
	h.Good &= good &^ h.Bad
	h.Weak = used &^ (h.Good | h.Bad)
}

func biasField(lane int) regport.Field {
	return regport.Field{Addr: deserPhy[lane] + regVcmBias, Mask: biasFieldMax}
}

// BiasSurvey sweeps the VCM bias from Opts.Bias.Max down to Opts.Bias.Min,
// re-running the fast attack calibration and testing every lane at each
// step, then merges the classification into h.
//
// The factory default bias is written back to every used lane on return.
func (r *Repair) BiasSurvey(h *History) (s *Survey, err error) {
	used := r.usedLanes()
	lanes := jesd.Lanes(used)
	b := r.opts.Bias
	s = &Survey{Bias: b}
	touched := false
	defer func() {
		if !touched {
			return
		}
		for _, l := range lanes {
			if werr := biasField(l).Set(r.d.Regs, uint32(b.Default)); werr != nil && err == nil {
				err = werr
				return
			}
		}
		if err == nil {
			_, err = r.FastAttackRun()
		}
	}()
	for v := int(b.Max); v >= int(b.Min); v-- {
		skip := false
		if !touched && v == int(b.Default) {
			if skip, err = r.factoryCalibrated(lanes, b.Default); err != nil {
				return s, err
			}
		}
		if skip {
			s.Skipped = true
			glog.V(1).Infof("repair: survey bias %d skipped, factory calibration in place", v)
		} else {
			glog.V(1).Infof("repair: survey bias %d", v)
			touched = true
			for _, l := range lanes {
				if err = biasField(l).Set(r.d.Regs, uint32(v)); err != nil {
					return s, err
				}
			}
			if _, err = r.FastAttackRun(); err != nil {
				return s, err
			}
		}
		if s.Slots[v-int(b.Min)], err = r.Test(); err != nil {
			return s, err
		}
	}
	s.Merge(h, used)
	glog.V(1).Infof("repair: survey scores %02X, %s", s.Scores(), h)
	return s, nil
}

// factoryCalibrated returns true if every lane holds bias and calibrated
// with it since power up.
func (r *Repair) factoryCalibrated(lanes []int, bias uint8) (bool, error) {
	for _, l := range lanes {
		v, err := biasField(l).Get(r.d.Regs)
		if err != nil {
			return false, err
		}
		if v != uint32(bias) {
			return false, nil
		}
	}
	st, err := r.d.Cal.InitCalStatus()
	if err != nil {
		return false, err
	}
	for _, l := range lanes {
		if st.CalsSincePowerUp[l]&calengine.ICSerdes == 0 {
			return false, nil
		}
	}
	return true, nil
}
