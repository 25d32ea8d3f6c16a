// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"strings"

	"github.com/golang/glog"
)

// CheckResult is the set of outcome flags of a repair cycle.
type CheckResult uint16

// Outcome flags.
const (
	// Checked is set by every HistoryCheck.
	Checked CheckResult = 1 << iota
	// LoadHistory means the init calibrations did not run yet; the persisted
	// History is applied without survey.
	LoadHistory
	// FaultyVcmAmp means errors may come from a degraded VCM amplifier.
	FaultyVcmAmp
	// AssessLanes requests a bias survey.
	AssessLanes
	// Screened means the part passed the factory VCM screening.
	Screened
	// SwcAlreadyEnabled means a workaround is already applied.
	SwcAlreadyEnabled
	// TempGtLast means the temperature rose beyond the margin since the
	// History was validated.
	TempGtLast
	// NoLaneErrors means the survey found nothing new.
	NoLaneErrors
	// ApplySuccess means the workaround was applied and verified.
	ApplySuccess
	// UnknownError means the cycle ended in an unexpected state.
	UnknownError
)

var checkNames = []string{
	"Checked",
	"LoadHistory",
	"FaultyVcmAmp",
	"AssessLanes",
	"Screened",
	"SwcAlreadyEnabled",
	"TempGtLast",
	"NoLaneErrors",
	"ApplySuccess",
	"UnknownError",
}

func (c CheckResult) String() string {
	if c == 0 {
		return "0"
	}
	var out []string
	for i, n := range checkNames {
		if c&(1<<uint(i)) != 0 {
			out = append(out, n)
		}
	}
	return strings.Join(out, "|")
}

// notApplicable are the HistoryCheck outcomes that stop Execute before any
// hardware change.
const notApplicable = Screened | SwcAlreadyEnabled | TempGtLast

// Check is the outcome of HistoryCheck.
type Check struct {
	Result CheckResult
	// Temp is the temperature read back, in °C. It is only set when the
	// temperature was compared.
	Temp int16
	// Candidate is the starting hypothesis of a survey when Result has
	// AssessLanes: every used lane good.
	Candidate History
}

// HistoryCheck decides whether a repair cycle is applicable.
//
// It does not change the hardware once the screening bit is cached in the
// DeviceState, and returns the same result when called twice.
func (r *Repair) HistoryCheck() (Check, error) {
	c := Check{Result: Checked}
	scr, err := r.screened()
	if err != nil {
		return c, err
	}
	switch {
	case scr:
		c.Result |= Screened
	case r.d.State.JrxRepaired():
		// Running again while repaired risks applying twice.
		c.Result |= SwcAlreadyEnabled | UnknownError
	case !r.d.State.InitCalsRun():
		c.Result |= LoadHistory
	default:
		t, err := r.Temperature()
		if err != nil {
			return c, err
		}
		c.Temp = t
		if int(t) <= int(r.History.LastTemp)+r.opts.Margin {
			c.Result |= FaultyVcmAmp | AssessLanes
			c.Candidate = History{LastTemp: r.History.LastTemp, Good: r.usedLanes()}
		} else {
			c.Result |= TempGtLast
		}
	}
	glog.V(1).Infof("repair: history check %s (%s, %d°C)", c.Result, r.History, c.Temp)
	return c, nil
}

// screened returns the cached screening bit, reading the efuse the first
// time.
func (r *Repair) screened() (bool, error) {
	if s, ok := r.d.State.Screened(); ok {
		return s, nil
	}
	return r.ScreenTest()
}
