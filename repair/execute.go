// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"fmt"

	"github.com/golang/glog"
)

// RunMode selects how Execute assesses the lanes.
type RunMode uint8

const (
	// Normal runs a bias survey before applying the workaround.
	Normal RunMode = iota
	// Fast skips the survey and considers every used lane bad.
	Fast
)

func (m RunMode) String() string {
	switch m {
	case Normal:
		return "Normal"
	case Fast:
		return "Fast"
	default:
		return fmt.Sprintf("RunMode(%d)", uint8(m))
	}
}

// Report describes a repair cycle.
type Report struct {
	// Result holds the outcome flags; it always has Checked once the history
	// check ran.
	Result CheckResult
	// Temp is the temperature read back by the history check, in °C.
	Temp int16
	// History is the History after the cycle, equal to Repair.History.
	History History
	// Survey is set if a bias survey ran.
	Survey *Survey
	// Test is the verification result after the workaround was applied.
	Test TestResult
}

// HistoryChanged returns true when the cycle replaced Repair.History, which
// should then be persisted.
func (r *Report) HistoryChanged() bool {
	return r.Result&(ApplySuccess|NoLaneErrors) != 0 && r.Result&UnknownError == 0
}

// Execute runs one repair cycle.
//
// A cycle that decided not to act returns a *NotApplicableError along with
// the Report. A failed verification is rolled back and returns an error
// wrapping ErrRepairFailed; if the rollback fails too, a *RollbackError is
// returned.
//
// Repair.History is only replaced when the cycle succeeded or found no new
// lane errors.
func (r *Repair) Execute(mode RunMode) (*Report, error) {
	if mode != Normal && mode != Fast {
		return nil, invalidf("run mode %d", mode)
	}
	if err := r.History.Validate(r.usedLanes()); err != nil {
		return nil, err
	}
	rep := &Report{}
	err := r.execute(mode, rep)
	rep.Result = r.result
	rep.History = r.History
	r.result = 0
	return rep, err
}

func (r *Repair) execute(mode RunMode, rep *Report) (err error) {
	used := r.usedLanes()
	prev := r.History
	chk, err := r.HistoryCheck()
	if err != nil {
		return err
	}
	r.set(chk.Result)
	rep.Temp = chk.Temp
	if na := chk.Result & notApplicable; na != 0 {
		glog.Warningf("repair: not repairing, %s", na)
		return &NotApplicableError{Reason: na}
	}

	s, err := r.Enter()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	swc, err := r.SwCEnableGet()
	if err != nil {
		return err
	}
	if swc != 0 {
		r.set(SwcAlreadyEnabled | UnknownError)
		glog.Warningf("repair: switch-C already enabled on lanes 0x%02X", swc)
		return &NotApplicableError{Reason: SwcAlreadyEnabled}
	}

	if chk.Result&LoadHistory != 0 {
		glog.V(1).Infof("repair: applying persisted %s", prev)
		if err := r.Apply(prev); err != nil {
			return err
		}
		r.set(ApplySuccess)
		return nil
	}

	cand := chk.Candidate
	switch mode {
	case Normal:
		if rep.Survey, err = r.BiasSurvey(&cand); err != nil {
			return err
		}
		// A lane once found bad stays bad.
		cand.Bad |= prev.Bad
		cand.Good &^= cand.Bad
		cand.Weak &^= cand.Bad
		if cand.Bad&^prev.Bad == 0 && cand.Weak&^prev.Weak == 0 {
			prev.LastTemp = chk.Temp
			r.History = prev
			r.set(NoLaneErrors)
			glog.V(1).Infof("repair: no new lane errors")
			return &NotApplicableError{Reason: NoLaneErrors}
		}
	case Fast:
		cand = History{Bad: used}
	}
	cand.LastTemp = chk.Temp

	glog.V(1).Infof("repair: applying %s", cand)
	if err := r.Apply(cand); err != nil {
		return err
	}
	if _, err := r.FastAttackRun(); err != nil {
		return err
	}
	if rep.Test, err = r.Test(); err != nil {
		return err
	}
	if bad := rep.Test.Failing(); bad != 0 {
		r.set(UnknownError)
		cause := fmt.Errorf("%w on lanes 0x%02X", ErrRepairFailed, bad)
		glog.Warningf("repair: %v, rolling back to %s", cause, prev)
		if err := r.rollback(prev); err != nil {
			glog.Errorf("repair: rollback to %s failed, hardware state is indeterminate: %v", prev, err)
			return &RollbackError{Cause: cause, Err: err}
		}
		return cause
	}
	r.History = cand
	r.set(ApplySuccess)
	return nil
}

func (r *Repair) rollback(h History) error {
	if err := r.Apply(h); err != nil {
		return err
	}
	_, err := r.FastAttackRun()
	return err
}

// LaneAssess returns the used lanes with link errors, with the tracking
// calibration suspended during the measurement.
func (r *Repair) LaneAssess() (bad uint8, err error) {
	s, err := r.Enter()
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	res, err := r.Test()
	if err != nil {
		return 0, err
	}
	return res.Failing(), nil
}

// InitScope selects the parts Initialization applies the workaround to.
type InitScope uint8

const (
	// InitNone only reads the screening bit.
	InitNone InitScope = iota
	// InitAll applies the workaround to every part.
	InitAll
	// InitNonScreened applies the workaround to parts that did not pass the
	// factory screening.
	InitNonScreened
)

func (s InitScope) String() string {
	switch s {
	case InitNone:
		return "None"
	case InitAll:
		return "All"
	case InitNonScreened:
		return "NonScreened"
	default:
		return fmt.Sprintf("InitScope(%d)", uint8(s))
	}
}

// Initialization is run at device start up. It reads and caches the factory
// screening bit then enables the workaround on every used lane for the parts
// selected by scope.
func (r *Repair) Initialization(scope InitScope) error {
	if scope > InitNonScreened {
		return invalidf("init scope %d", scope)
	}
	scr, err := r.ScreenTest()
	if err != nil {
		return err
	}
	if scope == InitAll || (scope == InitNonScreened && !scr) {
		return r.VcmLanesFix(r.usedLanes(), true)
	}
	return nil
}
