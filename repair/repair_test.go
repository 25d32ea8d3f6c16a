// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"errors"
	"testing"
	"time"

	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/calengine/calenginetest"
	"periph.io/x/rfxcvr/v3/jesd"
	"periph.io/x/rfxcvr/v3/regport"
	"periph.io/x/rfxcvr/v3/regport/regporttest"
)

// fakeProbe reports lane errors computed by errs.
type fakeProbe struct {
	errs    func(lane int) uint32
	unsync  uint8
	prbs    bool
	cleared int
	err     error
}

func (p *fakeProbe) LaneSynchronized(l int) (bool, error) {
	return p.unsync&(1<<uint(l)) == 0, nil
}

func (p *fakeProbe) LaneErrors(l int) (uint32, error) {
	if p.err != nil {
		return 0, p.err
	}
	if p.errs == nil {
		return 0, nil
	}
	return p.errs(l), nil
}

func (p *fakeProbe) ClearErrors(l int) error {
	p.cleared++
	return nil
}

func (p *fakeProbe) SetPRBS(enable bool) error {
	p.prbs = enable
	return nil
}

func (p *fakeProbe) PRBSActive() bool {
	return p.prbs
}

// bench is a device with used lanes, factory calibrated, not screened, with
// the SerDes tracking calibration running on every used lane.
type bench struct {
	regs  *regporttest.Fake
	cal   *calenginetest.Fake
	probe *fakeProbe
	state *DeviceState
	r     *Repair
}

func newBench(t *testing.T, used uint8, opts *Opts) *bench {
	b := &bench{
		regs:  regporttest.New(),
		cal:   calenginetest.New(),
		probe: &fakeProbe{},
		state: &DeviceState{},
	}
	b.cal.Enabled[calengine.TCSerdes] = calengine.Channels(used)
	b.state.SetScreened(false)
	b.state.SetInitCalsRun(true)
	d := Device{
		Regs:  b.regs,
		Cal:   b.cal,
		Temp:  b.cal,
		Link:  &jesd.Config{Protocol: jesd.JESD204C, Deframers: []jesd.Deframer{{LaneEnabled: used}}},
		Probe: b.probe,
		State: b.state,
	}
	var err error
	if b.r, err = New(d, opts); err != nil {
		t.Fatal(err)
	}
	b.r.sleep = func(time.Duration) {}
	return b
}

func (b *bench) pd1(lane int) uint32 {
	return b.regs.Get(deserPhy[lane] + regPD1)
}

// lane3Defect makes lane 3 fail at every bias until its common mode
// amplifier is powered down.
func (b *bench) lane3Defect(fixable bool) {
	b.probe.errs = func(l int) uint32 {
		if l != 3 {
			return 0
		}
		if fixable && b.pd1(3)&0x07 == pdReg1.val[vcmLaneUsed] {
			return 0
		}
		return 0x00000100
	}
}

func notApplicable(t *testing.T, err error, want CheckResult) {
	t.Helper()
	var na *NotApplicableError
	if !errors.As(err, &na) {
		t.Fatalf("expected *NotApplicableError, got %v", err)
	}
	if !errors.Is(err, ErrNotApplicable) {
		t.Fatal("errors.Is(ErrNotApplicable) failed")
	}
	if na.Reason != want {
		t.Fatalf("reason %s, want %s", na.Reason, want)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Device{}, nil); err == nil {
		t.Fatal("expected missing collaborator")
	}
	b := newBench(t, 0x0F, nil)
	d := b.r.d
	o := DefaultOpts
	o.Bias = BiasRange{Min: 5, Max: 4, Default: 4}
	if _, err := New(d, &o); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unexpected %v", err)
	}
	o = DefaultOpts
	o.SwCPoll.Interval = 0
	if _, err := New(d, &o); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unexpected %v", err)
	}
	o = DefaultOpts
	o.TrackingCalPoll.Timeout = 0
	if _, err := New(d, &o); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unexpected %v", err)
	}
	if b.r.History != DefaultHistory(0x0F) {
		t.Fatalf("unexpected default %s", b.r.History)
	}
}

func TestExecuteScreened(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.state.SetScreened(true)
	rep, err := b.r.Execute(Normal)
	notApplicable(t, err, Screened)
	if rep.Result != Checked|Screened {
		t.Fatalf("result %s", rep.Result)
	}
	if w := b.regs.Writes(); len(w) != 0 {
		t.Fatalf("unexpected writes %v", w)
	}
	if c := b.cal.CallsTo("SetTrackingCals"); len(c) != 0 {
		t.Fatalf("unexpected calls %v", c)
	}
}

func TestExecuteTemperatureRegression(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.r.History = History{LastTemp: 40, Good: 0x0F}
	b.cal.SetTemp(40 + DefaultOpts.Margin + 1)
	rep, err := b.r.Execute(Normal)
	notApplicable(t, err, TempGtLast)
	if rep.Temp != 51 || rep.Result != Checked|TempGtLast {
		t.Fatalf("unexpected %+v", rep)
	}
	if len(b.regs.Ops) != 0 {
		t.Fatalf("unexpected register access %v", b.regs.Ops)
	}
	if b.r.History.LastTemp != 40 {
		t.Fatal("history changed")
	}
}

func TestExecuteSuccessfulRepair(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	prev := History{LastTemp: 30, Good: 0x0F}
	b.r.History = prev
	b.cal.SetTemp(35)
	b.lane3Defect(true)

	rep, err := b.r.Execute(Normal)
	if err != nil {
		t.Fatal(err)
	}
	want := History{LastTemp: 35, Good: 0x07, Bad: 0x08}
	if b.r.History != want || rep.History != want {
		t.Fatalf("history %s, want %s", b.r.History, want)
	}
	if rep.Result != Checked|FaultyVcmAmp|AssessLanes|ApplySuccess {
		t.Fatalf("result %s", rep.Result)
	}
	if rep.Survey == nil {
		t.Fatal("expected survey")
	}
	if sc := rep.Survey.Scores(); sc[3] != 0 || sc[0] != DefaultOpts.Bias.MaxScore() {
		t.Fatalf("scores %v", sc)
	}
	if rep.Test.Failing() != 0 {
		t.Fatalf("test %v", rep.Test)
	}
	if !b.state.JrxRepaired() {
		t.Fatal("expected JrxRepaired")
	}
	for l := 0; l < 4; l++ {
		if got := b.regs.Get(deserPhy[l] + regVcmBias); got != uint32(DefaultOpts.Bias.Default) {
			t.Fatalf("lane %d bias %d not restored", l, got)
		}
	}
	if got := b.cal.Enabled[calengine.TCSerdes]; got != 0x0F {
		t.Fatalf("tracking cal not restored: %s", got)
	}
	// The flags only live during Execute.
	if b.r.result != 0 {
		t.Fatal("flags not cleared")
	}
}

func TestExecuteKeepsBadLanes(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	// Lane 2 no longer fails, lane 3 is a new defect.
	b.r.History = History{LastTemp: 30, Good: 0x0B, Bad: 0x04}
	b.cal.SetTemp(35)
	b.lane3Defect(true)
	rep, err := b.r.Execute(Normal)
	if err != nil {
		t.Fatal(err)
	}
	want := History{LastTemp: 35, Good: 0x03, Bad: 0x0C}
	if b.r.History != want || rep.History != want {
		t.Fatalf("history %s, want %s", b.r.History, want)
	}
	if err := want.Validate(0x0F); err != nil {
		t.Fatal(err)
	}
	if b.pd1(2) != pdReg1.val[vcmLaneUsed] {
		t.Fatal("workaround not kept on lane 2")
	}
}

func TestExecuteFailedRepairRollsBack(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	prev := History{LastTemp: 30, Good: 0x0F}
	b.r.History = prev
	b.cal.SetTemp(35)
	b.lane3Defect(false)

	rep, err := b.r.Execute(Normal)
	if !errors.Is(err, ErrRepairFailed) {
		t.Fatalf("unexpected %v", err)
	}
	if rep.Result&UnknownError == 0 || rep.Result&ApplySuccess != 0 {
		t.Fatalf("result %s", rep.Result)
	}
	if b.r.History != prev {
		t.Fatalf("history %s, want %s", b.r.History, prev)
	}
	if rep.Test.Failing() != 0x08 {
		t.Fatalf("test %v", rep.Test)
	}
	// The hardware matches prev: workaround disabled on every lane.
	if b.state.JrxRepaired() {
		t.Fatal("JrxRepaired still set")
	}
	for l := 0; l < jesd.MaxLanes; l++ {
		if b.pd1(l) != 0 || b.regs.Get(deserPhy[l]+regTest) != 0 {
			t.Fatalf("lane %d not restored", l)
		}
	}
	if got := b.regs.Get(phyTop8Pack); got != 0xF0 {
		t.Fatalf("PHY top 0x%02X", got)
	}
	if got := b.cal.Enabled[calengine.TCSerdes]; got != 0x0F {
		t.Fatalf("tracking cal not restored: %s", got)
	}
}

func TestExecuteRollbackFailure(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.r.History = History{LastTemp: 30, Good: 0x0F}
	b.cal.SetTemp(30)
	b.probe.errs = func(l int) uint32 {
		if l != 3 {
			return 0
		}
		if b.state.JrxRepaired() {
			// Verification: make the rollback fail.
			b.regs.FailAddr[phyTop8Pack] = true
		}
		return 1
	}
	_, err := b.r.Execute(Normal)
	var re *RollbackError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RollbackError, got %v", err)
	}
	if !errors.Is(err, ErrRepairFailed) {
		t.Fatal("cause lost")
	}
	var be *regport.BusError
	if !errors.As(err, &be) || be.Addr != phyTop8Pack {
		t.Fatalf("bus error lost: %v", err)
	}
	if !b.state.JrxRepaired() {
		t.Fatal("JrxRepaired must keep the last written state")
	}
	if got := b.cal.Enabled[calengine.TCSerdes]; got != 0x0F {
		t.Fatal("tracking cal not restored")
	}
}

func TestExecuteNoLaneErrors(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.r.History = History{LastTemp: 30, Good: 0x07, Bad: 0x08}
	b.cal.SetTemp(25)
	b.lane3Defect(false)
	rep, err := b.r.Execute(Normal)
	notApplicable(t, err, NoLaneErrors)
	want := History{LastTemp: 25, Good: 0x07, Bad: 0x08}
	if b.r.History != want || rep.History != want {
		t.Fatalf("history %s, want %s", b.r.History, want)
	}
	if len(b.regs.WritesTo(phyTop8Pack)) != 0 {
		t.Fatal("workaround applied")
	}
}

func TestExecuteFast(t *testing.T) {
	b := newBench(t, 0x3F, nil)
	b.cal.SetTemp(60)
	rep, err := b.r.Execute(Fast)
	if err != nil {
		t.Fatal(err)
	}
	if want := (History{LastTemp: 60, Bad: 0x3F}); b.r.History != want {
		t.Fatalf("history %s, want %s", b.r.History, want)
	}
	if rep.Survey != nil {
		t.Fatal("unexpected survey")
	}
	for l := 0; l < 6; l++ {
		if len(b.regs.WritesTo(deserPhy[l]+regVcmBias)) != 0 {
			t.Fatal("bias swept in fast mode")
		}
	}
	if b.cal.SwC != 0x3F {
		t.Fatalf("SwC 0x%02X", b.cal.SwC)
	}
}

func TestExecuteLoadHistory(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.state.SetInitCalsRun(false)
	h := History{LastTemp: 20, Good: 0x0D, Bad: 0x02}
	b.r.History = h
	rep, err := b.r.Execute(Normal)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Result != Checked|LoadHistory|ApplySuccess {
		t.Fatalf("result %s", rep.Result)
	}
	if b.r.History != h {
		t.Fatal("history changed")
	}
	if !b.state.JrxRepaired() || b.pd1(1) != pdReg1.val[vcmLaneUsed] {
		t.Fatal("history not applied")
	}
	if b.probe.cleared != 0 || len(b.cal.CallsTo("Temperature")) != 0 {
		t.Fatal("unexpected verification")
	}
}

func TestExecuteAlreadyRepaired(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.state.SetJrxRepaired(true)
	rep, err := b.r.Execute(Normal)
	notApplicable(t, err, SwcAlreadyEnabled)
	if rep.Result != Checked|SwcAlreadyEnabled|UnknownError {
		t.Fatalf("result %s", rep.Result)
	}
	if len(b.regs.Writes()) != 0 {
		t.Fatal("unexpected writes")
	}
}

func TestExecuteSwCActive(t *testing.T) {
	b := newBench(t, 0x1F, nil)
	b.cal.SwC = 0x01
	b.cal.SetTemp(30)
	rep, err := b.r.Execute(Normal)
	notApplicable(t, err, SwcAlreadyEnabled)
	if rep.Result&(SwcAlreadyEnabled|UnknownError) != SwcAlreadyEnabled|UnknownError {
		t.Fatalf("result %s", rep.Result)
	}
	if got := b.cal.Enabled[calengine.TCSerdes]; got != 0x1F {
		t.Fatal("tracking cal not restored")
	}
	if len(b.regs.Writes()) != 0 {
		t.Fatal("unexpected writes")
	}
}

func TestExecuteInvalid(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	if _, err := b.r.Execute(RunMode(2)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unexpected %v", err)
	}
	b.r.History = History{LastTemp: 20, Good: 0x01}
	if _, err := b.r.Execute(Normal); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unexpected %v", err)
	}
	if len(b.regs.Ops) != 0 || len(b.cal.Calls) != 0 {
		t.Fatal("hardware accessed")
	}
}

func TestExecuteExitOnError(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.cal.SetTemp(30)
	b.probe.err = errors.New("probe failure")
	if _, err := b.r.Execute(Normal); err != b.probe.err {
		t.Fatalf("unexpected %v", err)
	}
	if got := b.cal.Enabled[calengine.TCSerdes]; got != 0x0F {
		t.Fatal("tracking cal not restored")
	}
	if c := b.cal.CallsTo("SetTrackingCals"); len(c) != 2 {
		t.Fatalf("exit ran %d times", len(c)-1)
	}
	for l := 0; l < 4; l++ {
		if got := b.regs.Get(deserPhy[l] + regVcmBias); got != uint32(DefaultOpts.Bias.Default) {
			t.Fatalf("lane %d bias not restored", l)
		}
	}
}

func TestEngineTimeout(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.cal.Err["WaitInitCals"] = &calengine.TimeoutError{Op: "init cals", Elapsed: 5 * time.Second}
	_, err := b.r.FastAttackRun()
	var te *TimeoutError
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, calengine.ErrMailboxTimeout) || !errors.As(err, &te) {
		t.Fatalf("unexpected %v", err)
	}
	if te.Elapsed != 5*time.Second {
		t.Fatalf("elapsed %s", te.Elapsed)
	}

	// Other engine errors are returned as is.
	want := errors.New("mailbox failure")
	b.cal.Err["WaitInitCals"] = want
	if _, err := b.r.FastAttackRun(); err != want {
		t.Fatalf("unexpected %v", err)
	}
}

func TestExecuteEngineTimeout(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.cal.SetTemp(30)
	b.cal.Err["ControlCmd"] = &calengine.TimeoutError{Op: "command 0x30", Elapsed: 500 * time.Millisecond}
	if _, err := b.r.Execute(Normal); !errors.Is(err, ErrTimeout) {
		t.Fatalf("unexpected %v", err)
	}
	if got := b.cal.Enabled[calengine.TCSerdes]; got != 0x0F {
		t.Fatal("tracking cal not restored")
	}
}

func TestHistoryCheckIdempotent(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.r.History = History{LastTemp: 40, Good: 0x0F}
	b.cal.SetTemp(50)
	c1, err := b.r.HistoryCheck()
	if err != nil {
		t.Fatal(err)
	}
	c2, err := b.r.HistoryCheck()
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Fatalf("%+v != %+v", c1, c2)
	}
	if c1.Result != Checked|FaultyVcmAmp|AssessLanes {
		t.Fatalf("result %s", c1.Result)
	}
	if c1.Candidate != (History{LastTemp: 40, Good: 0x0F}) {
		t.Fatalf("candidate %s", c1.Candidate)
	}
	if len(b.regs.Writes()) != 0 {
		t.Fatal("unexpected writes")
	}
}

func TestLaneAssess(t *testing.T) {
	b := newBench(t, 0x0F, nil)
	b.probe.unsync = 0x04
	b.lane3Defect(false)
	bad, err := b.r.LaneAssess()
	if err != nil {
		t.Fatal(err)
	}
	if bad != 0x0C {
		t.Fatalf("bad 0x%02X", bad)
	}
	if got := b.cal.Enabled[calengine.TCSerdes]; got != 0x0F {
		t.Fatal("tracking cal not restored")
	}
}

func TestTestNotSynchronized(t *testing.T) {
	b := newBench(t, 0x03, nil)
	b.probe.unsync = 0x02
	res, err := b.r.Test()
	if err != nil {
		t.Fatal(err)
	}
	if res[1] != NotSynchronized || res[0] != 0 || b.probe.cleared != 2 {
		t.Fatalf("unexpected %v", res)
	}
}

func TestFastAttackRunCalError(t *testing.T) {
	b := newBench(t, 0x03, nil)
	b.cal.InitErr.ErrCodes[1] = 0x33
	_, err := b.r.FastAttackRun()
	var ce *calengine.CalError
	if !errors.As(err, &ce) || ce.Channels != 0x02 {
		t.Fatalf("unexpected %v", err)
	}
	c := b.cal.CallsTo("RunInitCals")
	if len(c) != 1 || c[0].Ch != 0x03 || c[0].Req[0] != byte(calengine.InitCalFastAttack) {
		t.Fatalf("unexpected %v", c)
	}
}

func TestInitialization(t *testing.T) {
	data := []struct {
		scope    InitScope
		screened bool
		applied  bool
	}{
		{InitNone, false, false},
		{InitAll, true, true},
		{InitAll, false, true},
		{InitNonScreened, true, false},
		{InitNonScreened, false, true},
	}
	for i, line := range data {
		b := newBench(t, 0x0F, nil)
		efuse(b.regs, line.screened)
		if err := b.r.Initialization(line.scope); err != nil {
			t.Fatalf("#%d: %v", i, err)
		}
		if b.state.JrxRepaired() != line.applied {
			t.Fatalf("#%d: applied %t", i, b.state.JrxRepaired())
		}
		if s, ok := b.state.Screened(); !ok || s != line.screened {
			t.Fatalf("#%d: screen bit not cached", i)
		}
	}
	b := newBench(t, 0x0F, nil)
	if err := b.r.Initialization(InitScope(3)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("unexpected %v", err)
	}
}

func TestReportHistoryChanged(t *testing.T) {
	data := []struct {
		r    CheckResult
		want bool
	}{
		{Checked | ApplySuccess, true},
		{Checked | LoadHistory | ApplySuccess, true},
		{Checked | AssessLanes | NoLaneErrors, true},
		{Checked | Screened, false},
		{Checked | SwcAlreadyEnabled | UnknownError, false},
		{Checked | AssessLanes | UnknownError, false},
	}
	for i, line := range data {
		r := Report{Result: line.r}
		if got := r.HistoryChanged(); got != line.want {
			t.Fatalf("#%d: %s: %t", i, line.r, got)
		}
	}
}
