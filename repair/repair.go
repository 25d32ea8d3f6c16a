// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/rfxcvr/v3/calengine"
	"periph.io/x/rfxcvr/v3/jesd"
	"periph.io/x/rfxcvr/v3/regport"
)

// TemperatureSensor reads the device temperature.
type TemperatureSensor interface {
	Temperature(index int) (physic.Temperature, error)
}

// LinkProbe is the lane status capability. It is implemented by *jesd.Probe.
type LinkProbe interface {
	LaneSynchronized(lane int) (bool, error)
	LaneErrors(lane int) (uint32, error)
	ClearErrors(lane int) error
	SetPRBS(enable bool) error
	PRBSActive() bool
}

// Device groups the collaborators of the repair engine.
type Device struct {
	Regs regport.Port
	Cal  calengine.Engine
	Temp TemperatureSensor
	Link *jesd.Config

	// Probe defaults to jesd.NewProbe(Regs, Link).
	Probe LinkProbe
	// State defaults to a new DeviceState.
	State *DeviceState
}

// Poll is a bounded polling budget.
type Poll struct {
	Interval time.Duration
	Timeout  time.Duration
}

// BiasRange is the VCM bias control range swept by the bias survey.
type BiasRange struct {
	Min     uint8
	Max     uint8
	Default uint8 // factory nominal value
}

// Steps returns the number of survey slots.
func (b BiasRange) Steps() int {
	return int(b.Max) - int(b.Min) + 1
}

// MaxScore is the LaneScore of a lane without error at every step.
func (b BiasRange) MaxScore() LaneScore {
	return LaneScore(1<<uint(b.Steps()) - 1)
}

// BadScore is the highest LaneScore of a lane that had errors at the
// maximum bias value.
func (b BiasRange) BadScore() LaneScore {
	return LaneScore(1<<uint(b.Default-b.Min) - 1)
}

func (b BiasRange) validate() error {
	if b.Min > b.Default || b.Default > b.Max {
		return invalidf("bias range %d <= %d <= %d", b.Min, b.Default, b.Max)
	}
	if b.Max > biasFieldMax || b.Steps() > MaxBiasSteps {
		return invalidf("bias range %d..%d too wide", b.Min, b.Max)
	}
	return nil
}

// Opts is the repair engine configuration.
type Opts struct {
	// Margin is the factory temperature margin in °C added to the last
	// validated temperature.
	Margin int
	// TempSensor is the sensor index passed to TemperatureSensor.
	TempSensor int
	// Bias is the survey range.
	Bias BiasRange
	// TrackingCalPoll bounds the wait for the tracking calibration to become
	// inactive.
	TrackingCalPoll Poll
	// SwCPoll bounds the wait for a switch-C command to complete.
	SwCPoll Poll
	// InitCalTimeout bounds a fast attack calibration run.
	InitCalTimeout time.Duration
	// TestDwell is the error counting window of Test.
	TestDwell time.Duration
	// UsePRBS measures with the PRBS checker instead of live traffic.
	UsePRBS bool
}

// DefaultOpts is the recommended configuration.
var DefaultOpts = Opts{
	Margin:          10,
	Bias:            BiasRange{Min: 3, Max: 7, Default: 7},
	TrackingCalPoll: Poll{Interval: time.Millisecond, Timeout: 2 * time.Second},
	SwCPoll:         Poll{Interval: time.Millisecond, Timeout: 2 * time.Second},
	InitCalTimeout:  5 * time.Second,
	TestDwell:       10 * time.Millisecond,
}

// Repair is the lane health and self repair engine of one device.
//
// It is not safe for concurrent use. The register port must not be used by
// anything else between Enter and Exit.
type Repair struct {
	d    Device
	opts Opts

	// History is the persisted lane classification. It is replaced on a
	// successful repair and must be saved by the caller.
	History History

	result CheckResult
	sleep  func(time.Duration)
}

// New returns a repair engine. opts can be nil.
func New(d Device, opts *Opts) (*Repair, error) {
	if d.Regs == nil || d.Cal == nil || d.Temp == nil || d.Link == nil {
		return nil, errors.New("repair: missing collaborator")
	}
	if err := d.Link.Validate(); err != nil {
		return nil, err
	}
	if d.Probe == nil {
		d.Probe = jesd.NewProbe(d.Regs, d.Link)
	}
	if d.State == nil {
		d.State = &DeviceState{}
	}
	if _, ok := d.Cal.(engine); !ok {
		d.Cal = engine{d.Cal}
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if err := o.Bias.validate(); err != nil {
		return nil, err
	}
	for _, p := range []Poll{o.TrackingCalPoll, o.SwCPoll} {
		if p.Interval <= 0 || p.Timeout <= 0 {
			return nil, invalidf("poll interval and timeout must be positive")
		}
	}
	r := &Repair{d: d, opts: o, sleep: time.Sleep}
	r.History = DefaultHistory(r.usedLanes())
	return r, nil
}

func (r *Repair) String() string {
	return fmt.Sprintf("repair{%s, lanes:0x%02X}", r.d.Link.Protocol, r.usedLanes())
}

// State returns the device state.
func (r *Repair) State() *DeviceState {
	return r.d.State
}

// Opts returns the configuration in use.
func (r *Repair) Opts() Opts {
	return r.opts
}

// usedLanes is recomputed from the link configuration on every call.
func (r *Repair) usedLanes() uint8 {
	return r.d.Link.UsedLanes()
}

// UsedLanes returns the deserializer lanes of the current link
// configuration.
func (r *Repair) UsedLanes() uint8 {
	return r.usedLanes()
}

// Temperature returns the current device temperature in °C.
func (r *Repair) Temperature() (int16, error) {
	t, err := r.d.Temp.Temperature(r.opts.TempSensor)
	if err != nil {
		return 0, err
	}
	c := int64((t - physic.ZeroCelsius) / physic.Celsius)
	if c < TempMin || c > TempMax {
		return 0, invalidf("temperature %s out of range", t)
	}
	return int16(c), nil
}

func (r *Repair) set(f CheckResult) {
	r.result |= f
	glog.V(1).Infof("repair: %s", r.result)
}

// poll calls done every p.Interval until it returns true. The elapsed time is
// the sum of the intervals slept.
func (r *Repair) poll(op string, p Poll, done func() (bool, error)) error {
	var elapsed time.Duration
	for ; elapsed < p.Timeout; elapsed += p.Interval {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		r.sleep(p.Interval)
	}
	return &TimeoutError{Op: op, Elapsed: elapsed}
}
