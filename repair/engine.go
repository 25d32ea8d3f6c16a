// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"errors"
	"time"

	"periph.io/x/rfxcvr/v3/calengine"
)

// engine reports the calibration engine timeouts as *TimeoutError, so callers
// only need to match ErrTimeout.
type engine struct {
	calengine.Engine
}

func (e engine) TrackingCalsEnabled(cal calengine.TrackingCal) (calengine.Channels, error) {
	ch, err := e.Engine.TrackingCalsEnabled(cal)
	return ch, timeout("tracking cal query", err)
}

func (e engine) SetTrackingCals(ch calengine.Channels, cal calengine.TrackingCal, enable bool) error {
	return timeout("tracking cal control", e.Engine.SetTrackingCals(ch, cal, enable))
}

func (e engine) TrackingCalActive(n int, cal calengine.TrackingCal) (bool, error) {
	a, err := e.Engine.TrackingCalActive(n, cal)
	return a, timeout("tracking cal state", err)
}

func (e engine) RunInitCals(req calengine.InitCals) error {
	return timeout("init cal start", e.Engine.RunInitCals(req))
}

func (e engine) WaitInitCals(d time.Duration) (calengine.InitCalErrData, error) {
	out, err := e.Engine.WaitInitCals(d)
	return out, timeout("init cal wait", err)
}

func (e engine) InitCalStatus() (calengine.InitCalStatus, error) {
	st, err := e.Engine.InitCalStatus()
	return st, timeout("init cal status", err)
}

func (e engine) ControlCmd(obj calengine.ObjectID, cmd uint8, ch calengine.Channels, req, resp []byte) (int, error) {
	n, err := e.Engine.ControlCmd(obj, cmd, ch, req, resp)
	return n, timeout("control command", err)
}

func (e engine) CalSpecificStatus(ch calengine.Channels, obj calengine.ObjectID, resp []byte) error {
	return timeout("cal status", e.Engine.CalSpecificStatus(ch, obj, resp))
}

// timeout returns err unchanged unless it is a calibration engine timeout.
func timeout(op string, err error) error {
	var te *calengine.TimeoutError
	if !errors.As(err, &te) {
		return err
	}
	return &TimeoutError{Op: op, Elapsed: te.Elapsed, Err: err}
}
