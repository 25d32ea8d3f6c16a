// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"fmt"

	"github.com/golang/glog"
	"periph.io/x/rfxcvr/v3/calengine"
)

// Session is the device state between Enter and Exit.
type Session struct {
	r        *Repair
	tracking calengine.Channels
	prbs     bool
	closed   bool
}

// Enter suspends the SerDes tracking calibration on the channels it is
// enabled on and waits until it is inactive on each of them. It enables the
// PRBS checker when Opts.UsePRBS is set.
//
// The returned Session must be closed. On error the device is left as it was.
func (r *Repair) Enter() (*Session, error) {
	en, err := r.d.Cal.TrackingCalsEnabled(calengine.TCSerdes)
	if err != nil {
		return nil, err
	}
	s := &Session{r: r, tracking: en}
	glog.V(1).Infof("repair: enter, tracking cal enabled on %s", en)
	if en != 0 {
		if err := r.d.Cal.SetTrackingCals(en, calengine.TCSerdes, false); err != nil {
			return nil, err
		}
		for i := 0; i < calengine.NumChannels; i++ {
			if !en.Has(i) {
				continue
			}
			n := i
			err := r.poll(fmt.Sprintf("tracking cal disable on channel %d", n), r.opts.TrackingCalPoll, func() (bool, error) {
				active, err := r.d.Cal.TrackingCalActive(n, calengine.TCSerdes)
				return !active, err
			})
			if err != nil {
				return nil, s.abort(err)
			}
		}
	}
	if r.opts.UsePRBS {
		if err := r.d.Probe.SetPRBS(true); err != nil {
			return nil, s.abort(err)
		}
		s.prbs = true
	}
	return s, nil
}

// abort undoes a partial Enter and returns err.
func (s *Session) abort(err error) error {
	if cerr := s.Close(); cerr != nil {
		glog.Errorf("repair: restoring after failed enter: %v", cerr)
	}
	return err
}

// Close restores what Enter changed: it disables the PRBS checker if it was
// enabled and re-enables the tracking calibration on the recorded channels.
//
// Only the first call has an effect.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var first error
	if s.prbs {
		if err := s.r.d.Probe.SetPRBS(false); err != nil {
			first = err
		}
	}
	if s.tracking != 0 {
		if err := s.r.d.Cal.SetTrackingCals(s.tracking, calengine.TCSerdes, true); err != nil && first == nil {
			first = err
		}
	}
	glog.V(1).Infof("repair: exit, tracking cal restored on %s", s.tracking)
	return first
}

// Tracking returns the channels the tracking calibration was suspended on.
func (s *Session) Tracking() calengine.Channels {
	return s.tracking
}

// Exit closes s.
func (r *Repair) Exit(s *Session) error {
	return s.Close()
}
