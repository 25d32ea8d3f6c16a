// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package calengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/rfxcvr/v3/regport"
)

// Mailbox register offsets relative to MailboxOpts.Base.
const (
	mbxCmd      = 0x00
	mbxObj      = 0x01
	mbxSub      = 0x02
	mbxReqLen   = 0x03
	mbxChan     = 0x04 // 4 bytes, little endian
	mbxRspLen   = 0x08
	mbxStatus   = 0x09
	mbxDoorbell = 0x0A
	mbxReq      = 0x10
	mbxRsp      = 0x30

	mbxPayload = 32
)

// Mailbox status codes.
const (
	statusIdle  = 0x00
	statusBusy  = 0x01
	statusDone  = 0x02
	statusError = 0x80
)

// Mailbox commands.
const (
	cmdTrackingEnabledGet = 0x10
	cmdTrackingEnabledSet = 0x11
	cmdTrackingState      = 0x12
	cmdInitRun            = 0x20
	cmdInitDone           = 0x21
	cmdInitChanStatus     = 0x22
	cmdControl            = 0x30
	cmdCalStatus          = 0x31
	cmdTemperature        = 0x40
)

// ErrMailboxTimeout is matched by *TimeoutError.
var ErrMailboxTimeout = errors.New("calengine: mailbox timeout")

// TimeoutError is returned when the firmware did not complete a command
// within MailboxOpts.Timeout, or the init calibrations within the timeout
// passed to WaitInitCals.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("calengine: %s not done after %s", e.Op, e.Elapsed)
}

// Is implements errors.Is.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrMailboxTimeout
}

// CmdError is returned when the firmware rejected a command.
type CmdError struct {
	Cmd  uint8
	Code uint8
}

func (e *CmdError) Error() string {
	return fmt.Sprintf("calengine: command 0x%02X failed with code 0x%02X", e.Cmd, e.Code)
}

// MailboxOpts configures a Mailbox.
type MailboxOpts struct {
	Base     uint32
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultMailboxOpts is the mailbox location of the transceiver's embedded
// processor.
var DefaultMailboxOpts = MailboxOpts{
	Base:     0x46A00000,
	Interval: time.Millisecond,
	Timeout:  500 * time.Millisecond,
}

// Mailbox is an Engine talking to the calibration firmware through a register
// mailbox.
type Mailbox struct {
	p     regport.Port
	opts  MailboxOpts
	sleep func(time.Duration)
}

// NewMailbox returns a Mailbox on p. opts can be nil.
func NewMailbox(p regport.Port, opts *MailboxOpts) *Mailbox {
	m := &Mailbox{p: p, opts: DefaultMailboxOpts, sleep: time.Sleep}
	if opts != nil {
		m.opts = *opts
	}
	return m
}

func (m *Mailbox) String() string {
	return fmt.Sprintf("calengine.Mailbox{0x%08X}", m.opts.Base)
}

// TrackingCalsEnabled implements Engine.
func (m *Mailbox) TrackingCalsEnabled(cal TrackingCal) (Channels, error) {
	var req, resp [4]byte
	binary.LittleEndian.PutUint32(req[:], uint32(cal))
	if _, err := m.call(cmdTrackingEnabledGet, 0, 0, 0, req[:], resp[:]); err != nil {
		return 0, err
	}
	return Channels(binary.LittleEndian.Uint32(resp[:])), nil
}

// SetTrackingCals implements Engine.
func (m *Mailbox) SetTrackingCals(ch Channels, cal TrackingCal, enable bool) error {
	var req [5]byte
	binary.LittleEndian.PutUint32(req[:], uint32(cal))
	if enable {
		req[4] = 1
	}
	_, err := m.call(cmdTrackingEnabledSet, 0, 0, ch, req[:], nil)
	return err
}

// TrackingCalActive implements Engine.
func (m *Mailbox) TrackingCalActive(n int, cal TrackingCal) (bool, error) {
	if n < 0 || n >= NumChannels {
		return false, fmt.Errorf("calengine: invalid channel %d", n)
	}
	var req [4]byte
	var resp [1]byte
	binary.LittleEndian.PutUint32(req[:], uint32(cal))
	if _, err := m.call(cmdTrackingState, 0, 0, 1<<uint(n), req[:], resp[:]); err != nil {
		return false, err
	}
	return resp[0]&1 != 0, nil
}

// RunInitCals implements Engine.
func (m *Mailbox) RunInitCals(r InitCals) error {
	var req [9]byte
	binary.LittleEndian.PutUint64(req[:], uint64(r.Cals))
	req[8] = byte(r.Mode)
	_, err := m.call(cmdInitRun, 0, 0, r.Channels, req[:], nil)
	return err
}

// WaitInitCals implements Engine.
func (m *Mailbox) WaitInitCals(timeout time.Duration) (InitCalErrData, error) {
	var out InitCalErrData
	var resp [1]byte
	for elapsed := time.Duration(0); ; elapsed += m.opts.Interval {
		if _, err := m.call(cmdInitDone, 0, 0, 0, nil, resp[:]); err != nil {
			return out, err
		}
		if resp[0] != 0 {
			break
		}
		if elapsed >= timeout {
			return out, &TimeoutError{Op: "init cals", Elapsed: elapsed}
		}
		m.sleep(m.opts.Interval)
	}
	for i := 0; i < NumChannels; i++ {
		s, err := m.chanStatus(i)
		if err != nil {
			return out, err
		}
		out.ErrCodes[i] = s.errCode
	}
	return out, nil
}

// InitCalStatus implements Engine.
func (m *Mailbox) InitCalStatus() (InitCalStatus, error) {
	var out InitCalStatus
	for i := 0; i < NumChannels; i++ {
		s, err := m.chanStatus(i)
		if err != nil {
			return out, err
		}
		out.ErrCodes[i] = s.errCode
		out.CalsSincePowerUp[i] = s.sincePowerUp
		out.CalsLastRun[i] = s.lastRun
	}
	return out, nil
}

// ControlCmd implements Engine.
func (m *Mailbox) ControlCmd(obj ObjectID, cmd uint8, ch Channels, req, resp []byte) (int, error) {
	return m.call(cmdControl, uint8(obj), cmd, ch, req, resp)
}

// CalSpecificStatus implements Engine.
func (m *Mailbox) CalSpecificStatus(ch Channels, obj ObjectID, resp []byte) error {
	_, err := m.call(cmdCalStatus, uint8(obj), 0, ch, nil, resp)
	return err
}

// Temperature returns the temperature reported by the firmware for sensor
// index.
func (m *Mailbox) Temperature(index int) (physic.Temperature, error) {
	if index < 0 || index > 0xFF {
		return 0, fmt.Errorf("calengine: invalid sensor %d", index)
	}
	var resp [2]byte
	if _, err := m.call(cmdTemperature, 0, 0, 0, []byte{byte(index)}, resp[:]); err != nil {
		return 0, err
	}
	c := int16(binary.LittleEndian.Uint16(resp[:]))
	return physic.ZeroCelsius + physic.Temperature(c)*physic.Celsius, nil
}

type chanStatus struct {
	errCode      uint32
	sincePowerUp InitCal
	lastRun      InitCal
}

func (m *Mailbox) chanStatus(n int) (chanStatus, error) {
	var resp [20]byte
	if _, err := m.call(cmdInitChanStatus, 0, 0, 1<<uint(n), nil, resp[:]); err != nil {
		return chanStatus{}, err
	}
	return chanStatus{
		errCode:      binary.LittleEndian.Uint32(resp[0:]),
		sincePowerUp: InitCal(binary.LittleEndian.Uint64(resp[4:])),
		lastRun:      InitCal(binary.LittleEndian.Uint64(resp[12:])),
	}, nil
}

// call runs one mailbox transaction and returns the number of response bytes
// copied into resp.
func (m *Mailbox) call(cmd, obj, sub uint8, ch Channels, req, resp []byte) (int, error) {
	if len(req) > mbxPayload {
		return 0, fmt.Errorf("calengine: request too large (%d bytes)", len(req))
	}
	b := m.opts.Base
	if err := m.w8(b+mbxCmd, cmd); err != nil {
		return 0, err
	}
	if err := m.w8(b+mbxObj, obj); err != nil {
		return 0, err
	}
	if err := m.w8(b+mbxSub, sub); err != nil {
		return 0, err
	}
	var c [4]byte
	binary.LittleEndian.PutUint32(c[:], uint32(ch))
	for i, v := range c {
		if err := m.w8(b+mbxChan+uint32(i), v); err != nil {
			return 0, err
		}
	}
	if err := m.w8(b+mbxReqLen, uint8(len(req))); err != nil {
		return 0, err
	}
	for i, v := range req {
		if err := m.w8(b+mbxReq+uint32(i), v); err != nil {
			return 0, err
		}
	}
	if err := m.w8(b+mbxDoorbell, 1); err != nil {
		return 0, err
	}
	for elapsed := time.Duration(0); ; elapsed += m.opts.Interval {
		s, err := m.r8(b + mbxStatus)
		if err != nil {
			return 0, err
		}
		if s&statusError != 0 {
			return 0, &CmdError{Cmd: cmd, Code: s &^ statusError}
		}
		if s == statusDone {
			break
		}
		if elapsed >= m.opts.Timeout {
			return 0, &TimeoutError{Op: fmt.Sprintf("command 0x%02X", cmd), Elapsed: elapsed}
		}
		m.sleep(m.opts.Interval)
	}
	if len(resp) == 0 {
		return 0, nil
	}
	l, err := m.r8(b + mbxRspLen)
	if err != nil {
		return 0, err
	}
	n := int(l)
	if n > len(resp) {
		n = len(resp)
	}
	if n > mbxPayload {
		n = mbxPayload
	}
	for i := 0; i < n; i++ {
		if resp[i], err = m.r8(b + mbxRsp + uint32(i)); err != nil {
			return i, err
		}
	}
	return n, nil
}

func (m *Mailbox) w8(addr uint32, v uint8) error {
	return m.p.Write(addr, uint32(v), 0xFF)
}

func (m *Mailbox) r8(addr uint32) (uint8, error) {
	v, err := m.p.Read(addr, 0xFF)
	return uint8(v), err
}

var _ Engine = &Mailbox{}
