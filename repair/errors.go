// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidParameter is returned before any hardware access when an
	// argument or the persisted History is malformed.
	ErrInvalidParameter = errors.New("repair: invalid parameter")
	// ErrTimeout is matched by *TimeoutError.
	ErrTimeout = errors.New("repair: timeout")
	// ErrNotApplicable is matched by *NotApplicableError.
	ErrNotApplicable = errors.New("repair: not applicable")
	// ErrRepairFailed is returned when the link still had errors after the
	// workaround was applied. The hardware was rolled back.
	ErrRepairFailed = errors.New("repair: verification failed")
)

// TimeoutError is returned when a bounded poll ran out of budget, including
// the polls of the calibration engine, in which case Err is the engine error.
//
// The whole Execute call can be retried later.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("repair: %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("repair: %s timed out after %s", e.Op, e.Elapsed)
}

// Is implements errors.Is.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NotApplicableError is returned when Execute decided not to act. It is not
// a failure.
type NotApplicableError struct {
	Reason CheckResult
}

func (e *NotApplicableError) Error() string {
	return "repair: not applicable: " + e.Reason.String()
}

// Is implements errors.Is.
func (e *NotApplicableError) Is(target error) bool {
	return target == ErrNotApplicable
}

// RollbackError is returned when restoring the persisted History after a
// failed verification failed too. The hardware is left in an indeterminate
// state.
type RollbackError struct {
	Cause error // the verification failure
	Err   error // the rollback failure
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("repair: rollback failed: %v (after %v)", e.Err, e.Cause)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.Cause, e.Err}
}

func invalidf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidParameter}, v...)...)
}
