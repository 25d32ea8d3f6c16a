// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regport defines the register access capability used by the
// transceiver drivers.
//
// A Port addresses 32 bits wide register space. Each access carries a mask
// selecting the bits of a shared register that are affected; bits outside the
// mask are preserved by the Port implementation.
package regport

import (
	"fmt"
	"math/bits"
)

// Port is a masked register accessor.
type Port interface {
	// Read returns the register content ANDed with mask. The value is not
	// shifted.
	Read(addr, mask uint32) (uint32, error)
	// Write replaces the bits selected by mask with the corresponding bits of
	// value.
	Write(addr, value, mask uint32) error
}

// BusError is returned when a register transaction failed.
//
// The drivers never retry on a BusError; retries belong to the transport.
type BusError struct {
	Op   string // "read" or "write"
	Addr uint32
	Err  error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("regport: %s 0x%08X: %v", e.Op, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}

// Field is a bitfield within a register.
type Field struct {
	Addr uint32
	Mask uint32
}

// Get returns the field value shifted down to bit 0.
func (f Field) Get(p Port) (uint32, error) {
	v, err := p.Read(f.Addr, f.Mask)
	if err != nil {
		return 0, err
	}
	return (v & f.Mask) >> f.shift(), nil
}

// Set writes v into the field. Bits of v that do not fit are dropped.
func (f Field) Set(p Port, v uint32) error {
	return p.Write(f.Addr, (v<<f.shift())&f.Mask, f.Mask)
}

// Pulse writes 1 then 0 into a single bit field.
func (f Field) Pulse(p Port) error {
	if err := f.Set(p, 1); err != nil {
		return err
	}
	return f.Set(p, 0)
}

func (f Field) shift() uint {
	if f.Mask == 0 {
		return 0
	}
	return uint(bits.TrailingZeros32(f.Mask))
}

// Wrap turns a transport failure into a *BusError. It returns nil if err is
// nil and returns err as-is if it is already a *BusError.
func Wrap(op string, addr uint32, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*BusError); ok {
		return err
	}
	return &BusError{Op: op, Addr: addr, Err: err}
}
