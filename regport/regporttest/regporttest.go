// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package regporttest implements a fake register file to test drivers that
// depend on regport.Port.
package regporttest

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/rfxcvr/v3/regport"
)

// Op is one recorded register transaction.
type Op struct {
	Write bool
	Addr  uint32
	Value uint32
	Mask  uint32
}

func (o Op) String() string {
	if o.Write {
		return fmt.Sprintf("W 0x%08X=0x%X/0x%X", o.Addr, o.Value, o.Mask)
	}
	return fmt.Sprintf("R 0x%08X/0x%X", o.Addr, o.Mask)
}

// ErrInjected is returned by Fake when FailAddr matches.
var ErrInjected = errors.New("regporttest: injected failure")

// Fake is an in-memory register file implementing regport.Port.
//
// Every transaction is appended to Ops. OnRead and OnWrite, when set, are
// called with the lock released after the register content was updated; they
// can be used to emulate hardware reacting to a write.
type Fake struct {
	mu   sync.Mutex
	Regs map[uint32]uint32
	Ops  []Op

	// FailAddr makes any access to these addresses fail with a
	// *regport.BusError wrapping ErrInjected.
	FailAddr map[uint32]bool

	OnRead  func(addr uint32) (uint32, bool)
	OnWrite func(addr, value uint32)
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{Regs: map[uint32]uint32{}, FailAddr: map[uint32]bool{}}
}

// Read implements regport.Port.
func (f *Fake) Read(addr, mask uint32) (uint32, error) {
	f.mu.Lock()
	f.Ops = append(f.Ops, Op{Addr: addr, Mask: mask})
	if f.FailAddr[addr] {
		f.mu.Unlock()
		return 0, &regport.BusError{Op: "read", Addr: addr, Err: ErrInjected}
	}
	v := f.Regs[addr]
	hook := f.OnRead
	f.mu.Unlock()
	if hook != nil {
		if o, ok := hook(addr); ok {
			v = o
		}
	}
	return v & mask, nil
}

// Write implements regport.Port.
func (f *Fake) Write(addr, value, mask uint32) error {
	f.mu.Lock()
	f.Ops = append(f.Ops, Op{Write: true, Addr: addr, Value: value, Mask: mask})
	if f.FailAddr[addr] {
		f.mu.Unlock()
		return &regport.BusError{Op: "write", Addr: addr, Err: ErrInjected}
	}
	v := (f.Regs[addr] &^ mask) | (value & mask)
	f.Regs[addr] = v
	hook := f.OnWrite
	f.mu.Unlock()
	if hook != nil {
		hook(addr, v)
	}
	return nil
}

// Get returns the current register content.
func (f *Fake) Get(addr uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Regs[addr]
}

// Set sets the register content without recording an operation.
func (f *Fake) Set(addr, value uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Regs[addr] = value
}

// Writes returns the recorded write operations.
func (f *Fake) Writes() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Op
	for _, o := range f.Ops {
		if o.Write {
			out = append(out, o)
		}
	}
	return out
}

// WritesTo returns the recorded writes to addr.
func (f *Fake) WritesTo(addr uint32) []Op {
	var out []Op
	for _, o := range f.Writes() {
		if o.Addr == addr {
			out = append(out, o)
		}
	}
	return out
}

// Reset clears the recorded operations, keeping the register content.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = nil
}

var _ regport.Port = &Fake{}
