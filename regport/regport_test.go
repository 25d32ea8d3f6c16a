// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package regport_test

import (
	"errors"
	"testing"

	"periph.io/x/rfxcvr/v3/regport"
	"periph.io/x/rfxcvr/v3/regport/regporttest"
)

func TestField(t *testing.T) {
	f := regporttest.New()
	f.Set(0x100, 0xA5)
	fld := regport.Field{Addr: 0x100, Mask: 0x70}
	v, err := fld.Get(f)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("Get() = %d, want 2", v)
	}
	if err := fld.Set(f, 7); err != nil {
		t.Fatal(err)
	}
	if got := f.Get(0x100); got != 0xF5 {
		t.Fatalf("register = 0x%X, want 0xF5", got)
	}
	// Out of range bits are dropped.
	if err := fld.Set(f, 0x9); err != nil {
		t.Fatal(err)
	}
	if got := f.Get(0x100); got != 0x95 {
		t.Fatalf("register = 0x%X, want 0x95", got)
	}
}

func TestFieldPulse(t *testing.T) {
	f := regporttest.New()
	fld := regport.Field{Addr: 0x10, Mask: 0x4}
	if err := fld.Pulse(f); err != nil {
		t.Fatal(err)
	}
	w := f.WritesTo(0x10)
	if len(w) != 2 || w[0].Value != 4 || w[1].Value != 0 {
		t.Fatalf("unexpected writes %v", w)
	}
}

func TestBusError(t *testing.T) {
	f := regporttest.New()
	f.FailAddr[0x20] = true
	_, err := regport.Field{Addr: 0x20, Mask: 1}.Get(f)
	var be *regport.BusError
	if !errors.As(err, &be) {
		t.Fatalf("expected *BusError, got %v", err)
	}
	if be.Addr != 0x20 || be.Op != "read" {
		t.Fatalf("unexpected %#v", be)
	}
	if !errors.Is(err, regporttest.ErrInjected) {
		t.Fatal("expected wrapped ErrInjected")
	}
}

func TestWrap(t *testing.T) {
	if regport.Wrap("read", 1, nil) != nil {
		t.Fatal("expected nil")
	}
	base := errors.New("boom")
	err := regport.Wrap("write", 2, base)
	if err.Error() != "regport: write 0x00000002: boom" {
		t.Fatal(err)
	}
	if again := regport.Wrap("read", 3, err); again != err {
		t.Fatal("expected existing BusError to be returned as-is")
	}
}
