// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package adispi

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/rfxcvr/v3/regport"
)

// readBit is set in the first instruction byte to request a read.
const readBit = 0x80

// maxAddr is the first address that can't be encoded since the MSB carries
// the read/write bit.
const maxAddr = 1 << 31

// DefaultFrequency is the SPI clock used by Open when none is specified.
const DefaultFrequency = 10 * physic.MegaHertz

// Dev is a register port over a 4-wire SPI connection.
//
// Each transaction is 5 bytes: a 32 bits big endian instruction word holding
// the read bit and the address, followed by one data byte. Registers are 8
// bits wide.
type Dev struct {
	mu sync.Mutex
	c  conn.Conn
	w  [5]byte
	r  [5]byte
}

// New returns a Dev using an already connected conn.Conn.
//
// The connection must be full duplex.
func New(c conn.Conn) (*Dev, error) {
	if d := c.Duplex(); d != conn.Full {
		return nil, fmt.Errorf("adispi: %s: need a full duplex connection, got %s", c, d)
	}
	return &Dev{c: c}, nil
}

// Open connects to the port in SPI mode 0 with 8 bits words.
//
// If f is 0, DefaultFrequency is used.
func Open(p spi.Port, f physic.Frequency) (*Dev, error) {
	if f == 0 {
		f = DefaultFrequency
	}
	c, err := p.Connect(f, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("adispi: %w", err)
	}
	return New(c)
}

func (d *Dev) String() string {
	return "adispi(" + d.c.String() + ")"
}

// Read implements regport.Port.
func (d *Dev) Read(addr, mask uint32) (uint32, error) {
	if err := check(addr, mask); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.read(addr)
	if err != nil {
		return 0, regport.Wrap("read", addr, err)
	}
	return uint32(v) & mask, nil
}

// Write implements regport.Port.
//
// A mask narrower than a full byte results in a read-modify-write sequence.
func (d *Dev) Write(addr, value, mask uint32) error {
	if err := check(addr, mask); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	v := byte(value & mask)
	if mask&0xFF != 0xFF {
		old, err := d.read(addr)
		if err != nil {
			return regport.Wrap("read", addr, err)
		}
		v = (old &^ byte(mask)) | v
	}
	return regport.Wrap("write", addr, d.write(addr, v))
}

func (d *Dev) read(addr uint32) (byte, error) {
	d.instruction(addr, true)
	d.w[4] = 0
	if err := d.c.Tx(d.w[:], d.r[:]); err != nil {
		return 0, err
	}
	logf("adispi: R 0x%08X = 0x%02X", addr, d.r[4])
	return d.r[4], nil
}

func (d *Dev) write(addr uint32, v byte) error {
	d.instruction(addr, false)
	d.w[4] = v
	logf("adispi: W 0x%08X = 0x%02X", addr, v)
	return d.c.Tx(d.w[:], nil)
}

func (d *Dev) instruction(addr uint32, read bool) {
	d.w[0] = byte(addr>>24) & 0x7F
	if read {
		d.w[0] |= readBit
	}
	d.w[1] = byte(addr >> 16)
	d.w[2] = byte(addr >> 8)
	d.w[3] = byte(addr)
}

func check(addr, mask uint32) error {
	if addr >= maxAddr {
		return fmt.Errorf("adispi: address 0x%08X out of range", addr)
	}
	if mask&^0xFF != 0 {
		return fmt.Errorf("adispi: mask 0x%X exceeds the register width", mask)
	}
	if mask == 0 {
		return errors.New("adispi: empty mask")
	}
	return nil
}

var _ regport.Port = &Dev{}
