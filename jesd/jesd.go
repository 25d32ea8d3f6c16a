// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package jesd reads the state of the transceiver's JESD204 deserializer
// lanes.
//
// It supports both JESD204B (8b/10b) and JESD204C (64b/66b) deframers.
package jesd

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// MaxLanes is the number of deserializer lanes.
const MaxLanes = 8

// MaxDeframers is the number of deframers sharing the deserializer lanes.
const MaxDeframers = 3

// Protocol is the JESD204 link layer variant.
type Protocol uint8

// Supported protocols.
const (
	JESD204B Protocol = 0
	JESD204C Protocol = 1
)

func (p Protocol) String() string {
	switch p {
	case JESD204B:
		return "204B"
	case JESD204C:
		return "204C"
	default:
		return fmt.Sprintf("Protocol(%d)", uint8(p))
	}
}

// ParseProtocol parses "204B" or "204C", with or without a "JESD" prefix.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "JESD") {
	case "204B":
		return JESD204B, nil
	case "204C":
		return JESD204C, nil
	}
	return 0, fmt.Errorf("jesd: unknown protocol %q", s)
}

// Deframer is the configuration of one deframer.
type Deframer struct {
	// LaneEnabled is the mask of deserializer lanes feeding this deframer.
	LaneEnabled uint8
}

// Config is the link configuration after bring-up.
type Config struct {
	Protocol  Protocol
	Deframers []Deframer
}

// UsedLanes returns the union of every deframer's lanes.
//
// It is recomputed on every call.
func (c *Config) UsedLanes() uint8 {
	var m uint8
	for _, d := range c.Deframers {
		m |= d.LaneEnabled
	}
	return m
}

// Validate returns an error if the configuration is not usable.
func (c *Config) Validate() error {
	if c.Protocol != JESD204B && c.Protocol != JESD204C {
		return fmt.Errorf("jesd: invalid protocol %d", c.Protocol)
	}
	if len(c.Deframers) > MaxDeframers {
		return fmt.Errorf("jesd: %d deframers, max %d", len(c.Deframers), MaxDeframers)
	}
	return nil
}

// Lanes returns the lane indexes set in mask, in increasing order.
func Lanes(mask uint8) []int {
	out := make([]int, 0, bits.OnesCount8(mask))
	for i := 0; i < MaxLanes; i++ {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

var errInvalidLane = errors.New("jesd: invalid lane")

func checkLane(lane int) error {
	if lane < 0 || lane >= MaxLanes {
		return fmt.Errorf("%w %d", errInvalidLane, lane)
	}
	return nil
}
