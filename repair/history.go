// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package repair

import (
	"bufio"
	"fmt"
	"io"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Valid History temperature window in °C.
const (
	TempMin = -40
	TempMax = 125
)

// History is the persisted lane classification of a device and the
// temperature it was last validated at.
//
// For a valid History, Good|Weak|Bad is the set of used lanes and the three
// masks are disjoint.
type History struct {
	LastTemp int16
	Good     uint8
	Weak     uint8
	Bad      uint8
}

// DefaultHistory is the History of a device never diagnosed: every lane is
// good and any temperature is within the margin.
func DefaultHistory(used uint8) History {
	return History{LastTemp: TempMax, Good: used}
}

func (h History) String() string {
	return fmt.Sprintf("History{%d°C good:0x%02X weak:0x%02X bad:0x%02X}", h.LastTemp, h.Good, h.Weak, h.Bad)
}

// Validate returns an error wrapping ErrInvalidParameter if h is not valid
// for the lanes used.
func (h History) Validate(used uint8) error {
	if h.LastTemp < TempMin || h.LastTemp > TempMax {
		return invalidf("history temperature %d outside [%d, %d]", h.LastTemp, TempMin, TempMax)
	}
	if h.Good&h.Weak != 0 || h.Good&h.Bad != 0 || h.Weak&h.Bad != 0 {
		return invalidf("overlapping history masks %s", h)
	}
	if h.Good|h.Weak|h.Bad != used {
		return invalidf("history %s does not cover lanes 0x%02X", h, used)
	}
	return nil
}

// NumRepaired returns the number of lanes needing the workaround.
func (h History) NumRepaired() int {
	return bits.OnesCount8(h.Weak | h.Bad)
}

const historyLen = 16 + 8 + 8 + 8

// MarshalText implements encoding.TextMarshaler.
//
// The format is one line: the temperature in a 16 characters field then the
// bad, weak and good masks in 8 characters fields, all in decimal.
func (h History) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%16d%8d%8d%8d\n", h.LastTemp, h.Bad, h.Weak, h.Good)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
//
// Only the format and the temperature window are checked. Use Validate to
// check the masks against the used lanes.
func (h *History) UnmarshalText(b []byte) error {
	s := strings.TrimRight(string(b), "\r\n")
	if len(s) != historyLen {
		return invalidf("history line is %d characters, want %d", len(s), historyLen)
	}
	var v [4]int64
	for i, f := range [][2]int{{0, 16}, {16, 24}, {24, 32}, {32, 40}} {
		var err error
		if v[i], err = strconv.ParseInt(strings.TrimSpace(s[f[0]:f[1]]), 10, 32); err != nil {
			return invalidf("history field %d: %v", i, err)
		}
		if i != 0 && (v[i] < 0 || v[i] > 0xFF) {
			return invalidf("history mask %d out of range", v[i])
		}
	}
	if v[0] < TempMin || v[0] > TempMax {
		return invalidf("history temperature %d outside [%d, %d]", v[0], TempMin, TempMax)
	}
	*h = History{LastTemp: int16(v[0]), Bad: uint8(v[1]), Weak: uint8(v[2]), Good: uint8(v[3])}
	return nil
}

// LoadHistory reads a History and validates it against the used lanes.
func LoadHistory(r io.Reader, used uint8) (History, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return History{}, fmt.Errorf("repair: reading history: %w", err)
	}
	var h History
	if err := h.UnmarshalText([]byte(line)); err != nil {
		return History{}, err
	}
	if err := h.Validate(used); err != nil {
		return History{}, err
	}
	return h, nil
}

// SaveHistory writes h.
func SaveHistory(w io.Writer, h History) error {
	b, _ := h.MarshalText()
	_, err := w.Write(b)
	return err
}

// LoadHistoryFile reads the History file at path.
//
// The returned error satisfies errors.Is(err, fs.ErrNotExist) if there is no
// such file.
func LoadHistoryFile(path string, used uint8) (History, error) {
	f, err := os.Open(path)
	if err != nil {
		return History{}, err
	}
	defer f.Close()
	return LoadHistory(f, used)
}

// SaveHistoryFile atomically replaces the History file at path.
func SaveHistoryFile(path string, h History) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := SaveHistory(f, h); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
