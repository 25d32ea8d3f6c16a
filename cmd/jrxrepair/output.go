// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"periph.io/x/conn/v3/driver/driverreg"

	"periph.io/x/rfxcvr/v3/jesd"
	"periph.io/x/rfxcvr/v3/repair"
)

var (
	okLabel   = color.New(color.FgGreen).Sprint("OK  ")
	skipLabel = color.New(color.FgYellow).Sprint("SKIP")
	failLabel = color.New(color.FgRed, color.Bold).Sprint("FAIL")
)

// label returns the colored outcome of a check result.
func label(r repair.CheckResult) string {
	switch {
	case r&repair.UnknownError != 0:
		return failLabel
	case r&(repair.Screened|repair.SwcAlreadyEnabled|repair.TempGtLast) != 0:
		return skipLabel
	default:
		return okLabel
	}
}

func printReport(w io.Writer, rep *repair.Report, err error) {
	l := label(rep.Result)
	if err != nil && !errors.Is(err, repair.ErrNotApplicable) {
		l = failLabel
	}
	fmt.Fprintf(w, "%s %s\n", l, rep.Result)
	fmt.Fprintf(w, "temperature: %d°C\n", rep.Temp)
	printHistory(w, rep.History)
	if rep.Survey != nil {
		printScores(w, rep.History.Good|rep.History.Weak|rep.History.Bad, rep.Survey)
	}
	if f := rep.Test.Failing(); f != 0 {
		fmt.Fprintf(w, "failing lanes after repair: 0x%02X\n", f)
	}
}

func printHistory(w io.Writer, h repair.History) {
	fmt.Fprintf(w, "last validated at %d°C\n", h.LastTemp)
	fmt.Fprintf(w, "  good 0x%02X\n", h.Good)
	fmt.Fprintf(w, "  weak %s\n", color.YellowString("0x%02X", h.Weak))
	fmt.Fprintf(w, "  bad  %s\n", color.RedString("0x%02X", h.Bad))
}

func printLanes(w io.Writer, used, bad uint8) {
	for _, l := range jesd.Lanes(used) {
		s := okLabel
		if bad&(1<<uint(l)) != 0 {
			s = failLabel
		}
		fmt.Fprintf(w, "%s lane %d\n", s, l)
	}
}

func printSurvey(w io.Writer, used uint8, s *repair.Survey, h repair.History) {
	printScores(w, used, s)
	printHistory(w, h)
}

func printScores(w io.Writer, used uint8, s *repair.Survey) {
	sc := s.Scores()
	fmt.Fprintf(w, "bias %d..%d, default %d", s.Bias.Min, s.Bias.Max, s.Bias.Default)
	if s.Skipped {
		fmt.Fprintf(w, " (factory calibration reused)")
	}
	io.WriteString(w, "\n")
	for _, l := range jesd.Lanes(used) {
		fmt.Fprintf(w, "  lane %d score %0*b\n", l, s.Bias.Steps(), sc[l])
	}
}

func printDrivers(w io.Writer, s *driverreg.State) {
	var names []string
	for _, d := range s.Loaded {
		names = append(names, d.String())
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "%s driver %s\n", okLabel, n)
	}
	for _, f := range s.Failed {
		fmt.Fprintf(w, "%s driver %s: %v\n", failLabel, f.D, f.Err)
	}
}

// exitCode maps the outcome to the process exit code: 2 when the repair was
// not applicable, 3 when the rollback failed, 1 otherwise.
func exitCode(err error) int {
	var rb *repair.RollbackError
	switch {
	case errors.As(err, &rb):
		return 3
	case errors.Is(err, repair.ErrNotApplicable):
		return 2
	default:
		return 1
	}
}
