// Copyright 2026 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/d2xx"

	"periph.io/x/rfxcvr/v3"
	"periph.io/x/rfxcvr/v3/config"
	"periph.io/x/rfxcvr/v3/repair"
)

// globals holds the persistent flags.
type globals struct {
	config string
	env    string
}

func rootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:   "jrxrepair",
		Short: "JESD receive lane health and VCM workaround",
		Long: `jrxrepair diagnoses the JESD204 deserializer lanes of the transceiver and,
when a lane's VCM common mode amplifier degraded, applies the workaround.

The board is described by a YAML file; see "jrxrepair config".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog reads its flags from the standard flag set.
			return flag.CommandLine.Parse(nil)
		},
	}
	cmd.PersistentFlags().StringVarP(&g.config, "config", "c", "", "board configuration file")
	cmd.PersistentFlags().StringVar(&g.env, "env", ".env", "environment override file")

	cmd.AddCommand(executeCmd(g))
	cmd.AddCommand(checkCmd(g))
	cmd.AddCommand(assessCmd(g))
	cmd.AddCommand(surveyCmd(g))
	cmd.AddCommand(initCmd(g))
	cmd.AddCommand(vcmFixCmd(g))
	cmd.AddCommand(historyCmd(g))
	cmd.AddCommand(configCmd(g))
	cmd.AddCommand(probeCmd())
	return cmd
}

func (g *globals) load() (*config.Board, error) {
	return config.Load(g.config, g.env)
}

// open loads the configuration and opens the board; the caller must close
// it.
func (g *globals) open() (*rfxcvr.Board, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return rfxcvr.Open(cfg)
}

// withBoard runs fn on the opened board.
func (g *globals) withBoard(fn func(b *rfxcvr.Board) error) error {
	b, err := g.open()
	if err != nil {
		return err
	}
	err = fn(b)
	if err2 := b.Close(); err == nil {
		err = err2
	}
	return err
}

func executeCmd(g *globals) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run a repair cycle",
		Long: `Run a repair cycle: check the history and the temperature, survey the lanes
when a VCM defect is suspected, apply the workaround and verify the link.

The history is persisted when the cycle succeeded or found no new errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withBoard(func(b *rfxcvr.Board) error {
				if mode != "" {
					b.Config.Repair.Mode = mode
				}
				rep, err := b.Execute()
				if rep != nil {
					printReport(cmd.OutOrStdout(), rep, err)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "normal or fast; overrides the configuration")
	return cmd
}

func checkCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Tell whether a repair cycle would run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withBoard(func(b *rfxcvr.Board) error {
				c, err := b.Repair.HistoryCheck()
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%s %s\n", label(c.Result), c.Result)
				fmt.Fprintf(w, "temperature: %d°C\n", c.Temp)
				fmt.Fprintf(w, "history:     %s\n", b.Repair.History)
				fmt.Fprintf(w, "state:       %s\n", b.State)
				return nil
			})
		},
	}
}

func assessCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "assess",
		Short: "Report the lanes with link errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withBoard(func(b *rfxcvr.Board) error {
				bad, err := b.Repair.LaneAssess()
				if err != nil {
					return err
				}
				printLanes(cmd.OutOrStdout(), b.Repair.UsedLanes(), bad)
				return nil
			})
		},
	}
}

func surveyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "survey",
		Short: "Run a bias survey and print the lane scores",
		Long: `Run a bias survey and print the lane scores. The bias is restored and the
history is not modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withBoard(func(b *rfxcvr.Board) (err error) {
				s, err := b.Repair.Enter()
				if err != nil {
					return err
				}
				defer func() {
					if err2 := b.Repair.Exit(s); err == nil {
						err = err2
					}
				}()
				h := b.Repair.History
				sv, err := b.Repair.BiasSurvey(&h)
				if err != nil {
					return err
				}
				printSurvey(cmd.OutOrStdout(), b.Repair.UsedLanes(), sv, h)
				return nil
			})
		},
	}
}

func initCmd(g *globals) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Run the start up sequence",
		Long: `Read the factory screening bit then enable the workaround on every used lane
for the parts selected by the scope: none, all or nonscreened.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withBoard(func(b *rfxcvr.Board) error {
				if scope != "" {
					b.Config.Repair.Init = scope
				}
				if err := b.Initialization(); err != nil {
					return err
				}
				scr, _ := b.State.Screened()
				fmt.Fprintf(cmd.OutOrStdout(), "%s screened:%t repaired:%t\n", okLabel, scr, b.State.JrxRepaired())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&scope, "scope", "s", "", "none, all or nonscreened; overrides the configuration")
	return cmd
}

func vcmFixCmd(g *globals) *cobra.Command {
	var lanes string
	var disable bool
	cmd := &cobra.Command{
		Use:   "vcmfix",
		Short: "Apply or remove the VCM workaround",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withBoard(func(b *rfxcvr.Board) error {
				mask := b.Repair.UsedLanes()
				if lanes != "" {
					v, err := strconv.ParseUint(lanes, 0, 8)
					if err != nil {
						return fmt.Errorf("invalid --lanes: %w", err)
					}
					mask = uint8(v)
				}
				if err := b.Repair.VcmLanesFix(mask, !disable); err != nil {
					return err
				}
				if _, err := b.Repair.FastAttackRun(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s lanes 0x%02X repaired:%t\n", okLabel, mask, b.State.JrxRepaired())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&lanes, "lanes", "l", "", "lane mask; defaults to the used lanes")
	cmd.Flags().BoolVarP(&disable, "disable", "d", false, "remove the workaround")
	return cmd
}

func historyCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or reset the persisted history",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withHistory(func(s rfxcvr.HistoryStore, used uint8) error {
				h, err := s.Load(used)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), h)
				return nil
			})
		},
	})
	var limit int
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Print the journal of repair attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withHistory(func(s rfxcvr.HistoryStore, used uint8) error {
				all, err := rfxcvr.Attempts(s, limit)
				if err != nil {
					return err
				}
				for _, a := range all {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", label(a.Result), a)
				}
				return nil
			})
		},
	}
	logCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of attempts, 0 for all")
	cmd.AddCommand(logCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the persisted history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withHistory(func(s rfxcvr.HistoryStore, used uint8) error {
				h := repair.DefaultHistory(used)
				if err := s.Save(h); err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), h)
				return nil
			})
		},
	})
	return cmd
}

// withHistory runs fn on the history store without opening the hardware.
func (g *globals) withHistory(fn func(s rfxcvr.HistoryStore, used uint8) error) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	link, err := cfg.LinkConfig()
	if err != nil {
		return err
	}
	s, err := rfxcvr.OpenHistory(&cfg.History)
	if err != nil {
		return err
	}
	err = fn(s, link.UsedLanes())
	if err2 := s.Close(); err == nil {
		err = err2
	}
	return err
}

func configCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective board configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			return cfg.Encode(cmd.OutOrStdout())
		},
	}
}

func probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "List the SPI ports and the FTDI driver availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := rfxcvr.Init()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			printDrivers(w, state)
			if d2xx.Available {
				major, minor, build := d2xx.Version()
				fmt.Fprintf(w, "d2xx: %d.%d.%d\n", major, minor, build)
			} else {
				fmt.Fprintf(w, "d2xx: not available\n")
			}
			ports := spireg.All()
			if len(ports) == 0 {
				return errors.New("no SPI port found")
			}
			for _, p := range ports {
				fmt.Fprintf(w, "%s", p.Name)
				if p.Number != -1 {
					fmt.Fprintf(w, " #%d", p.Number)
				}
				for _, a := range p.Aliases {
					fmt.Fprintf(w, " %s", a)
				}
				io.WriteString(w, "\n")
			}
			return nil
		},
	}
}
