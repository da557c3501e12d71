// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/onewire"

	"github.com/simkemc/bitbang-onewire-driver/owgpio"
	"github.com/simkemc/bitbang-onewire-driver/owtrace"
)

var (
	traceOut  string
	traceTerm bool
	traceFont string
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Record a bus cycle and render the waveform",
	Long: `Record a bus cycle and render the waveform.

Runs a reset followed by a Read ROM command with the pin wrapped in a
recorder, then renders what happened on the wire as a PNG image (--out)
and/or a colored line in the terminal (--term).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if traceOut == "" && !traceTerm {
			return fmt.Errorf("nothing to do: pass --out and/or --term")
		}
		p, err := resolvePin()
		if err != nil {
			return err
		}
		clk := newClock()
		tp := owtrace.New(p, clk)
		b, err := openBus(tp, clk)
		if err != nil {
			return err
		}

		rom := make([]byte, 8)
		if err := b.Tx([]byte{owgpio.ReadROM}, rom, onewire.WeakPullup); err != nil {
			// Render what was recorded anyway; a failing cycle is
			// exactly when a trace is useful.
			log.Printf("bus cycle failed: %v", err)
		}

		if traceTerm {
			if err := owtrace.NewPrinter(nil).Print(tp.Events); err != nil {
				return err
			}
		}
		if traceOut != "" {
			opts := owtrace.DefaultRenderOpts
			if traceFont != "" {
				font, err := os.ReadFile(traceFont)
				if err != nil {
					return err
				}
				opts.Font = font
			}
			f, err := os.Create(traceOut)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := owtrace.RenderPNG(f, tp.Events, &opts); err != nil {
				return err
			}
			fmt.Printf("wrote %d events to %s\n", len(tp.Events), traceOut)
		}
		return nil
	},
}

func init() {
	traceCmd.Flags().StringVarP(&traceOut, "out", "o", "", "write the waveform as a PNG image to this file")
	traceCmd.Flags().BoolVar(&traceTerm, "term", false, "render the waveform in the terminal")
	traceCmd.Flags().StringVar(&traceFont, "font", "", "TrueType font file for image labels")
}
