// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// owctl is a command line utility for 1-wire buses bit-banged on a GPIO
// line: device search, ROM reads and wire-level tracing.
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/simkemc/bitbang-onewire-driver/owgpio"
)

var (
	pinName   string
	overdrive bool
)

var rootCmd = &cobra.Command{
	Use:   "owctl",
	Short: "1-wire utility for GPIO bit-banged buses",
	Long: `owctl drives a 1-wire bus over a plain GPIO line.

The data line must be wired open-drain with a pull-up resistor (typically
4.7kΩ to 3.3V) and named by --pin, for example GPIO4 on a Raspberry Pi.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&pinName, "pin", "p", "", "GPIO pin the bus data line is wired to (name or number)")
	rootCmd.PersistentFlags().BoolVar(&overdrive, "overdrive", false, "use overdrive timing (every device on the bus must support it)")
	rootCmd.AddCommand(searchCmd, readROMCmd, traceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// tickClock is a wall clock tick counter shared between the driver and the
// tracer so recordings line up with the protocol windows.
type tickClock struct {
	epoch  time.Time
	period time.Duration
}

func (c *tickClock) Ticks() uint64 {
	return uint64(time.Since(c.epoch) / c.period)
}

// newClock returns a tick clock fine enough for the selected timing set.
func newClock() *tickClock {
	period := time.Microsecond
	if overdrive {
		period = 100 * time.Nanosecond
	}
	return &tickClock{epoch: time.Now(), period: period}
}

func resolvePin() (gpio.PinIO, error) {
	if pinName == "" {
		return nil, errors.New("--pin is required")
	}
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	p := gpioreg.ByName(pinName)
	if p == nil {
		return nil, fmt.Errorf("no such pin %q", pinName)
	}
	return p, nil
}

func openBus(p gpio.PinIO, clk *tickClock) (*owgpio.Bus, error) {
	opts := owgpio.DefaultOpts
	opts.Clock = clk
	opts.TickPeriod = clk.period
	if overdrive {
		opts.Timings = &owgpio.OverdriveTimings
	}
	d, err := owgpio.New(p, &opts)
	if err != nil {
		return nil, err
	}
	return owgpio.NewBus(d, nil)
}
