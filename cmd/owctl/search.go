// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/onewire"

	"github.com/simkemc/bitbang-onewire-driver/owcrc"
	"github.com/simkemc/bitbang-onewire-driver/owgpio"
)

var alarmOnly bool

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List the ROM IDs of all devices on the bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolvePin()
		if err != nil {
			return err
		}
		b, err := openBus(p, newClock())
		if err != nil {
			return err
		}
		addrs, err := b.Search(alarmOnly)
		if err != nil {
			return err
		}
		for _, a := range addrs {
			fmt.Printf("%#016x  family %#02x\n", uint64(a), byte(a))
		}
		if len(addrs) == 0 {
			fmt.Println("no devices found")
		}
		return nil
	},
}

var readROMCmd = &cobra.Command{
	Use:   "readrom",
	Short: "Read the ROM ID of the single device on the bus",
	Long: `Read the ROM ID of the single device on the bus.

The Read ROM command only works with exactly one device attached; with more
than one the responses collide and the CRC check fails. Use search instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := resolvePin()
		if err != nil {
			return err
		}
		b, err := openBus(p, newClock())
		if err != nil {
			return err
		}
		rom := make([]byte, 8)
		if err := b.Tx([]byte{owgpio.ReadROM}, rom, onewire.WeakPullup); err != nil {
			return err
		}
		if !owcrc.CheckROM(rom) {
			return fmt.Errorf("ROM %x failed its CRC check (more than one device on the bus?)", rom)
		}
		fmt.Printf("family %#02x serial %012x crc %#02x\n", rom[0], rom[1:7], rom[7])
		return nil
	},
}

func init() {
	searchCmd.Flags().BoolVar(&alarmOnly, "alarm", false, "list only devices in alarm state")
}
