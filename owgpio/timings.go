// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owgpio

import "time"

// Timings is the set of slot timing windows, named A through J in the
// Analog Devices application note on software 1-wire masters.
//
// A timing set is chosen when the device is created and stays fixed;
// standard and overdrive values must never be mixed within one bus cycle.
type Timings struct {
	WriteOneLow      time.Duration // A: write-1 drive-low window
	WriteOneRelease  time.Duration // B: write-1 released remainder of the slot
	WriteZeroLow     time.Duration // C: write-0 drive-low window
	WriteZeroRelease time.Duration // D: write-0 released remainder of the slot
	ReadRelease      time.Duration // E: released settle before sampling
	ReadSample       time.Duration // F: sample window
	ResetSettle      time.Duration // G: settle before driving the reset pulse
	ResetLow         time.Duration // H: reset drive-low hold
	ResetRelease     time.Duration // I: released settle before presence sampling
	ResetSample      time.Duration // J: presence sample window
}

// StandardTimings is the recommended standard-speed timing set.
var StandardTimings = Timings{
	WriteOneLow:      6 * time.Microsecond,
	WriteOneRelease:  64 * time.Microsecond,
	WriteZeroLow:     60 * time.Microsecond,
	WriteZeroRelease: 10 * time.Microsecond,
	ReadRelease:      9 * time.Microsecond,
	ReadSample:       55 * time.Microsecond,
	ResetSettle:      0,
	ResetLow:         480 * time.Microsecond,
	ResetRelease:     70 * time.Microsecond,
	ResetSample:      410 * time.Microsecond,
}

// OverdriveTimings is the recommended overdrive-speed timing set. It
// requires a sub-microsecond tick clock to resolve the shortest windows.
var OverdriveTimings = Timings{
	WriteOneLow:      1 * time.Microsecond,
	WriteOneRelease:  7500 * time.Nanosecond,
	WriteZeroLow:     7500 * time.Nanosecond,
	WriteZeroRelease: 2500 * time.Nanosecond,
	ReadRelease:      1 * time.Microsecond,
	ReadSample:       7 * time.Microsecond,
	ResetSettle:      2500 * time.Nanosecond,
	ResetLow:         70 * time.Microsecond,
	ResetRelease:     8500 * time.Nanosecond,
	ResetSample:      40 * time.Microsecond,
}

// ROM command opcodes for higher protocol layers. The driver itself is
// opcode-agnostic and only moves raw bytes.
const (
	SearchROM   byte = 0xf0
	ReadROM     byte = 0x33
	MatchROM    byte = 0x55
	SkipROM     byte = 0xcc
	AlarmSearch byte = 0xec
)
