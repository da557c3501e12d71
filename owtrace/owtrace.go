// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owtrace records the bus actions of a 1-wire GPIO line and renders
// the recorded timeline as a waveform, either as a PNG image or as ANSI
// colored cells in a terminal.
//
// Useful when bringing up a new bus: wrap the pin before handing it to the
// driver, run a transaction, then render what actually happened on the wire.
package owtrace

import (
	"periph.io/x/conn/v3/gpio"

	"github.com/simkemc/bitbang-onewire-driver/owgpio"
)

// Kind classifies a recorded bus action.
type Kind uint8

const (
	// Drive is the master driving the line; Level holds the driven level.
	// A drive to high is a strong pull-up.
	Drive Kind = iota
	// Release is the master floating the line; the pull-up takes it high.
	Release
	// Sample is the master reading the line; Level holds what it saw.
	Sample
)

func (k Kind) String() string {
	switch k {
	case Drive:
		return "drive"
	case Release:
		return "release"
	case Sample:
		return "sample"
	default:
		return "unknown"
	}
}

// Event is one recorded bus action.
type Event struct {
	T     uint64 // tick at which the action happened
	Kind  Kind
	Level gpio.Level
}

// New returns a Pin recording every bus action performed through it.
//
// Timestamps come from c, which should be the same clock the driver runs
// on so the recording lines up with the protocol windows. With a nil clock
// events are numbered sequentially instead.
func New(p gpio.PinIO, c owgpio.Clock) *Pin {
	return &Pin{PinIO: p, clock: c}
}

// Pin wraps a gpio.PinIO and records drives, releases and samples. All
// other pin behavior passes through unchanged.
//
// Pin is not safe for concurrent use, matching the single-context contract
// of the driver it observes.
type Pin struct {
	gpio.PinIO
	clock owgpio.Clock
	seq   uint64

	// Events is the recording so far, in bus order.
	Events []Event
}

func (p *Pin) Out(l gpio.Level) error {
	p.record(Drive, l)
	return p.PinIO.Out(l)
}

func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.record(Release, gpio.High)
	return p.PinIO.In(pull, edge)
}

func (p *Pin) Read() gpio.Level {
	l := p.PinIO.Read()
	p.record(Sample, l)
	return l
}

// Clear discards the recording.
func (p *Pin) Clear() {
	p.Events = nil
}

func (p *Pin) record(k Kind, l gpio.Level) {
	t := p.seq
	if p.clock != nil {
		t = p.clock.Ticks()
	} else {
		p.seq++
	}
	p.Events = append(p.Events, Event{T: t, Kind: k, Level: l})
}

// levelAt replays events up to and including index i and returns the line
// level the master has set. Sample events do not change the level.
func levelAt(events []Event, i int) gpio.Level {
	l := gpio.High
	for _, ev := range events[:i+1] {
		switch ev.Kind {
		case Drive:
			l = ev.Level
		case Release:
			l = gpio.High
		}
	}
	return l
}

var _ gpio.PinIO = &Pin{}
