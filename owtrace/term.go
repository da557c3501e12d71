// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owtrace

import (
	"bytes"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
)

// PrinterOpts contains options for the terminal renderer.
type PrinterOpts struct {
	// Width is the number of cells the timeline is squeezed into.
	// Defaults to 80.
	Width int
	// Palette maps colors to ANSI codes. Defaults to ansi256.Default.
	Palette *ansi256.Palette
	// Writer receives the output. Defaults to a colorable stdout.
	Writer io.Writer
}

// Printer renders a recorded timeline as one row of colored terminal
// cells: green while the line is high, red while the master holds it low,
// with bright cells where the line was sampled.
type Printer struct {
	w       io.Writer
	palette ansi256.Palette
	width   int

	buf bytes.Buffer
}

// NewPrinter returns a Printer that renders at the console.
func NewPrinter(opts *PrinterOpts) *Printer {
	if opts == nil {
		opts = &PrinterOpts{}
	}
	p := &Printer{
		w:       opts.Writer,
		palette: *ansi256.Default,
		width:   opts.Width,
	}
	if p.w == nil {
		p.w = colorable.NewColorableStdout()
	}
	if opts.Palette != nil {
		p.palette = *opts.Palette
	}
	if p.width <= 0 {
		p.width = 80
	}
	return p
}

// Print renders the recording as a single line followed by a color reset.
func (p *Printer) Print(events []Event) error {
	p.buf.Reset()
	p.buf.WriteString("\033[0m")
	if len(events) == 0 {
		p.buf.WriteString("(no events recorded)\n")
		_, err := p.buf.WriteTo(p.w)
		return err
	}

	t0 := events[0].T
	span := events[len(events)-1].T - t0
	if span == 0 {
		span = 1
	}
	cell := func(t uint64) int {
		c := int(uint64(p.width-1) * (t - t0) / span)
		return c
	}

	// One color per cell: the line level at the start of the cell, with
	// sampled cells brightened.
	levels := make([]bool, p.width)
	sampled := make([]bool, p.width)
	for i := range levels {
		levels[i] = true
	}
	high := true
	prev := 0
	for i, ev := range events {
		c := cell(ev.T)
		for j := prev; j <= c; j++ {
			levels[j] = high
		}
		prev = c
		switch ev.Kind {
		case Sample:
			sampled[c] = true
			levels[c] = bool(ev.Level)
		default:
			high = bool(levelAt(events, i))
			levels[c] = high
		}
	}
	for j := prev; j < p.width; j++ {
		levels[j] = high
	}

	for i := 0; i < p.width; i++ {
		var c color.NRGBA
		switch {
		case sampled[i] && levels[i]:
			c = color.NRGBA{0, 255, 0, 255}
		case sampled[i]:
			c = color.NRGBA{255, 64, 0, 255}
		case levels[i]:
			c = color.NRGBA{0, 128, 0, 255}
		default:
			c = color.NRGBA{128, 0, 0, 255}
		}
		p.buf.WriteString(p.palette.Block(c))
	}
	p.buf.WriteString("\033[0m\n")
	_, err := p.buf.WriteTo(p.w)
	return err
}
