// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owtrace

import (
	"fmt"
	"image"
	"io"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// RenderOpts contains options for the waveform renderers.
type RenderOpts struct {
	// Width and Height of the image in pixels.
	Width  int
	Height int
	// Font optionally holds TrueType font bytes for the axis labels.
	// When nil a builtin bitmap face is used.
	Font []byte
	// FontSize in points, only used with Font. Defaults to 12.
	FontSize float64
}

// DefaultRenderOpts is the recommended default options.
var DefaultRenderOpts = RenderOpts{
	Width:  1024,
	Height: 192,
}

// Render draws the recorded timeline as a waveform image: the line level
// as a step trace, sample points as dots colored by the level they saw.
func Render(events []Event, opts *RenderOpts) (image.Image, error) {
	dc, err := draw(events, opts)
	if err != nil {
		return nil, err
	}
	return dc.Image(), nil
}

// RenderPNG renders the timeline like Render and PNG-encodes it to w.
func RenderPNG(w io.Writer, events []Event, opts *RenderOpts) error {
	dc, err := draw(events, opts)
	if err != nil {
		return err
	}
	return dc.EncodePNG(w)
}

func draw(events []Event, opts *RenderOpts) (*gg.Context, error) {
	if opts == nil {
		opts = &DefaultRenderOpts
	}
	width := opts.Width
	if width <= 0 {
		width = DefaultRenderOpts.Width
	}
	height := opts.Height
	if height <= 0 {
		height = DefaultRenderOpts.Height
	}

	face, err := makeFace(opts)
	if err != nil {
		return nil, err
	}

	dc := gg.NewContext(width, height)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetFontFace(face)

	const margin = 24.0
	yHigh := margin
	yLow := float64(height) - 2*margin
	left := margin
	right := float64(width) - margin

	// Faint guides for the two logic levels.
	dc.SetRGBA(0, 0, 0, 0.15)
	dc.SetLineWidth(1)
	dc.DrawLine(left, yHigh, right, yHigh)
	dc.DrawLine(left, yLow, right, yLow)
	dc.Stroke()

	if len(events) == 0 {
		dc.SetRGB(0, 0, 0)
		dc.DrawString("no events recorded", left, float64(height)-margin/2)
		return dc, nil
	}

	t0 := events[0].T
	t1 := events[len(events)-1].T
	span := t1 - t0
	if span == 0 {
		span = 1
	}
	x := func(t uint64) float64 {
		return left + (right-left)*float64(t-t0)/float64(span)
	}
	y := func(high bool) float64 {
		if high {
			return yHigh
		}
		return yLow
	}

	// Step trace of the line level as set by the master. The recording
	// starts with the line released.
	dc.SetRGB(0.1, 0.3, 0.8)
	dc.SetLineWidth(2)
	high := true
	dc.MoveTo(x(t0), y(high))
	for i, ev := range events {
		if ev.Kind == Sample {
			continue
		}
		next := bool(levelAt(events, i))
		if next != high {
			dc.LineTo(x(ev.T), y(high))
			dc.LineTo(x(ev.T), y(next))
			high = next
		}
	}
	dc.LineTo(x(t1), y(high))
	dc.Stroke()

	// Sample markers, colored by the level they observed.
	for _, ev := range events {
		if ev.Kind != Sample {
			continue
		}
		if ev.Level {
			dc.SetRGB(0.1, 0.6, 0.1)
		} else {
			dc.SetRGB(0.8, 0.2, 0.1)
		}
		dc.DrawCircle(x(ev.T), y(bool(ev.Level)), 3)
		dc.Fill()
	}

	dc.SetRGB(0, 0, 0)
	dc.DrawString(fmt.Sprintf("tick %d", t0), left, float64(height)-margin/2)
	end := fmt.Sprintf("tick %d", t1)
	ew, _ := dc.MeasureString(end)
	dc.DrawString(end, right-ew, float64(height)-margin/2)
	return dc, nil
}

func makeFace(opts *RenderOpts) (font.Face, error) {
	if opts.Font == nil {
		return basicfont.Face7x13, nil
	}
	f, err := truetype.Parse(opts.Font)
	if err != nil {
		return nil, fmt.Errorf("owtrace: failed to parse font: %w", err)
	}
	size := opts.FontSize
	if size <= 0 {
		size = 12
	}
	return truetype.NewFace(f, &truetype.Options{Size: size}), nil
}
