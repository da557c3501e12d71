// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owgpio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/onewire"
)

// BusOpts contains options to pass to NewBus.
type BusOpts struct {
	// Yield is called between polls of the underlying driver, ceding the
	// goroutine while a timing window elapses. Defaults to sleeping one
	// tick period.
	Yield func()
	// Timeout bounds each bus operation. If the driver does not return
	// to idle within it, the transaction fails. Defaults to 10ms, which
	// comfortably covers a full reset cycle at standard speed.
	Timeout time.Duration
}

// NewBus wraps a master-mode driver into a blocking onewire.Bus.
//
// The adapter pumps Process in a loop for each transaction, so the driver
// must not be polled by anyone else while the bus is in use. Device drivers
// written against onewire.Bus, such as a DS18B20 driver, run over it
// unchanged.
func NewBus(d *Dev, opts *BusOpts) (*Bus, error) {
	if d.Mode() != Master {
		return nil, errors.New("owgpio: bus adapter requires a master-mode driver")
	}
	b := &Bus{d: d, timeout: 10 * time.Millisecond}
	b.yield = func() { sleep(d.period) }
	if opts != nil {
		if opts.Yield != nil {
			b.yield = opts.Yield
		}
		if opts.Timeout > 0 {
			b.timeout = opts.Timeout
		}
	}
	return b, nil
}

// Bus is a blocking onewire.Bus built on the polled driver.
//
// Errors on the 1-wire bus itself (no presence pulse) implement the
// onewire.BusError and onewire.NoDevicesError marker interfaces; errors of
// the driver or its pin are returned as-is and leave the driver in its
// latched error state.
type Bus struct {
	mu      sync.Mutex // lock for the bus while a transaction is in progress
	d       *Dev
	yield   func()
	timeout time.Duration
	strong  bool // line is currently driven high for parasitic power
}

func (b *Bus) String() string {
	return fmt.Sprintf("onewire-%s", b.d)
}

// Halt implements conn.Resource. It releases the bus line.
func (b *Bus) Halt() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.strong = false
	return b.d.Halt()
}

// Tx performs a bus transaction: reset and presence check, transmission of
// w, then reception into r.
//
// With power set to onewire.StrongPullup the line is driven high push-pull
// after the last byte instead of being released, supplying parasitically
// powered devices. The strong pull-up is dropped at the start of the next
// transaction.
func (b *Bus) Tx(w, r []byte, power onewire.Pullup) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.reset(); err != nil {
		return err
	}
	for _, v := range w {
		b.d.WriteByte(v)
		if err := b.pump(); err != nil {
			return err
		}
	}
	for i := range r {
		b.d.ReadByte()
		if err := b.pump(); err != nil {
			return err
		}
		r[i] = b.d.GetByte()
	}
	if power == onewire.StrongPullup {
		if err := b.d.p.Out(gpio.High); err != nil {
			return fmt.Errorf("owgpio: failed to engage strong pull-up: %w", err)
		}
		b.strong = true
	}
	return nil
}

// Search performs a device search on the bus and returns the addresses of
// all devices if alarmOnly is false, or of the devices in alarm state if
// alarmOnly is true.
func (b *Bus) Search(alarmOnly bool) ([]onewire.Address, error) {
	return onewire.Search(b, alarmOnly)
}

// SearchTriplet performs the two bit reads and one bit write of a single
// search step and returns the outcome.
//
// SearchTriplet should not be used directly, use Search instead.
func (b *Bus) SearchTriplet(direction byte) (onewire.TripletResult, error) {
	var tr onewire.TripletResult
	idBit, err := b.readBit()
	if err != nil {
		return tr, err
	}
	cmpBit, err := b.readBit()
	if err != nil {
		return tr, err
	}
	tr.GotZero = idBit == gpio.Low
	tr.GotOne = cmpBit == gpio.Low
	switch {
	case tr.GotZero && !tr.GotOne:
		tr.Taken = 0
	case tr.GotOne && !tr.GotZero:
		tr.Taken = 1
	default:
		// Discrepancy, or no device answered: take the requested branch.
		if direction != 0 {
			tr.Taken = 1
		}
	}
	if err := b.writeBit(tr.Taken); err != nil {
		return tr, err
	}
	return tr, nil
}

// reset issues a reset cycle and checks for a presence pulse.
func (b *Bus) reset() error {
	if b.strong {
		// Drop the strong pull-up before driving the line.
		b.strong = false
		if err := b.d.p.In(gpio.PullUp, gpio.NoEdge); err != nil {
			return fmt.Errorf("owgpio: failed to release strong pull-up: %w", err)
		}
	}
	b.d.Reset()
	if err := b.pump(); err != nil {
		return err
	}
	if !b.d.Presence() {
		return noDevicesError("owgpio: no devices on the bus")
	}
	return nil
}

func (b *Bus) readBit() (gpio.Level, error) {
	b.d.ReadBit()
	if err := b.pump(); err != nil {
		return gpio.High, err
	}
	return gpio.Level(b.d.GetByte()&1 != 0), nil
}

func (b *Bus) writeBit(bit byte) error {
	b.d.WriteBit(gpio.Level(bit != 0))
	return b.pump()
}

// pump polls the driver until the current operation completes. The timeout
// is measured on the driver's own clock so a wedged line turns into an
// error instead of an endless loop.
func (b *Bus) pump() error {
	deadline := b.d.clock.Ticks() + b.d.ticks(b.timeout)
	for !b.d.Idle() {
		if err := b.d.Err(); err != nil {
			return err
		}
		if b.d.clock.Ticks() >= deadline {
			return fmt.Errorf("owgpio: timeout waiting for bus cycle to finish")
		}
		b.d.Process()
		b.yield()
	}
	return b.d.Err()
}

var sleep = time.Sleep

var _ onewire.Bus = &Bus{}
var _ onewire.BusSearcher = &Bus{}
