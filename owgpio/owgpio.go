// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owgpio drives a 1-wire bus master over a single GPIO line without
// busy-waiting.
//
// The driver is a polled state machine: each call to Process advances it by
// at most one timing phase, so a cooperative scheduler can interleave other
// work between the microsecond windows of the protocol. Timing is resolved
// against a free-running tick counter rather than time.Sleep.
//
// The line must be wired open-drain style: an external pull-up (or the pin's
// own pull-up) holds it high, and the driver only ever drives it low or
// releases it. See https://www.analog.com/en/resources/technical-articles/1wire-communication-through-software.html
// for the protocol timing windows implemented here.
package owgpio

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// Clock is a free-running monotonic tick counter.
//
// The driver computes all phase deadlines from it; the tick-to-time
// conversion is given by Opts.TickPeriod. The counter must never go
// backwards and must tick fast enough to resolve the shortest protocol
// window (6µs at standard speed, 1µs in overdrive).
type Clock interface {
	Ticks() uint64
}

// OperatingMode selects whether the driver acts as the bus master or as a
// slave device.
type OperatingMode int

const (
	// Master drives reset, write and read slots on the bus.
	Master OperatingMode = iota
	// Slave is a declared extension point; no slave behavior is
	// implemented and every operation in this mode fails.
	Slave
)

// Opts contains options to pass to the constructor.
type Opts struct {
	// Timings selects the slot timing set. Defaults to StandardTimings.
	// The set is fixed for the lifetime of the device; standard and
	// overdrive windows must never be mixed on one bus cycle.
	Timings *Timings
	// Clock supplies ticks for deadline computation. Defaults to a
	// time.Now based counter at TickPeriod resolution.
	Clock Clock
	// TickPeriod is the duration of one Clock tick. Defaults to 1µs.
	TickPeriod time.Duration
	// Mode selects master or slave operation. Defaults to Master.
	Mode OperatingMode
}

// DefaultOpts is the recommended default options.
var DefaultOpts = Opts{
	Timings:    &StandardTimings,
	TickPeriod: time.Microsecond,
}

// New returns a driver bound to the given GPIO line.
//
// The line's electrical mode (open-drain or pull-up wiring) must already be
// arranged by the caller; New only places the line in the released state.
// One Dev must be created per physical bus line and each Dev must be polled
// from a single goroutine.
func New(p gpio.PinIO, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	t := opts.Timings
	if t == nil {
		t = &StandardTimings
	}
	period := opts.TickPeriod
	if period <= 0 {
		period = time.Microsecond
	}
	c := opts.Clock
	if c == nil {
		c = &wallClock{epoch: time.Now(), period: period}
	}
	d := &Dev{p: p, t: *t, clock: c, period: period, mode: opts.Mode}
	if err := d.Reinit(); err != nil {
		return nil, fmt.Errorf("owgpio: failed to release bus: %w", err)
	}
	return d, nil
}

// Dev is a 1-wire bus master state machine on a single GPIO line.
//
// Dev implements a latched error model: a missing presence pulse, a pin
// failure or an invalid internal state records an error which Err returns
// until it is cleared. Pin failures and invalid states are terminal; only
// Reinit recovers from them. A missing presence pulse is cleared by the
// next Reset, since re-running the reset is the caller's retry path.
//
// All methods must be called from a single goroutine per instance.
type Dev struct {
	p      gpio.PinIO
	t      Timings
	clock  Clock
	period time.Duration
	mode   OperatingMode

	state    state
	slave    slaveState
	tx       byte       // byte being transmitted, LSB first
	rx       byte       // byte being assembled from the bus
	bitIndex uint8      // position within the current operation
	opBits   uint8      // bits in the current operation, 1 or 8
	sampled  gpio.Level // level latched during the current read window
	stamp    uint64     // tick at which the current phase began
	flags    flag
	err      error // latched error
}

func (d *Dev) String() string {
	return fmt.Sprintf("OWGPIO{%s}", d.p)
}

// Halt implements conn.Resource. It releases the bus.
func (d *Dev) Halt() error {
	return d.p.In(gpio.PullUp, gpio.NoEdge)
}

// Reinit returns the driver to its freshly initialized state: idle, buffers
// and flags cleared, latched error discarded, bus released.
//
// It is the only recovery from the terminal error state. Reinitializing
// while a peer device is mid-protocol leaves the peer desynchronized; the
// caller is responsible for not doing that.
func (d *Dev) Reinit() error {
	d.state = stateIdle
	d.slave = slaveIdle
	d.tx = 0
	d.rx = 0
	d.bitIndex = 0
	d.opBits = 8
	d.sampled = gpio.High
	d.stamp = d.clock.Ticks()
	d.flags = 0
	d.err = nil
	return d.p.In(gpio.PullUp, gpio.NoEdge)
}

// Reset begins the reset / presence-detection sequence.
//
// The sequence runs to completion over subsequent Process calls. Once the
// driver is idle again, Presence reports whether any device answered with a
// presence pulse; if none did, Err reports an error implementing
// onewire.NoDevicesError. Starting a new Reset clears a previous
// no-devices error.
func (d *Dev) Reset() {
	if !d.startable() {
		return
	}
	if _, ok := d.err.(noDevicesError); ok {
		d.err = nil
	}
	d.flags &^= flagPresence
	d.setState(stateResetInit)
}

// WriteByte begins transmitting v, least significant bit first.
//
// The transmission runs over subsequent Process calls; ByteSent latches
// once all 8 bits are on the wire. Behavior is undefined if another
// operation is still in progress; check Idle first.
func (d *Dev) WriteByte(v byte) {
	if !d.startable() {
		return
	}
	d.writeBits(v, 8)
}

// WriteBit begins transmitting a single bit slot.
func (d *Dev) WriteBit(l gpio.Level) {
	if !d.startable() {
		return
	}
	var v byte
	if l {
		v = 1
	}
	d.writeBits(v, 1)
}

// ReadByte begins receiving 8 bits, least significant bit first.
//
// ByteAvailable latches once the byte is assembled; GetByte consumes it.
func (d *Dev) ReadByte() {
	if !d.startable() {
		return
	}
	d.readBits(8)
}

// ReadBit begins receiving a single bit slot. The result is delivered
// through the same latch as ReadByte: once ByteAvailable reports true,
// GetByte returns 0 or 1.
func (d *Dev) ReadBit() {
	if !d.startable() {
		return
	}
	d.readBits(1)
}

// ByteAvailable reports whether a completed read is waiting to be consumed.
func (d *Dev) ByteAvailable() bool {
	return d.flags&flagByteReceived != 0
}

// GetByte returns the last assembled byte and clears the byte-received
// latch, so a completed read is delivered exactly once. The returned value
// is stale if ByteAvailable was false.
func (d *Dev) GetByte() byte {
	d.flags &^= flagByteReceived
	return d.rx
}

// ByteSent reports whether the last started transmission has completed. The
// latch is cleared when a new write begins.
func (d *Dev) ByteSent() bool {
	return d.flags&flagByteSent != 0
}

// Presence reports whether a device answered the last reset sequence with a
// presence pulse.
func (d *Dev) Presence() bool {
	return d.flags&flagPresence != 0
}

// Idle reports whether no operation is in progress. Callers must not start
// a new operation before the previous one finished.
func (d *Dev) Idle() bool {
	return d.state == stateIdle
}

// Err returns the latched error, or nil if the error flag is clear.
func (d *Dev) Err() error {
	return d.err
}

// Mode returns the operating mode the driver was created with.
func (d *Dev) Mode() OperatingMode {
	return d.mode
}

// Process advances the state machine by at most one transition.
//
// It never blocks: a phase whose deadline has not elapsed performs no bus
// action and returns immediately. Process must be called often enough to
// resolve the shortest timing window of the selected Timings. Calling it
// while idle is a no-op.
func (d *Dev) Process() {
	if d.mode == Slave {
		d.processSlave()
		return
	}
	switch d.state {
	case stateIdle, stateError:
		// No deadline pending.

	case stateResetInit:
		if d.expired(d.t.ResetSettle) {
			d.setState(stateResetDriveLow)
			d.pullLow()
		}
	case stateResetDriveLow:
		if d.expired(d.t.ResetLow) {
			d.setState(stateResetRelease)
			d.release()
		}
	case stateResetRelease:
		if d.expired(d.t.ResetRelease) {
			d.setState(stateResetSample)
			d.flags &^= flagPresence
		}
	case stateResetSample:
		if !d.expired(d.t.ResetSample) {
			// Any low sample inside the window latches presence;
			// later high samples cannot undo it.
			if d.sample() == gpio.Low {
				d.flags |= flagPresence
			}
		} else {
			d.setState(stateResetDone)
			if d.flags&flagPresence == 0 {
				d.err = noDevicesError("owgpio: no presence pulse after reset")
			}
		}
	case stateResetDone:
		d.setState(stateIdle)

	case stateWriteOneInit:
		d.setState(stateWriteOneDriveLow)
		d.pullLow()
	case stateWriteOneDriveLow:
		if d.expired(d.t.WriteOneLow) {
			d.setState(stateWriteOneRelease)
			d.release()
		}
	case stateWriteOneRelease:
		if d.expired(d.t.WriteOneRelease) {
			d.setState(stateWriteOneDone)
		}

	case stateWriteZeroInit:
		d.setState(stateWriteZeroDriveLow)
		d.pullLow()
	case stateWriteZeroDriveLow:
		if d.expired(d.t.WriteZeroLow) {
			d.setState(stateWriteZeroRelease)
			d.release()
		}
	case stateWriteZeroRelease:
		if d.expired(d.t.WriteZeroRelease) {
			d.setState(stateWriteZeroDone)
		}

	case stateWriteOneDone, stateWriteZeroDone:
		d.finishWriteSlot()

	case stateReadInit:
		d.setState(stateReadDriveLow)
		d.pullLow()
	case stateReadDriveLow:
		// A read slot starts with the same short low pulse as a
		// write-1 slot.
		if d.expired(d.t.WriteOneLow) {
			d.setState(stateReadRelease)
			d.release()
		}
	case stateReadRelease:
		if d.expired(d.t.ReadRelease) {
			d.setState(stateReadSample)
			d.sampled = gpio.High
		}
	case stateReadSample:
		if !d.expired(d.t.ReadSample) {
			// A responding device holds the line low for less than
			// the window, so any low sample means a 0 bit.
			if d.sample() == gpio.Low {
				d.sampled = gpio.Low
			}
		} else {
			d.storeReadBit(d.sampled)
			d.setState(stateReadDone)
		}
	case stateReadDone:
		d.finishReadSlot()

	default:
		d.state = stateError
		d.err = errInvalidState
	}
}

// startable reports whether a new operation may begin. The terminal error
// state blocks everything until Reinit; slave mode has no operations yet.
func (d *Dev) startable() bool {
	if d.state == stateError {
		return false
	}
	if d.mode == Slave {
		if d.err == nil {
			d.err = errSlaveMode
		}
		return false
	}
	return true
}

func (d *Dev) writeBits(v byte, n uint8) {
	d.tx = v
	d.bitIndex = 0
	d.opBits = n
	d.flags &^= flagByteSent
	d.startWriteSlot(v & 1)
}

func (d *Dev) readBits(n uint8) {
	d.rx = 0
	d.bitIndex = 0
	d.opBits = n
	d.sampled = gpio.High
	d.flags &^= flagByteReceived
	d.setState(stateReadInit)
}

// startWriteSlot enters the slot family matching the bit value.
func (d *Dev) startWriteSlot(bit byte) {
	if bit != 0 {
		d.setState(stateWriteOneInit)
	} else {
		d.setState(stateWriteZeroInit)
	}
}

// finishWriteSlot performs the bookkeeping shared by both write-slot done
// states: advance to the next bit of tx, or complete the operation.
func (d *Dev) finishWriteSlot() {
	d.bitIndex++
	if d.bitIndex >= d.opBits {
		d.setState(stateIdle)
		d.bitIndex = 0
		d.rx = 0
		d.flags |= flagByteSent
	} else {
		d.startWriteSlot(d.tx >> d.bitIndex & 1)
	}
}

func (d *Dev) finishReadSlot() {
	d.bitIndex++
	d.sampled = gpio.High
	if d.bitIndex >= d.opBits {
		d.flags |= flagByteReceived
		d.bitIndex = 0
		d.setState(stateIdle)
	} else {
		d.setState(stateReadInit)
	}
}

// storeReadBit records the sampled level at the current bit position of rx.
// Bit position equals transmission order, LSB first, matching the write
// convention.
func (d *Dev) storeReadBit(l gpio.Level) {
	if l == gpio.High {
		d.rx |= 1 << d.bitIndex
	} else {
		d.rx &^= 1 << d.bitIndex
	}
}

// processSlave is the dispatch table for the slave state family. The states
// are declared for a future slave implementation; nothing enters them yet.
func (d *Dev) processSlave() {
	switch d.slave {
	case slaveIdle:
	case slaveReadInit, slaveMonitorBus, slaveReleaseBus, slaveSampleBus, slaveReadDone:
		d.slave = slaveIdle
		d.err = errSlaveMode
	default:
		d.slave = slaveIdle
		d.err = errInvalidState
	}
}

// setState records the new phase and its deadline base in one step, so
// exactly one timed phase is ever pending.
func (d *Dev) setState(s state) {
	d.state = s
	d.stamp = d.clock.Ticks()
}

// expired reports whether the current phase has lasted at least delay.
func (d *Dev) expired(delay time.Duration) bool {
	return d.clock.Ticks() >= d.stamp+d.ticks(delay)
}

// ticks converts a duration to ticks, rounding up so a window is never cut
// short by coarse clocks.
func (d *Dev) ticks(delay time.Duration) uint64 {
	return uint64((delay + d.period - 1) / d.period)
}

func (d *Dev) pullLow() {
	if err := d.p.Out(gpio.Low); err != nil {
		d.fail(err)
	}
}

func (d *Dev) release() {
	if err := d.p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		d.fail(err)
	}
}

func (d *Dev) sample() gpio.Level {
	return d.p.Read()
}

// fail latches a pin failure. Pin failures are terminal: the electrical
// state of the line is unknown, so no further bus action is attempted.
func (d *Dev) fail(err error) {
	d.state = stateError
	d.err = fmt.Errorf("owgpio: pin failure: %w", err)
}

// wallClock derives ticks from the wall clock. It is the default Clock.
type wallClock struct {
	epoch  time.Time
	period time.Duration
}

func (c *wallClock) Ticks() uint64 {
	return uint64(time.Since(c.epoch) / c.period)
}

// noDevicesError implements error, onewire.NoDevicesError and
// onewire.BusError.
type noDevicesError string

func (e noDevicesError) Error() string   { return string(e) }
func (e noDevicesError) NoDevices() bool { return true }
func (e noDevicesError) BusError() bool  { return true }

var (
	errInvalidState = errors.New("owgpio: invalid state, reinitialization required")
	errSlaveMode    = errors.New("owgpio: slave mode is not implemented")
)

// state is the master-mode phase enumeration. Every phase family follows
// the same shape: an init state that acts immediately, timed states that
// wait for their window and perform one bus action, and a done state for
// bit bookkeeping.
type state uint8

const (
	stateIdle state = iota
	stateError

	// Reset / presence detection.
	stateResetInit
	stateResetDriveLow
	stateResetRelease
	stateResetSample
	stateResetDone

	// Write-1 slot.
	stateWriteOneInit
	stateWriteOneDriveLow
	stateWriteOneRelease
	stateWriteOneDone

	// Write-0 slot.
	stateWriteZeroInit
	stateWriteZeroDriveLow
	stateWriteZeroRelease
	stateWriteZeroDone

	// Read slot.
	stateReadInit
	stateReadDriveLow
	stateReadRelease
	stateReadSample
	stateReadDone
)

// slaveState is the slave-mode phase enumeration, kept as a separate family
// with its own dispatch so unimplemented states never leak into the master
// transition table.
type slaveState uint8

const (
	slaveIdle slaveState = iota
	slaveReadInit
	slaveMonitorBus
	slaveReleaseBus
	slaveSampleBus
	slaveReadDone
)

// flag is the set of latched conditions. The error condition is carried as
// an error value in Dev.err rather than a bit, and slave operation is a
// construction-time mode rather than a runtime flag.
type flag uint8

const (
	flagPresence flag = 1 << iota
	flagByteReceived
	flagByteSent
)

var _ conn.Resource = &Dev{}
