// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owgpio

import (
	"fmt"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-test/deep"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/onewire"
)

// testClock is a manually advanced tick counter at 1µs per tick.
type testClock struct {
	t uint64
}

func (c *testClock) Ticks() uint64 {
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.t += uint64(d / time.Microsecond)
}

// pinOp is one recorded bus action.
type pinOp struct {
	T  uint64
	Op string // "drive", "release", "sample"
	L  gpio.Level
}

// busPin records every bus action with its tick timestamp. The level the
// driver samples is set by the test to play the role of slave devices.
type busPin struct {
	gpiotest.Pin
	clock *testClock
	level gpio.Level
	ops   []pinOp
}

func (p *busPin) Out(l gpio.Level) error {
	p.ops = append(p.ops, pinOp{p.clock.t, "drive", l})
	return nil
}

func (p *busPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.ops = append(p.ops, pinOp{p.clock.t, "release", gpio.High})
	return nil
}

func (p *busPin) Read() gpio.Level {
	p.ops = append(p.ops, pinOp{p.clock.t, "sample", p.level})
	return p.level
}

func testDev(t *testing.T, opts *Opts) (*Dev, *busPin, *testClock) {
	t.Helper()
	c := &testClock{}
	p := &busPin{Pin: gpiotest.Pin{N: "OW1", Num: 4}, clock: c, level: gpio.High}
	if opts == nil {
		opts = &Opts{}
	}
	opts.Clock = c
	if opts.TickPeriod == 0 {
		opts.TickPeriod = time.Microsecond
	}
	d, err := New(p, opts)
	if err != nil {
		t.Fatal(err)
	}
	// Drop the release recorded by initialization.
	p.ops = nil
	return d, p, c
}

// run polls the driver once per tick until it goes idle.
func run(t *testing.T, d *Dev, c *testClock, limit uint64) {
	t.Helper()
	for i := uint64(0); i < limit; i++ {
		d.Process()
		if d.Idle() {
			return
		}
		c.t++
	}
	t.Fatalf("driver did not go idle within %d ticks: %s", limit, spew.Sdump(d.state))
}

// TestWriteByte_slots checks that every bit of the transmit buffer comes
// out LSB first with the drive-low duration of the matching slot family.
func TestWriteByte_slots(t *testing.T) {
	for _, v := range []byte{0x00, 0xff, 0xa5, 0x01, 0x80} {
		t.Run(fmt.Sprintf("%#02x", v), func(t *testing.T) {
			d, p, c := testDev(t, nil)
			d.WriteByte(v)
			run(t, d, c, 2000)

			var lows []time.Duration
			var lowAt uint64
			for _, op := range p.ops {
				switch op.Op {
				case "drive":
					if op.L != gpio.Low {
						t.Fatalf("unexpected drive high at tick %d", op.T)
					}
					lowAt = op.T
				case "release":
					lows = append(lows, time.Duration(op.T-lowAt)*time.Microsecond)
				case "sample":
					t.Fatalf("unexpected sample during write at tick %d", op.T)
				}
			}
			if len(lows) != 8 {
				t.Fatalf("transmitted %d bits, want 8: %s", len(lows), spew.Sdump(p.ops))
			}
			want := make([]time.Duration, 8)
			for i := range want {
				if v>>i&1 != 0 {
					want[i] = StandardTimings.WriteOneLow
				} else {
					want[i] = StandardTimings.WriteZeroLow
				}
			}
			if diff := deep.Equal(lows, want); diff != nil {
				t.Errorf("slot low durations differ: %v", diff)
			}
			if !d.ByteSent() {
				t.Error("byte-sent not latched after completed write")
			}
			if d.bitIndex != 0 {
				t.Errorf("bitIndex = %d, want 0", d.bitIndex)
			}
			if !d.Idle() {
				t.Error("driver not idle after completed write")
			}
		})
	}
}

// TestWriteByte_slotLength checks the released remainder of both slot
// families against the standard timing set.
func TestWriteByte_slotLength(t *testing.T) {
	d, p, c := testDev(t, nil)
	// 0x02: one 0-slot followed by one 1-slot.
	d.WriteByte(0x02)
	run(t, d, c, 2000)

	// drive, release, drive, release.
	if len(p.ops) != 4 {
		t.Fatalf("got %d bus actions, want 4: %s", len(p.ops), spew.Sdump(p.ops))
	}
	// The released gap between slots covers the recovery window plus the
	// slot bookkeeping polls.
	if got := p.ops[2].T - p.ops[1].T; got < 10 {
		t.Errorf("0-slot recovery lasted %d ticks, want at least 10", got)
	}
}

func TestReset_presence(t *testing.T) {
	d, p, c := testDev(t, nil)
	d.Reset()
	d.Process() // settle expired immediately (G=0), drives low
	c.advance(480 * time.Microsecond)
	d.Process() // releases
	c.advance(70 * time.Microsecond)
	d.Process() // enters the sample window

	// Slave answers with a short presence pulse inside the window.
	p.level = gpio.Low
	c.advance(20 * time.Microsecond)
	d.Process()
	p.level = gpio.High
	c.advance(20 * time.Microsecond)
	d.Process() // later high samples must not unlatch presence
	c.advance(370 * time.Microsecond)
	d.Process() // window expired, derives the result
	if d.Idle() {
		t.Fatal("expected a reset-done bookkeeping step before idle")
	}
	d.Process()
	if !d.Idle() {
		t.Fatal("driver not idle after reset sequence")
	}

	if !d.Presence() {
		t.Error("presence pulse not detected")
	}
	// Chosen polarity: presence confirmed means no error.
	if err := d.Err(); err != nil {
		t.Errorf("unexpected error after answered reset: %v", err)
	}
}

func TestReset_noDevices(t *testing.T) {
	d, _, c := testDev(t, nil)
	d.Reset()
	run(t, d, c, 2000)

	if d.Presence() {
		t.Error("presence detected on a silent bus")
	}
	// Chosen polarity: absence latches the error flag.
	err := d.Err()
	if err == nil {
		t.Fatal("expected a latched error after unanswered reset")
	}
	if nd, ok := err.(onewire.NoDevicesError); !ok || !nd.NoDevices() {
		t.Errorf("error does not implement onewire.NoDevicesError: %v", err)
	}

	// Re-running the reset is the caller's retry path and clears the latch.
	d.Reset()
	if d.Err() != nil {
		t.Error("no-devices latch not cleared by a new reset")
	}
}

// readOneBit steps the driver through a single read slot with the bus
// sampled at the given level partway through the sample window.
func readOneBit(t *testing.T, d *Dev, p *busPin, c *testClock, l gpio.Level) {
	t.Helper()
	d.Process() // init, drives low
	c.advance(6 * time.Microsecond)
	d.Process() // releases
	c.advance(9 * time.Microsecond)
	d.Process() // enters the sample window
	p.level = l
	c.advance(10 * time.Microsecond)
	d.Process() // samples inside the window
	p.level = gpio.High
	c.advance(45 * time.Microsecond)
	d.Process() // window expired, stores the bit
	d.Process() // slot bookkeeping
}

func TestReadByte(t *testing.T) {
	const want = byte(0x9c)
	d, p, c := testDev(t, nil)
	d.ReadByte()
	for i := 0; i < 8; i++ {
		// A device pulling the line low inside the window is a 0 bit;
		// a line left high is a 1 bit.
		readOneBit(t, d, p, c, gpio.Level(want>>i&1 != 0))
	}
	if !d.Idle() {
		t.Fatal("driver not idle after 8 read slots")
	}
	if d.bitIndex != 0 {
		t.Errorf("bitIndex = %d, want 0", d.bitIndex)
	}
	if !d.ByteAvailable() {
		t.Fatal("byte-received not latched after 8 read slots")
	}
	if got := d.GetByte(); got != want {
		t.Errorf("assembled %#02x, want %#02x", got, want)
	}
	// Exactly-once delivery: the latch is cleared by GetByte.
	if d.ByteAvailable() {
		t.Error("byte-received latch not cleared by GetByte")
	}
}

func TestReadBit(t *testing.T) {
	for _, l := range []gpio.Level{gpio.Low, gpio.High} {
		t.Run(l.String(), func(t *testing.T) {
			d, p, c := testDev(t, nil)
			d.ReadBit()
			readOneBit(t, d, p, c, l)
			if !d.ByteAvailable() {
				t.Fatal("bit not delivered")
			}
			if got := d.GetByte(); gpio.Level(got&1 != 0) != l {
				t.Errorf("read bit %d, sampled level %s", got, l)
			}
		})
	}
}

// TestProcess_idempotent checks that polling before a deadline elapses
// produces zero bus actions and zero state changes.
func TestProcess_idempotent(t *testing.T) {
	d, p, c := testDev(t, nil)
	d.WriteByte(0x01)
	d.Process() // init, drives low
	n := len(p.ops)
	s := d.state
	c.advance(2 * time.Microsecond) // short of the 6µs window
	for i := 0; i < 5; i++ {
		d.Process()
	}
	if len(p.ops) != n {
		t.Errorf("bus actions performed before the deadline: %s", spew.Sdump(p.ops[n:]))
	}
	if d.state != s {
		t.Errorf("state advanced before the deadline: %d -> %d", s, d.state)
	}
}

func TestProcess_idleNoop(t *testing.T) {
	d, p, _ := testDev(t, nil)
	for i := 0; i < 3; i++ {
		d.Process()
	}
	if len(p.ops) != 0 {
		t.Errorf("bus actions while idle: %s", spew.Sdump(p.ops))
	}
	if d.Err() != nil {
		t.Errorf("error latched while idle: %v", d.Err())
	}
}

func TestProcess_invalidState(t *testing.T) {
	d, p, _ := testDev(t, nil)
	d.state = state(0xfe)
	d.Process()
	if d.state != stateError {
		t.Fatalf("state = %d, want error state", d.state)
	}
	if d.Err() != errInvalidState {
		t.Fatalf("Err() = %v, want %v", d.Err(), errInvalidState)
	}

	// Terminal: no operation may start and no bus action may happen
	// until reinitialization.
	d.Reset()
	d.WriteByte(0xff)
	d.ReadByte()
	d.Process()
	if len(p.ops) != 0 {
		t.Errorf("bus actions after invalid state: %s", spew.Sdump(p.ops))
	}
	if d.state != stateError {
		t.Errorf("left the error state without reinitialization")
	}

	if err := d.Reinit(); err != nil {
		t.Fatal(err)
	}
	if d.Err() != nil || !d.Idle() {
		t.Error("reinitialization did not recover the driver")
	}
}

func TestOverdrive(t *testing.T) {
	c := &testClock{}
	p := &busPin{Pin: gpiotest.Pin{N: "OW1", Num: 4}, clock: c, level: gpio.High}
	d, err := New(p, &Opts{Timings: &OverdriveTimings, Clock: c, TickPeriod: 100 * time.Nanosecond})
	if err != nil {
		t.Fatal(err)
	}
	p.ops = nil

	d.WriteByte(0x01)
	for i := 0; i < 4000 && !d.Idle(); i++ {
		d.Process()
		c.t++
	}
	if !d.Idle() {
		t.Fatal("driver did not go idle")
	}
	// First slot is a write-1: 1µs low at a 100ns tick is 10 ticks.
	if got, want := p.ops[1].T-p.ops[0].T, uint64(10); got != want {
		t.Errorf("overdrive write-1 low lasted %d ticks, want %d", got, want)
	}
}

func TestSlaveMode(t *testing.T) {
	d, p, _ := testDev(t, &Opts{Mode: Slave})
	d.Reset()
	d.WriteByte(0x55)
	d.Process()
	if len(p.ops) != 0 {
		t.Errorf("bus actions in slave mode: %s", spew.Sdump(p.ops))
	}
	if d.Err() != errSlaveMode {
		t.Errorf("Err() = %v, want %v", d.Err(), errSlaveMode)
	}
}

func TestDev_String(t *testing.T) {
	d, _, _ := testDev(t, nil)
	if s := d.String(); s != "OWGPIO{OW1(4)}" {
		t.Fatal(s)
	}
}
