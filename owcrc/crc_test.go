// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owcrc

import "testing"

func TestCRC8(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result byte
	}{
		// DS18B20 ROM contents without their CRC byte.
		{bytes: []byte{0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00}, result: 0x74},
		// The worked example from Maxim application note 27.
		{bytes: []byte{0x02, 0x1c, 0xb8, 0x01, 0x00, 0x00, 0x00}, result: 0xa2},
		{bytes: []byte{0x10, 0x29, 0xa8, 0x4e, 0x01, 0x08, 0x00}, result: 0xfe},
		{bytes: nil, result: 0x00},
	}
	for _, test := range tests {
		res := CRC8(test.bytes)
		if res != test.result {
			t.Errorf("CRC8(%#v)!=%#02x received %#02x", test.bytes, test.result, res)
		}
	}
}

func TestCheckROM(t *testing.T) {
	rom := []byte{0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00, 0x74}
	if !CheckROM(rom) {
		t.Errorf("valid ROM %#v rejected", rom)
	}
	rom[7] ^= 0x01
	if CheckROM(rom) {
		t.Errorf("corrupted ROM %#v accepted", rom)
	}
	if CheckROM(rom[:7]) {
		t.Error("short ROM accepted")
	}
}
