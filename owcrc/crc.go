// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package owcrc implements the Dallas/Maxim CRC-8 used on 1-wire buses to
// protect ROM IDs and scratchpad reads.
package owcrc

// CRC8 calculates the 8-bit CRC of the byte slice parameter and returns the
// calculated value. The polynomial is X^8 + X^5 + X^4 + 1 in its bit
// reversed form, computed LSB first with a zero initial value, as specified
// for 1-wire ROM IDs.
func CRC8(data []byte) byte {
	var crc byte
	for _, val := range data {
		crc ^= val
		for i := 0; i < 8; i++ {
			if crc&1 == 0 {
				crc >>= 1
			} else {
				crc = crc>>1 ^ 0x8c
			}
		}
	}
	return crc
}

// CheckROM reports whether the 8-byte ROM ID, family code first, carries a
// valid CRC in its last byte.
func CheckROM(rom []byte) bool {
	if len(rom) != 8 {
		return false
	}
	return CRC8(rom[:7]) == rom[7]
}
