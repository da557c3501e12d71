// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package onewiredriver is a container for a software 1-wire bus master
// bit-banged on a GPIO line.
//
// The protocol state machine lives in owgpio, wire-level tracing in
// owtrace and the Dallas CRC-8 helper in owcrc.
package onewiredriver
