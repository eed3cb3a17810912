//go:build tinygo

package main

import "machine"

const (
	// HX717 lines
	PIN_SCK  = machine.D2
	PIN_DOUT = machine.D3

	// Status LED, lit while high precision is on
	PIN_LED = machine.LED

	// Serial configuration
	// Line format "ts_us,channel,raw\n" is at most 24 bytes.
	// 320 lines/sec * 24 bytes = 7,680 bytes/sec; 8N1 needs 76,800 baud.
	// 230400 leaves 3x headroom.
	UART_BAUD_RATE = 230400

	// Command line buffer
	LINE_BUFFER = 8
)
