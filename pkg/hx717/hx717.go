// Package hx717 drives the HX717 24-bit load cell ADC.
//
// The chip signals a finished conversion by pulling DOUT low. The host then
// clocks out 24 data bits MSB first on SCK and adds 1 to 4 extra pulses that
// select the channel and gain of the following conversion. Holding SCK high for
// more than 60 µs powers the chip down; releasing it powers the chip back up on
// channel A, gain 128.
package hx717

import (
	"fmt"
	"math"
)

// Channel is the channel/gain selection, equal to the number of extra SCK pulses.
type Channel uint8

const (
	ChannelAGain128 Channel = 1
	ChannelBGain8   Channel = 2
	ChannelAGain64  Channel = 3
	ChannelBGain16  Channel = 4
)

func (c Channel) String() string {
	switch c {
	case ChannelAGain128:
		return "A128"
	case ChannelBGain8:
		return "B8"
	case ChannelAGain64:
		return "A64"
	case ChannelBGain16:
		return "B16"
	}
	return fmt.Sprintf("Channel(%d)", uint8(c))
}

// Valid reports whether c is a channel the chip understands.
func (c Channel) Valid() bool { return c >= ChannelAGain128 && c <= ChannelBGain16 }

const (
	// UndefinedValue marks a sample that could not be read.
	UndefinedValue int32 = math.MinInt32
	MinValue       int32 = -0x800000
	MaxValue       int32 = 0x7FFFFF

	dataBits = 24
	dataMask = 1<<dataBits - 1

	// powerDownUs is the SCK high time after which the chip powers down.
	powerDownUs = 60
)

// Decode sign-extends a 24-bit two's complement word. Words wider than 24 bits
// are a communication fault and decode to UndefinedValue.
func Decode(raw uint32) int32 {
	if raw > dataMask {
		return UndefinedValue
	}
	return int32(raw<<(32-dataBits)) >> (32 - dataBits)
}

// Encode returns the 24-bit word of v. It reports false when v does not fit.
func Encode(v int32) (uint32, bool) {
	if v < MinValue || v > MaxValue {
		return 0, false
	}
	return uint32(v) & dataMask, true
}
