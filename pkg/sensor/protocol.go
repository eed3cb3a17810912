package sensor

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/itohio/gobuddy/pkg/hx717"
)

// ErrNotConnected is returned by commands sent to a closed device.
var ErrNotConnected = errors.New("not connected")

// RawSample is one ADC conversion as reported by the device.
type RawSample struct {
	Received    time.Time // host receive time
	TimestampUs uint32    // device time of the conversion
	Channel     hx717.Channel
	Raw         int32 // hx717.UndefinedValue for a lost sample
}

// Undefined reports whether the device lost this sample.
func (s RawSample) Undefined() bool { return s.Raw == hx717.UndefinedValue }

// FormatLine renders a sample in the wire format "ts_us,channel,raw".
func FormatLine(s RawSample) string {
	return fmt.Sprintf("%d,%d,%d", s.TimestampUs, uint8(s.Channel), s.Raw)
}

// parseLine parses a line from the firmware.
// Format: ts_us,channel,raw
// Example: 1234567,1,-8123
func parseLine(line string) (RawSample, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return RawSample{}, fmt.Errorf("invalid line format: expected 3 comma-separated values, got %d", len(parts))
	}

	ts, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	ch, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid channel: %w", err)
	}
	channel := hx717.Channel(ch)
	if !channel.Valid() {
		return RawSample{}, fmt.Errorf("unknown channel %d", ch)
	}

	v, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return RawSample{}, fmt.Errorf("invalid raw value: %w", err)
	}
	raw := int32(v)
	if raw != hx717.UndefinedValue && (raw < hx717.MinValue || raw > hx717.MaxValue) {
		return RawSample{}, fmt.Errorf("raw value out of range: %d", raw)
	}

	return RawSample{
		TimestampUs: uint32(ts),
		Channel:     channel,
		Raw:         raw,
	}, nil
}

// Commands understood by the firmware.
func highPrecisionCommand(enable bool) string { return command('P', enable) }
func xyEndstopCommand(enable bool) string     { return command('X', enable) }

func command(c byte, enable bool) string {
	if enable {
		return string(c) + "1\n"
	}
	return string(c) + "0\n"
}
