//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"sync/atomic"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/hx717"
	"github.com/itohio/gobuddy/pkg/hxmux"
)

var (
	uart = machine.UART0

	highPrecision atomic.Bool
	xyEndstop     atomic.Bool

	// Serial buffer for reading command lines
	lineBuffer [LINE_BUFFER]byte
	linePos    int
)

func main() {
	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	uart.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})

	cfg := config.Default()
	hal := newPinHAL(PIN_SCK, PIN_DOUT, cfg.HX717.MinPulseNs)
	drv := hx717.New(hal, &cfg.HX717)
	mux := hxmux.New(drv, &cfg.Mux, loadcellSink{hal}, filamentSink{hal})

	println("# hx717 mux", int(cfg.HX717.SampleRate), "Hz")

	for {
		processSerial()

		if readyUs, ok := hal.takeReady(); ok {
			mux.Handler(readyUs)
		} else if !drv.IsInitialized() {
			// Power cycles the chip and arms the ready interrupt.
			mux.Handler(hal.NowUs())
		}
	}
}

func printSample(ts uint32, ch hx717.Channel, raw int32) {
	print(ts)
	print(",")
	print(uint8(ch))
	print(",")
	print(raw)
	print("\n")
}

// loadcellSink streams load cell samples. Filtering runs on the host.
type loadcellSink struct{ hal *pinHAL }

func (s loadcellSink) ProcessSample(raw int32, timestampUs uint32) {
	printSample(timestampUs, hxmux.LoadcellChannel, raw)
}

func (s loadcellSink) UndefinedSample() {
	printSample(s.hal.NowUs(), hxmux.LoadcellChannel, hx717.UndefinedValue)
}

func (s loadcellSink) HighPrecisionEnabled() bool { return highPrecision.Load() }

func (s loadcellSink) SetSamplingInterval(float32) {}

type filamentSink struct{ hal *pinHAL }

func (s filamentSink) ProcessSample(raw int32, ch hx717.Channel) {
	printSample(s.hal.NowUs(), ch, raw)
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}

		if data == '\n' || data == '\r' {
			if linePos == 2 {
				handleCommand(lineBuffer[0], lineBuffer[1] == '1')
			}
			linePos = 0
			continue
		}
		if data == ' ' || data == '\t' {
			continue
		}
		if linePos < len(lineBuffer) {
			lineBuffer[linePos] = data
			linePos++
		}
	}
}

// handleCommand applies P (high precision) and X (XY endstop) switches.
func handleCommand(cmd byte, on bool) {
	switch cmd {
	case 'P':
		highPrecision.Store(on)
		PIN_LED.Set(on)
	case 'X':
		// The XY endstop is evaluated on the host; acknowledge the switch.
		xyEndstop.Store(on)
		print("# xy ")
		println(on)
	}
}
