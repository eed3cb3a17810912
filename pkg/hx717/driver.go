package hx717

import (
	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/irq"
)

// HAL is what the driver needs from the board: the two pins, a microsecond
// clock and calibrated delays.
type HAL interface {
	SetSCK(high bool)
	// DOUT returns the data line level. Low means a conversion is ready.
	DOUT() bool
	NowUs() uint32
	DelayUs(us uint32)
	// PulseDelay waits the minimum SCK high/low time.
	PulseDelay()
	EnableReadyInterrupt(enable bool)
}

// Driver bit-bangs the HX717 protocol. It is not safe for concurrent use; the
// ready interrupt handler is its only caller.
type Driver struct {
	hal HAL
	cfg *config.HX717Config

	channel     Channel
	initialized bool
	discardNext bool
	deadlineUs  uint32
	timestampUs uint32
}

// New creates a driver. Init must be called before the first read.
func New(hal HAL, cfg *config.HX717Config) *Driver {
	return &Driver{
		hal:        hal,
		cfg:        cfg,
		channel:    ChannelAGain128,
		deadlineUs: uint32(1e6 / (2 * cfg.SampleRate)),
	}
}

// Init power cycles the chip and arms the ready interrupt. The first read
// afterwards is discarded because it still carries the power-up channel.
func (d *Driver) Init(ch Channel) {
	d.hal.EnableReadyInterrupt(false)
	d.hal.SetSCK(true)
	d.hal.DelayUs(uint32(d.cfg.ResetUs))
	d.hal.SetSCK(false)

	d.channel = ch
	d.discardNext = true
	d.initialized = true
	d.hal.EnableReadyInterrupt(true)
}

// IsValueReady reports whether a conversion waits to be read.
func (d *Driver) IsValueReady() bool { return !d.hal.DOUT() }

// IsInitialized is false after any read fault until the next Init.
func (d *Driver) IsInitialized() bool { return d.initialized }

// CurrentChannel returns the channel of the conversion that will be read next.
func (d *Driver) CurrentChannel() Channel { return d.channel }

// SampleRate returns the nominal conversion rate in Hz.
func (d *Driver) SampleRate() float64 { return d.cfg.SampleRate }

// SampleTimestamp returns the ready time of the last valid sample.
func (d *Driver) SampleTimestamp() uint32 { return d.timestampUs }

// NowUs returns the board clock.
func (d *Driver) NowUs() uint32 { return d.hal.NowUs() }

// pulse clocks one bit. Interrupts stay masked only while SCK is high so the
// chip never sees a high time long enough to power down.
func (d *Driver) pulse() bool {
	g := irq.Disable()
	d.hal.SetSCK(true)
	d.hal.PulseDelay()
	bit := d.hal.DOUT()
	d.hal.SetSCK(false)
	g.Restore()
	d.hal.PulseDelay()
	return bit
}

// ReadValue reads the ready conversion and selects next for the following one.
// readyUs is the time the ready line asserted. Any fault returns UndefinedValue
// and clears IsInitialized.
func (d *Driver) ReadValue(next Channel, readyUs uint32) int32 {
	if !d.initialized || !d.IsValueReady() {
		d.initialized = false
		return UndefinedValue
	}

	var raw uint32
	for i := 0; i < dataBits; i++ {
		raw <<= 1
		if d.pulse() {
			raw |= 1
		}
	}
	for i := Channel(0); i < next; i++ {
		d.pulse()
	}
	d.channel = next

	if d.hal.NowUs()-readyUs > d.deadlineUs {
		d.initialized = false
		return UndefinedValue
	}

	v := Decode(raw)
	if v == UndefinedValue {
		d.initialized = false
		return UndefinedValue
	}
	if d.discardNext {
		d.discardNext = false
		return UndefinedValue
	}
	d.timestampUs = readyUs
	return v
}
