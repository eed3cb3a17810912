//go:build tinygo

package main

import (
	"machine"
	"sync/atomic"
	"time"
)

// pinHAL drives the HX717 from two GPIOs. The DOUT falling edge latches the
// ready time for the main loop.
type pinHAL struct {
	sck, dout machine.Pin
	boot      time.Time
	pulse     time.Duration

	ready   atomic.Bool
	readyUs atomic.Uint32
}

func newPinHAL(sck, dout machine.Pin, minPulseNs int) *pinHAL {
	sck.Configure(machine.PinConfig{Mode: machine.PinOutput})
	sck.Low()
	dout.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return &pinHAL{
		sck:   sck,
		dout:  dout,
		boot:  time.Now(),
		pulse: time.Duration(minPulseNs),
	}
}

func (h *pinHAL) SetSCK(high bool) { h.sck.Set(high) }

func (h *pinHAL) DOUT() bool { return h.dout.Get() }

func (h *pinHAL) NowUs() uint32 { return uint32(time.Since(h.boot).Microseconds()) }

func (h *pinHAL) DelayUs(us uint32) {
	start := h.NowUs()
	for h.NowUs()-start < us {
	}
}

func (h *pinHAL) PulseDelay() {
	start := time.Now()
	for time.Since(start) < h.pulse {
	}
}

func (h *pinHAL) EnableReadyInterrupt(enable bool) {
	if !enable {
		h.dout.SetInterrupt(machine.PinFalling, nil)
		return
	}
	h.dout.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		h.readyUs.Store(h.NowUs())
		h.ready.Store(true)
	})
}

// takeReady returns the latched ready time once per interrupt.
func (h *pinHAL) takeReady() (uint32, bool) {
	if !h.ready.Swap(false) {
		return 0, false
	}
	return h.readyUs.Load(), true
}
