package hx717

// Source produces the analog reading of a channel at a given time.
type Source func(ch Channel, nowUs uint32) int32

// Sim is a cycle level model of the chip with its own simulated clock. It
// implements HAL so the real driver can run against it. Every pin access
// advances the clock, so a slow SCK loop shows up as a late read.
type Sim struct {
	// EdgeNs is the time one SCK edge costs.
	EdgeNs int64
	// PulseDelayNs is the time PulseDelay waits.
	PulseDelayNs int64
	Source       Source

	period int64
	now    int64

	sck     bool
	sckRise int64

	channel  Channel // channel of the conversion in progress
	ready    bool
	reading  bool
	pulses   int
	data     uint32
	nextConv int64

	irqEnabled  bool
	conversions int
	resets      int
}

// NewSim creates a powered up chip converting on channel A, gain 128.
func NewSim(rate float64, src Source) *Sim {
	period := int64(1e9 / rate)
	return &Sim{
		EdgeNs:       20,
		PulseDelayNs: 250,
		Source:       src,
		period:       period,
		channel:      ChannelAGain128,
		nextConv:     period,
	}
}

func (s *Sim) poweredDown() bool {
	return s.sck && s.now-s.sckRise > powerDownUs*1000
}

// Advance moves the simulated clock forward by ns.
func (s *Sim) Advance(ns int64) {
	s.now += ns
	for s.now >= s.nextConv {
		if s.poweredDown() {
			s.nextConv = s.now + s.period
			return
		}
		s.convert()
		s.nextConv += s.period
	}
}

// convert latches a new conversion. Extra pulses of a finished read select the
// channel this conversion samples.
func (s *Sim) convert() {
	if s.reading {
		if extra := Channel(s.pulses - dataBits); extra.Valid() {
			s.channel = extra
		}
	}
	s.reading = false
	s.pulses = 0

	var v int32
	if s.Source != nil {
		v = s.Source(s.channel, s.NowUs())
	}
	v = min(max(v, MinValue), MaxValue)
	s.data, _ = Encode(v)
	s.ready = true
	s.conversions++
}

// reset is the power-up sequence after a power-down.
func (s *Sim) reset() {
	s.channel = ChannelAGain128
	s.ready = false
	s.reading = false
	s.pulses = 0
	s.nextConv = s.now + s.period
	s.resets++
}

// WaitReady advances the clock to the next finished conversion and returns its time.
func (s *Sim) WaitReady() uint32 {
	for !s.ready {
		s.Advance(s.nextConv - s.now)
	}
	return s.NowUs()
}

// Channel returns the channel of the conversion in progress.
func (s *Sim) Channel() Channel { return s.channel }

// Conversions returns the number of finished conversions.
func (s *Sim) Conversions() int { return s.conversions }

// Resets returns the number of power-down cycles.
func (s *Sim) Resets() int { return s.resets }

// ReadyInterruptEnabled reports the state set by EnableReadyInterrupt.
func (s *Sim) ReadyInterruptEnabled() bool { return s.irqEnabled }

func (s *Sim) SetSCK(high bool) {
	s.Advance(s.EdgeNs)
	switch {
	case high && !s.sck:
		s.sckRise = s.now
		if s.ready || s.reading {
			s.ready = false
			s.reading = true
			s.pulses++
		}
	case !high && s.sck:
		if s.now-s.sckRise > powerDownUs*1000 {
			s.sck = false
			s.reset()
			return
		}
	}
	s.sck = high
}

func (s *Sim) DOUT() bool {
	if s.reading {
		if s.pulses >= 1 && s.pulses <= dataBits {
			return s.data>>(dataBits-s.pulses)&1 == 1
		}
		return true
	}
	return !s.ready
}

func (s *Sim) NowUs() uint32 { return uint32(s.now / 1000) }

func (s *Sim) DelayUs(us uint32) { s.Advance(int64(us) * 1000) }

func (s *Sim) PulseDelay() { s.Advance(s.PulseDelayNs) }

func (s *Sim) EnableReadyInterrupt(enable bool) { s.irqEnabled = enable }
