// Package hxmux shares one HX717 between the load cell and the filament sensor.
//
// The load cell owns channel A at gain 128. Every SampleSwitchCount-th
// conversion goes to the filament sensor on channel B at gain 8, unless the
// load cell asks for high precision, in which case it gets every conversion.
package hxmux

import (
	"sync/atomic"

	"github.com/chewxy/math32"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/hx717"
)

const (
	LoadcellChannel = hx717.ChannelAGain128
	FilamentChannel = hx717.ChannelBGain8

	// Interval estimation uses same-channel runs between these lengths.
	estimatorWarmup = 64
	estimatorMax    = 320
	// A read started later than period/staleDivider after the ready edge is dropped.
	staleDivider = 32
)

// LoadcellSink consumes load cell samples.
type LoadcellSink interface {
	// ProcessSample receives a valid reading with its back-dated timestamp.
	ProcessSample(raw int32, timestampUs uint32)
	// UndefinedSample reports a load cell conversion that was lost.
	UndefinedSample()
	HighPrecisionEnabled() bool
	// SetSamplingInterval publishes the measured interval in µs, NaN when unknown.
	SetSamplingInterval(us float32)
}

// FilamentSink consumes filament sensor samples.
type FilamentSink interface {
	ProcessSample(raw int32, ch hx717.Channel)
}

// Stats counts handler outcomes.
type Stats struct {
	Samples  uint32
	Filament uint32
	Invalid  uint32
	Stale    uint32
	Reinits  uint32
}

// Mux runs in the deferred handler of the ready interrupt.
type Mux struct {
	drv      *hx717.Driver
	cfg      *config.MuxConfig
	loadcell LoadcellSink
	filament FilamentSink

	periodUs float32
	staleUs  uint32
	counter  int

	runChannel hx717.Channel
	runCount   int
	runStartUs uint32
	lastTsUs   uint32
	haveLast   bool

	interval atomic.Uint32 // float32 bits, µs

	samples  atomic.Uint32
	fsCount  atomic.Uint32
	invalid  atomic.Uint32
	stale    atomic.Uint32
	reinits  atomic.Uint32
	selected atomic.Uint32 // last selected channel
}

// New creates a mux. filament may be nil.
func New(drv *hx717.Driver, cfg *config.MuxConfig, loadcell LoadcellSink, filament FilamentSink) *Mux {
	period := float32(1e6 / drv.SampleRate())
	m := &Mux{
		drv:      drv,
		cfg:      cfg,
		loadcell: loadcell,
		filament: filament,
		periodUs: period,
		staleUs:  uint32(period / staleDivider),
	}
	m.interval.Store(math32.Float32bits(math32.NaN()))
	return m
}

// SamplingInterval returns the measured interval in µs, NaN when unknown.
func (m *Mux) SamplingInterval() float32 {
	return math32.Float32frombits(m.interval.Load())
}

// Selected returns the channel chosen by the last handler run.
func (m *Mux) Selected() hx717.Channel { return hx717.Channel(m.selected.Load()) }

func (m *Mux) Stats() Stats {
	return Stats{
		Samples:  m.samples.Load(),
		Filament: m.fsCount.Load(),
		Invalid:  m.invalid.Load(),
		Stale:    m.stale.Load(),
		Reinits:  m.reinits.Load(),
	}
}

func (m *Mux) setInterval(us float32) {
	m.interval.Store(math32.Float32bits(us))
	m.loadcell.SetSamplingInterval(us)
}

func (m *Mux) resetEstimator() {
	m.runChannel = 0
	m.runCount = 0
	if !math32.IsNaN(m.SamplingInterval()) {
		m.setInterval(math32.NaN())
	}
}

// updateEstimator measures the mean interval over a run of same-channel reads.
func (m *Mux) updateEstimator(ch hx717.Channel, readyUs uint32) {
	if ch != m.runChannel {
		m.resetEstimator()
		m.runChannel = ch
	}
	m.runCount++
	if m.runCount == 1 {
		m.runStartUs = readyUs
		return
	}
	if m.runCount > estimatorWarmup && m.runCount < estimatorMax {
		m.setInterval(float32(readyUs-m.runStartUs) / float32(m.runCount-1))
	}
}

func (m *Mux) nextChannel() hx717.Channel {
	if m.loadcell.HighPrecisionEnabled() || m.cfg.SampleSwitchCount <= 0 {
		m.counter = 0
		return LoadcellChannel
	}
	m.counter++
	if m.counter >= m.cfg.SampleSwitchCount {
		m.counter = 0
		return FilamentChannel
	}
	return LoadcellChannel
}

// timestamp back-dates readyUs by one sampling interval and keeps the
// delivered timestamps strictly increasing.
func (m *Mux) timestamp(readyUs uint32) uint32 {
	interval := m.SamplingInterval()
	if math32.IsNaN(interval) {
		interval = m.periodUs
	}
	ts := readyUs - uint32(interval)
	if m.haveLast && int32(ts-m.lastTsUs) <= 0 {
		ts = m.lastTsUs + 1
	}
	m.lastTsUs = ts
	m.haveLast = true
	return ts
}

func (m *Mux) lost(ch hx717.Channel) {
	m.resetEstimator()
	if ch == LoadcellChannel {
		m.loadcell.UndefinedSample()
	}
}

// Handler reads the conversion that became ready at readyUs and forwards it.
func (m *Mux) Handler(readyUs uint32) {
	if !m.drv.IsInitialized() {
		m.drv.Init(LoadcellChannel)
		m.counter = 0
		m.resetEstimator()
		m.reinits.Add(1)
		return
	}

	stale := m.drv.NowUs()-readyUs > m.staleUs
	ch := m.drv.CurrentChannel()
	next := m.nextChannel()
	m.selected.Store(uint32(next))

	raw := m.drv.ReadValue(next, readyUs)
	switch {
	case raw == hx717.UndefinedValue:
		m.invalid.Add(1)
		m.lost(ch)
		return
	case stale:
		m.stale.Add(1)
		m.lost(ch)
		return
	}

	m.updateEstimator(ch, readyUs)
	switch ch {
	case LoadcellChannel:
		m.samples.Add(1)
		m.loadcell.ProcessSample(raw, m.timestamp(readyUs))
	case FilamentChannel:
		m.fsCount.Add(1)
		if m.filament != nil {
			m.filament.ProcessSample(raw, ch)
		}
	}
}
