package sensor

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/hx717"
	"github.com/itohio/gobuddy/pkg/hxmux"
	"github.com/itohio/gobuddy/pkg/logger"
	"go.uber.org/zap"
)

// mockTick is how often the simulation catches up with wall time.
const mockTick = 10 * time.Millisecond

// Mock simulates the firmware. It runs the real HX717 driver and channel mux
// against a simulated chip whose load cell input follows a periodic probe press.
type Mock struct {
	cfg *config.Config
	log *zap.SugaredLogger

	samples   chan RawSample
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	connected bool

	highPrecision atomic.Bool
	xyEndstop     atomic.Bool

	sim    *hx717.Sim
	mux    *hxmux.Mux
	rng    *rand.Rand
	emit   func(RawSample)
	loadFn func(time.Duration) float64
}

// NewMock creates a mocked device. cfg supplies the mock, ADC, mux and load cell sections.
func NewMock(cfg *config.Config) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}
	m := &Mock{
		cfg:     cfg,
		log:     logger.Named("mock"),
		samples: make(chan RawSample),
	}
	m.reset()
	return m
}

// reset builds a fresh chip, driver and mux.
func (m *Mock) reset() {
	m.rng = rand.New(rand.NewSource(1))
	m.sim = hx717.NewSim(m.cfg.HX717.SampleRate, m.Reading)
	drv := hx717.New(m.sim, &m.cfg.HX717)
	m.mux = hxmux.New(drv, &m.cfg.Mux, mockLoadcell{m}, mockFilament{m})
}

// Load returns the simulated probe load in grams at time t. It is positive
// while pressed and follows a half sine over PressDuration once per PressPeriod.
func (m *Mock) Load(t time.Duration) float64 {
	c := &m.cfg.Mock
	if c.PressPeriod <= 0 || c.PressDuration <= 0 {
		return 0
	}
	phase := t % c.PressPeriod
	if phase >= c.PressDuration {
		return 0
	}
	return c.PressLoad * math.Sin(math.Pi*float64(phase)/float64(c.PressDuration))
}

// SetLoad replaces the periodic press with fn. nil restores the press.
func (m *Mock) SetLoad(fn func(t time.Duration) float64) { m.loadFn = fn }

func (m *Mock) load(t time.Duration) float64 {
	if m.loadFn != nil {
		return m.loadFn(t)
	}
	return m.Load(t)
}

// Reading is the analog input of the simulated chip. Pressing the nozzle
// compresses the cell, which lowers the raw value.
func (m *Mock) Reading(ch hx717.Channel, nowUs uint32) int32 {
	c := &m.cfg.Mock
	noise := m.rng.NormFloat64() * c.Noise
	if ch != hxmux.LoadcellChannel {
		return c.FilamentRaw + int32(noise/4)
	}
	counts := 0.0
	if m.cfg.Loadcell.Scale > 0 {
		counts = m.load(time.Duration(nowUs)*time.Microsecond) / m.cfg.Loadcell.Scale
	}
	return c.Offset - int32(counts-noise)
}

// Connect starts generating samples.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.reset()
	m.cancel = cancel
	m.done = make(chan struct{})
	m.samples = make(chan RawSample, DefaultBufferSize)
	m.connected = true

	go m.generateSamples(ctx, m.samples, m.done)
	m.log.Infow("connected", "rate", m.cfg.HX717.SampleRate)
	return nil
}

// Close stops the mocked device and closes the samples channel.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return nil
	}

	m.cancel()
	<-m.done
	m.connected = false
	m.log.Infow("disconnected", "stats", m.mux.Stats())
	return nil
}

// Samples returns the channel of the current connection.
func (m *Mock) Samples() <-chan RawSample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.samples
}

// SetHighPrecision switches the simulated mux to load cell only sampling.
func (m *Mock) SetHighPrecision(enable bool) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	m.highPrecision.Store(enable)
	return nil
}

// SetXYEndstop records the XY endstop switch. The mock has no use for it.
func (m *Mock) SetXYEndstop(enable bool) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	m.xyEndstop.Store(enable)
	return nil
}

// IsConnected returns whether the device is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Mux exposes the simulated mux for statistics.
func (m *Mock) Mux() *hxmux.Mux { return m.mux }

// Run drives the simulation until simulated time reaches untilUs, calling the
// mux on every ready conversion. Every reported sample is passed to emit.
func (m *Mock) Run(untilUs uint32, emit func(RawSample)) {
	m.emit = emit
	for int32(m.sim.NowUs()-untilUs) < 0 {
		m.mux.Handler(m.sim.WaitReady())
	}
}

func (m *Mock) generateSamples(ctx context.Context, out chan RawSample, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	ticker := time.NewTicker(mockTick)
	defer ticker.Stop()

	dropped := 0
	send := func(s RawSample) {
		s.Received = time.Now()
		select {
		case out <- s:
		default:
			dropped++
			if dropped == 1 {
				m.log.Warnw("samples channel full, dropping samples")
			}
		}
	}

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Run(uint32(now.Sub(start).Microseconds()), send)
		}
	}
}

type mockLoadcell struct{ m *Mock }

func (s mockLoadcell) ProcessSample(raw int32, timestampUs uint32) {
	s.m.emit(RawSample{TimestampUs: timestampUs, Channel: hxmux.LoadcellChannel, Raw: raw})
}

func (s mockLoadcell) UndefinedSample() {
	s.m.emit(RawSample{TimestampUs: s.m.sim.NowUs(), Channel: hxmux.LoadcellChannel, Raw: hx717.UndefinedValue})
}

func (s mockLoadcell) HighPrecisionEnabled() bool { return s.m.highPrecision.Load() }

func (s mockLoadcell) SetSamplingInterval(float32) {}

type mockFilament struct{ m *Mock }

func (s mockFilament) ProcessSample(raw int32, ch hx717.Channel) {
	s.m.emit(RawSample{TimestampUs: s.m.sim.NowUs(), Channel: ch, Raw: raw})
}
