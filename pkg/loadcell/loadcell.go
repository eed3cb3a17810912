// Package loadcell turns raw HX717 load cell samples into tared loads, band-pass
// filtered loads and endstop states.
//
// Samples arrive from the mux handler. Everything else (tare, thresholds, high
// precision, barrier waits) is called from other goroutines, so state shared
// with the sample path is atomic.
package loadcell

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/hx717"
	"github.com/itohio/gobuddy/pkg/logger"
)

var (
	ErrSensorFault = errors.New("load cell sensor fault")
	ErrTareTimeout = errors.New("load cell tare timed out")
	ErrTareCleared = errors.New("load cell tare cleared")
)

// TareMode selects how the zero reference is taken.
type TareMode int32

const (
	// TareStatic averages StaticTareSamples raw samples into an offset.
	TareStatic TareMode = iota
	// TareContinuous captures no offset. It restarts the band-pass filters and
	// waits for the Z filter to settle.
	TareContinuous
)

func (m TareMode) String() string {
	switch m {
	case TareStatic:
		return "static"
	case TareContinuous:
		return "continuous"
	}
	return fmt.Sprintf("TareMode(%d)", int32(m))
}

type float32Value struct{ bits atomic.Uint32 }

func (v *float32Value) Load() float32   { return math32.Float32frombits(v.bits.Load()) }
func (v *float32Value) Store(f float32) { v.bits.Store(math32.Float32bits(f)) }

// Reading is the result of processing one sample.
type Reading struct {
	TimestampUs uint32
	Raw         int32
	// Load is the tared load in grams.
	Load float32
	// Z and XY are the band-pass filtered loads in grams.
	Z, XY     float32
	Endstop   bool
	XYEndstop bool
}

// Stats counts processed and lost samples.
type Stats struct {
	Samples   uint32
	Undefined uint32
	Faults    uint32
}

// Loadcell is the load cell state machine.
type Loadcell struct {
	cfg *config.LoadcellConfig
	log *zap.SugaredLogger

	scale               float32Value
	thresholdStatic     float32Value
	thresholdContinuous float32Value
	hysteresis          float32Value
	xyThreshold         float32Value
	xyHysteresis        float32Value

	// Owned by the sample path.
	zFilter        *BandPassFilter
	xyFilter       *BandPassFilter
	undefinedCount int
	started        bool
	filterGen      uint32

	// filterReset is bumped to request a filter restart. zSettled holds the
	// last restart generation whose Z filter has settled.
	filterReset  atomic.Uint32
	zSettled     atomic.Uint32
	clearRequest atomic.Bool
	clearGen     atomic.Uint32
	// tareClear asks the sample path to drop the tare again, for a sample
	// that was in flight during Clear. Tare withdraws it.
	tareClear atomic.Bool

	tareMode   atomic.Int32
	tareCount  atomic.Int32
	tareTarget atomic.Int32
	tareSum    atomic.Int64
	offset     atomic.Int32

	highPrecision    atomic.Bool
	xyEndstopEnabled atomic.Bool
	endstop          atomic.Bool
	xyEndstop        atomic.Bool
	faulted          atomic.Bool

	haveSample   atomic.Bool
	lastSampleUs atomic.Uint32
	lastRaw      atomic.Int32
	taredLoad    float32Value
	zLoad        float32Value
	xyLoad       float32Value
	interval     float32Value

	analysis        *ProbeAnalysis
	analysisEnabled atomic.Bool
	zPosition       atomic.Pointer[func() float32]

	samples   atomic.Uint32
	undefined atomic.Uint32
	faults    atomic.Uint32
}

// New creates a load cell with its thresholds taken from cfg.
func New(cfg *config.LoadcellConfig) *Loadcell {
	l := &Loadcell{
		cfg:      cfg,
		log:      logger.Named("loadcell"),
		zFilter:  NewBandPassFilter(&ZFilter),
		xyFilter: NewBandPassFilter(&XYFilter),
		analysis: NewProbeAnalysis(cfg.AnalysisWindow, math32.NaN()),
	}
	l.scale.Store(float32(cfg.Scale))
	l.thresholdStatic.Store(float32(cfg.ThresholdStatic))
	l.thresholdContinuous.Store(float32(cfg.ThresholdContinuous))
	l.hysteresis.Store(float32(cfg.Hysteresis))
	l.xyThreshold.Store(float32(cfg.XYThreshold))
	l.xyHysteresis.Store(float32(cfg.XYHysteresis))
	l.interval.Store(math32.NaN())
	l.taredLoad.Store(math32.NaN())
	return l
}

// SetScale sets grams per ADC count.
func (l *Loadcell) SetScale(gramsPerCount float32) { l.scale.Store(gramsPerCount) }

// SetThreshold sets the Z endstop threshold used in the given tare mode.
func (l *Loadcell) SetThreshold(mode TareMode, grams float32) {
	if mode == TareContinuous {
		l.thresholdContinuous.Store(grams)
		return
	}
	l.thresholdStatic.Store(grams)
}

// SetHysteresis sets how far the load must fall below the threshold to release the Z endstop.
func (l *Loadcell) SetHysteresis(grams float32) { l.hysteresis.Store(grams) }

func (l *Loadcell) Scale() float32 { return l.scale.Load() }

func (l *Loadcell) Threshold(mode TareMode) float32 {
	if mode == TareContinuous {
		return l.thresholdContinuous.Load()
	}
	return l.thresholdStatic.Load()
}

func (l *Loadcell) Hysteresis() float32 { return l.hysteresis.Load() }

// EnableHighPrecision dedicates every conversion to the load cell and restarts
// the filters. Enabling twice is a programming error.
func (l *Loadcell) EnableHighPrecision() {
	if !l.highPrecision.CompareAndSwap(false, true) {
		panic("loadcell: high precision already enabled")
	}
	l.filterReset.Add(1)
}

// DisableHighPrecision undoes EnableHighPrecision. Disabling twice is a programming error.
func (l *Loadcell) DisableHighPrecision() {
	if !l.highPrecision.CompareAndSwap(true, false) {
		panic("loadcell: high precision not enabled")
	}
}

func (l *Loadcell) HighPrecisionEnabled() bool { return l.highPrecision.Load() }

// EnableXYEndstop arms or disarms the XY endstop.
func (l *Loadcell) EnableXYEndstop(enable bool) {
	l.xyEndstopEnabled.Store(enable)
	if !enable {
		l.xyEndstop.Store(false)
	}
}

func (l *Loadcell) XYEndstopEnabled() bool { return l.xyEndstopEnabled.Load() }

// SetSamplingInterval receives the measured sample interval in µs.
func (l *Loadcell) SetSamplingInterval(us float32) {
	l.interval.Store(us)
	l.analysis.SetSamplingInterval(us)
}

// SamplingInterval returns the last measured interval in µs, NaN when unknown.
func (l *Loadcell) SamplingInterval() float32 { return l.interval.Load() }

// SetZPosition installs the source of the nozzle Z coordinate used by probe analysis.
func (l *Loadcell) SetZPosition(fn func() float32) { l.zPosition.Store(&fn) }

// Analysis returns the probe analysis window.
func (l *Loadcell) Analysis() *ProbeAnalysis { return l.analysis }

// EnableAnalysis starts or stops feeding the probe analysis window.
func (l *Loadcell) EnableAnalysis(enable bool) {
	if enable {
		l.analysis.Reset()
	}
	l.analysisEnabled.Store(enable)
}

// Clear releases the endstops, restarts the filters, drops the tare and
// clears a sensor fault. A Tare in progress returns ErrTareCleared.
func (l *Loadcell) Clear() {
	l.clearGen.Add(1)
	l.endstop.Store(false)
	l.xyEndstop.Store(false)
	l.resetTare()
	l.tareClear.Store(true)
	l.clearRequest.Store(true)
	l.filterReset.Add(1)
	l.faulted.Store(false)
}

func (l *Loadcell) resetTare() {
	l.tareCount.Store(0)
	l.tareSum.Store(0)
	l.offset.Store(0)
	l.tareMode.Store(int32(TareStatic))
}

// Err returns ErrSensorFault while the sensor is faulted.
func (l *Loadcell) Err() error {
	if l.faulted.Load() {
		return ErrSensorFault
	}
	return nil
}

// TaredZLoad returns the tared load in grams, NaN while faulted.
func (l *Loadcell) TaredZLoad() float32 {
	if l.faulted.Load() {
		return math32.NaN()
	}
	return l.taredLoad.Load()
}

func (l *Loadcell) FilteredZLoad() float32  { return l.zLoad.Load() }
func (l *Loadcell) FilteredXYLoad() float32 { return l.xyLoad.Load() }
func (l *Loadcell) RawValue() int32         { return l.lastRaw.Load() }
func (l *Loadcell) Offset() int32           { return l.offset.Load() }
func (l *Loadcell) Endstop() bool           { return l.endstop.Load() }
func (l *Loadcell) XYEndstop() bool         { return l.xyEndstop.Load() }
func (l *Loadcell) TareMode() TareMode      { return TareMode(l.tareMode.Load()) }

// LastSampleTimeUs returns the timestamp of the last valid sample.
func (l *Loadcell) LastSampleTimeUs() uint32 { return l.lastSampleUs.Load() }

func (l *Loadcell) Stats() Stats {
	return Stats{
		Samples:   l.samples.Load(),
		Undefined: l.undefined.Load(),
		Faults:    l.faults.Load(),
	}
}

func (l *Loadcell) applyRequests() {
	if l.clearRequest.Swap(false) {
		l.undefinedCount = 0
	}
	if l.tareClear.Swap(false) {
		l.resetTare()
	}
	if gen := l.filterReset.Load(); gen != l.filterGen {
		l.filterGen = gen
		l.zFilter.Reset()
		l.xyFilter.Reset()
	}
}

// UndefinedSample records a lost conversion. Too many in a row, or too many
// before the first valid sample, fault the sensor.
func (l *Loadcell) UndefinedSample() {
	l.applyRequests()
	l.undefined.Add(1)
	l.undefinedCount++

	limit := l.cfg.UndefinedSampleMax
	if !l.started {
		limit = l.cfg.UndefinedInitMax
	}
	if l.undefinedCount > limit && !l.faulted.Load() {
		l.faulted.Store(true)
		l.faults.Add(1)
		l.log.Errorw("sensor fault", "undefined", l.undefinedCount, "started", l.started)
	}
}

// ProcessSample implements the mux sink.
func (l *Loadcell) ProcessSample(raw int32, timestampUs uint32) {
	l.Process(raw, timestampUs)
}

func hysteresisTrigger(active bool, load, threshold, hysteresis float32) bool {
	v := math32.Abs(load)
	if active {
		return v >= threshold-hysteresis
	}
	return v > threshold
}

// Process runs one sample through tare, filters and endstops.
func (l *Loadcell) Process(raw int32, timestampUs uint32) Reading {
	if raw == hx717.UndefinedValue {
		l.UndefinedSample()
		return Reading{TimestampUs: timestampUs, Raw: raw, Load: math32.NaN(), Z: math32.NaN(), XY: math32.NaN()}
	}
	l.applyRequests()
	l.undefinedCount = 0
	l.started = true
	l.samples.Add(1)

	// Tare and Clear may zero tareCount concurrently.
	if n := l.tareCount.Load(); n > 0 {
		sum := l.tareSum.Add(int64(raw))
		if l.tareCount.CompareAndSwap(n, n-1) && n == 1 {
			l.offset.Store(int32(sum / int64(l.tareTarget.Load())))
		}
	}

	scale := l.scale.Load()
	load := float32(raw-l.offset.Load()) * scale
	z := l.zFilter.Filter(float32(raw) * scale)
	xy := l.xyFilter.Filter(float32(raw) * scale)
	if l.zFilter.Settled() {
		l.zSettled.Store(l.filterGen)
	}

	hyst := l.hysteresis.Load()
	switch l.TareMode() {
	case TareContinuous:
		active := l.zFilter.Settled() && hysteresisTrigger(l.endstop.Load(), z, l.thresholdContinuous.Load(), hyst)
		l.endstop.Store(active)
	default:
		l.endstop.Store(hysteresisTrigger(l.endstop.Load(), load, l.thresholdStatic.Load(), hyst))
	}
	if l.xyEndstopEnabled.Load() {
		active := l.xyFilter.Settled() &&
			hysteresisTrigger(l.xyEndstop.Load(), xy, l.xyThreshold.Load(), l.xyHysteresis.Load())
		l.xyEndstop.Store(active)
	}

	if l.analysisEnabled.Load() {
		if pos := l.zPosition.Load(); pos != nil {
			l.analysis.Add((*pos)(), load)
		}
	}

	l.lastRaw.Store(raw)
	l.taredLoad.Store(load)
	l.zLoad.Store(z)
	l.xyLoad.Store(xy)
	l.lastSampleUs.Store(timestampUs)
	l.haveSample.Store(true)

	return Reading{
		TimestampUs: timestampUs,
		Raw:         raw,
		Load:        load,
		Z:           z,
		XY:          xy,
		Endstop:     l.endstop.Load(),
		XYEndstop:   l.xyEndstop.Load(),
	}
}

// Tare takes a new zero reference and blocks until the sample path has
// collected it. It returns the measured offset: the averaged raw value of
// StaticTareSamples samples in static mode, the settled Z filter output in
// grams in continuous mode.
func (l *Loadcell) Tare(ctx context.Context, mode TareMode) (float32, error) {
	if err := l.Err(); err != nil {
		return 0, err
	}
	gen := l.clearGen.Load()
	l.tareClear.Store(false)
	deadline := time.Now().Add(l.cfg.TareTimeout)
	wait := func(done func() bool) error {
		for !done() {
			var err error
			switch {
			case l.faulted.Load():
				err = ErrSensorFault
			case l.clearGen.Load() != gen:
				err = ErrTareCleared
			case ctx.Err() != nil:
				err = ctx.Err()
			case time.Now().After(deadline):
				err = ErrTareTimeout
			}
			if err != nil {
				return fmt.Errorf("tare %s: %w", mode, err)
			}
			runtime.Gosched()
		}
		if l.clearGen.Load() != gen {
			return fmt.Errorf("tare %s: %w", mode, ErrTareCleared)
		}
		return nil
	}

	if mode == TareContinuous {
		l.tareCount.Store(0)
		l.tareMode.Store(int32(mode))
		reset := l.filterReset.Add(1)
		if err := wait(func() bool { return int32(l.zSettled.Load()-reset) >= 0 }); err != nil {
			return 0, err
		}
		z := l.FilteredZLoad()
		l.log.Infow("tare done", "mode", mode.String(), "filtered", z)
		return z, nil
	}

	n := l.cfg.StaticTareSamples
	l.tareMode.Store(int32(mode))
	l.tareTarget.Store(int32(n))
	l.tareSum.Store(0)
	l.tareCount.Store(int32(n))
	if err := wait(func() bool { return l.tareCount.Load() <= 0 }); err != nil {
		l.tareCount.Store(0)
		return 0, err
	}
	offset := l.offset.Load()
	l.log.Infow("tare done", "mode", mode.String(), "offset", offset)
	return float32(offset), nil
}

// WaitBarrier blocks until a sample taken at or after timestampUs has been
// processed. Timestamps wrap, so the comparison is done on the difference.
func (l *Loadcell) WaitBarrier(ctx context.Context, timestampUs uint32) error {
	for !l.haveSample.Load() || int32(l.lastSampleUs.Load()-timestampUs) < 0 {
		if err := l.Err(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}
