// Package sample turns the raw device stream into load cell readings.
package sample

import (
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/gobuddy/pkg/hx717"
	"github.com/itohio/gobuddy/pkg/hxmux"
	"github.com/itohio/gobuddy/pkg/loadcell"
	"github.com/itohio/gobuddy/pkg/logger"
	"github.com/itohio/gobuddy/pkg/sensor"
)

const (
	// DefaultBufferSize is the output buffer of a converter.
	DefaultBufferSize = 1024

	intervalWarmup = 64
	intervalMax    = 320
)

// Sample is one processed load cell reading.
type Sample struct {
	Time      time.Duration // device time since the first sample
	Channel   hx717.Channel
	Raw       int32
	Undefined bool

	// Load cell readings, zero for other channels and undefined samples.
	Load      float32 // tared, grams
	Z         float32 // Z band-pass output, grams
	XY        float32 // XY band-pass output, grams
	Endstop   bool
	XYEndstop bool
}

// Converter is a pipeline stage from raw device samples to processed samples.
type Converter func(in <-chan sensor.RawSample) <-chan Sample

// clock unwraps the 32-bit device microsecond counter.
type clock struct {
	started bool
	lastUs  uint32
	elapsed time.Duration
}

func (c *clock) at(us uint32) time.Duration {
	if !c.started {
		c.started = true
		c.lastUs = us
		return 0
	}
	// Samples may arrive slightly out of order across channels.
	c.elapsed += time.Duration(int32(us-c.lastUs)) * time.Microsecond
	c.lastUs = us
	return c.elapsed
}

// intervalEstimator measures the load cell sampling interval over runs of
// consecutive samples, the way the firmware mux does.
type intervalEstimator struct {
	count   int
	firstUs uint32
	live    bool
}

// reset starts a new run and reports whether an estimate was published.
func (e *intervalEstimator) reset() bool {
	live := e.live
	e.count = 0
	e.live = false
	return live
}

// add returns the estimate in µs and whether it is valid. The estimate is
// frozen once the run reaches intervalMax samples.
func (e *intervalEstimator) add(us uint32) (float32, bool) {
	if e.count >= intervalMax {
		return 0, false
	}
	e.count++
	if e.count == 1 {
		e.firstUs = us
		return 0, false
	}
	if e.count > intervalWarmup && e.count < intervalMax {
		e.live = true
		return float32(us-e.firstUs) / float32(e.count-1), true
	}
	return 0, false
}

// NewConverter creates a converter that runs every load cell sample through lc.
// Filament samples pass through unprocessed. They and undefined samples break
// the interval estimate, which lc then sees as NaN.
func NewConverter(lc *loadcell.Loadcell, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	log := logger.Named("sample")

	return func(in <-chan sensor.RawSample) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			var (
				clk     clock
				est     intervalEstimator
				dropped int
			)
			for raw := range in {
				s := Sample{
					Time:      clk.at(raw.TimestampUs),
					Channel:   raw.Channel,
					Raw:       raw.Raw,
					Undefined: raw.Undefined(),
				}

				switch {
				case raw.Channel != hxmux.LoadcellChannel:
					if est.reset() {
						lc.SetSamplingInterval(math32.NaN())
					}
				case s.Undefined:
					if est.reset() {
						lc.SetSamplingInterval(math32.NaN())
					}
					lc.UndefinedSample()
				default:
					if us, ok := est.add(raw.TimestampUs); ok {
						lc.SetSamplingInterval(us)
					}
					r := lc.Process(raw.Raw, raw.TimestampUs)
					s.Load = r.Load
					s.Z = r.Z
					s.XY = r.XY
					s.Endstop = r.Endstop
					s.XYEndstop = r.XYEndstop
				}

				select {
				case out <- s:
				default:
					dropped++
					if dropped == 1 {
						log.Warnw("converter output full, dropping samples")
					}
				}
			}
			if dropped > 0 {
				log.Infow("converter stopped", "dropped", dropped)
			}
		}()

		return out
	}
}
