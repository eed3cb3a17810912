package motion

import (
	"math"

	"github.com/itohio/gobuddy/pkg/config"
)

const (
	// PressureAdvanceFilterLength is the odd length of the smoothing window.
	PressureAdvanceFilterLength = 41
	// pressureAdvanceMinPositionDiff snaps step times to the previous sample when
	// two filtered samples are almost equal.
	pressureAdvanceMinPositionDiff = 1e-9
)

// PressureAdvanceParams is the shared, read-only part of the pressure advance filter.
type PressureAdvanceParams struct {
	Value        float64 // s
	SamplingRate float64 // sample period, s
	FilterDelay  float64 // s
	Window       []float64
}

// NewPressureAdvanceParams builds a normalized Bartlett window sampled so that
// the window spans smoothTime.
func NewPressureAdvanceParams(value, smoothTime float64) PressureAdvanceParams {
	const n = PressureAdvanceFilterLength
	rate := math.Round(smoothTime/(n-1)*1e6) / 1e6
	return PressureAdvanceParams{
		Value:        value,
		SamplingRate: rate,
		FilterDelay:  float64(n/2) * rate,
		Window:       BartlettWindow(n),
	}
}

func pressureAdvanceFromConfig(cfg *config.PressureAdvanceConfig) PressureAdvanceParams {
	return NewPressureAdvanceParams(cfg.Value, cfg.SmoothTime)
}

// BartlettWindow returns a triangular window of length n whose taps sum to 1.
func BartlettWindow(n int) []float64 {
	if n <= 1 {
		return []float64{1}
	}
	w := make([]float64, n)
	area := float64(n-1) / 2
	last := float64(n - 1)
	for i := range w {
		w[i] = (1 - math.Abs(2*(float64(i)-.5*last)/last)) / area
	}
	return w
}

// Lookback returns how far the filtered output trails the sampled input.
func (p *PressureAdvanceParams) Lookback() float64 {
	return p.SamplingRate * float64((len(p.Window)+1)/2)
}

// pressureAdvanceActive reports whether the segment extrudes while moving in XY.
// Retractions are smoothed but never advanced.
func pressureAdvanceActive(m *Move) bool {
	return m.Flags.active(AxisE) && !m.Flags.negative(AxisE) &&
		(m.Flags.active(AxisX) || m.Flags.active(AxisY))
}

// pressureAdvanceGenerator samples the advanced extruder position at a fixed
// rate, smooths it and interpolates step times between filtered samples.
type pressureAdvanceGenerator struct {
	params *PressureAdvanceParams

	buf       [PressureAdvanceFilterLength]float64
	bufLen    int
	bufStart  int // oldest sample once the buffer is full
	sameCount int // trailing samples taken with the extruder idle

	move      uint32
	startV    float64
	halfAccel float64
	startPos  float64
	stepDir   bool

	totalSample   uint32
	localSample   uint32
	localTimeLeft float64
	lastSample    uint32 // last sample index inside the current segment

	prevPosition float64
	nextPosition float64
}

func (p *pressureAdvanceGenerator) init(g *generator, e *Engine, idx uint32) {
	m := e.moves.At(idx)
	if m.Flags&MoveBeginningEmpty == 0 {
		panic("motion: pressure advance must start on the beginning empty move")
	}

	p.bufLen = len(p.params.Window)
	p.bufStart = 0
	p.sameCount = 0

	p.move = idx
	p.startPos = m.StartPos[g.axis]
	p.stepDir = m.StepDirection(g.axis)
	p.totalSample = 0
	p.localSample = 0
	p.localTimeLeft = 0
	p.prevPosition = p.startPos
	p.nextPosition = p.startPos
	p.precalculate(g.axis, m)

	var flags StepEventFlag
	if !p.stepDir {
		flags |= dirFlag(g.axis)
	}
	e.state.setAxisFlags(g.axis, flags)
	m.refs++
}

func (p *pressureAdvanceGenerator) precalculate(axis int, m *Move) {
	if m.Flags.active(axis) {
		p.startV = m.AxisStartV(axis)
		p.halfAccel = m.AxisHalfAccel(axis)
		if pressureAdvanceActive(m) {
			p.startV += 2 * p.halfAccel * p.params.Value
		}
	} else {
		p.startV, p.halfAccel = 0, 0
	}

	if m.Flags&MoveEndingEmpty == 0 {
		p.lastSample = uint32(m.EndTime() / p.params.SamplingRate)
	} else {
		p.lastSample = math.MaxUint32
	}
}

func (p *pressureAdvanceGenerator) applyFilter() float64 {
	if p.sameCount >= p.bufLen {
		return p.startPos
	}
	w := p.params.Window
	v := 0.
	split := p.bufLen - p.bufStart
	for i := 0; i < split; i++ {
		v += w[i] * p.buf[p.bufStart+i]
	}
	for i := split; i < p.bufLen; i++ {
		v += w[i] * p.buf[i-split]
	}
	return v
}

func (p *pressureAdvanceGenerator) updateSameCount(active bool) {
	if !active && p.sameCount < p.bufLen {
		p.sameCount++
	} else if active && p.sameCount > 0 {
		p.sameCount = 0
	}
}

func (p *pressureAdvanceGenerator) sampleTime() float64 {
	return p.localTimeLeft + float64(p.localSample)*p.params.SamplingRate
}

// sampleNext takes one more sample. It returns false when the current segment
// has no sample left and the generator has to move on.
func (p *pressureAdvanceGenerator) sampleNext(axis int, m *Move) bool {
	active := m.Flags.active(axis)
	switch {
	case p.totalSample < uint32(p.bufLen):
		for ; p.totalSample < uint32(p.bufLen) && p.totalSample <= p.lastSample; p.totalSample, p.localSample = p.totalSample+1, p.localSample+1 {
			p.buf[p.totalSample] = p.startPos + CalcDistance(p.startV, p.halfAccel, p.sampleTime())
			p.updateSameCount(active)
		}
		return p.totalSample == uint32(p.bufLen)
	case p.totalSample > p.lastSample:
		return false
	case !active && m.Flags&MoveEndingEmpty == 0 && p.sameCount >= p.bufLen:
		// Nothing changes while the extruder is idle, so skip the whole segment.
		n := p.lastSample - p.totalSample + 1
		p.totalSample += n
		p.localSample += n
		return false
	}

	pos := p.startPos
	if active {
		pos += CalcDistance(p.startV, p.halfAccel, p.sampleTime())
	}
	p.buf[p.bufStart] = pos
	p.bufStart = (p.bufStart + 1) % p.bufLen
	p.totalSample++
	p.localSample++
	p.updateSameCount(active)
	return true
}

func (p *pressureAdvanceGenerator) prevSampleTime() float64 {
	return p.params.SamplingRate*float64(p.totalSample-2) - p.params.FilterDelay
}

func (p *pressureAdvanceGenerator) interpolate(diff, target float64) float64 {
	if math.Abs(diff) < pressureAdvanceMinPositionDiff {
		return p.prevSampleTime()
	}
	ratio := math.Max(0, math.Min(1, (target-p.prevPosition)/diff))
	return p.params.SamplingRate*(float64(p.totalSample-2)+ratio) - p.params.FilterDelay
}

func (p *pressureAdvanceGenerator) reachedEnd(m *Move) bool {
	return m.Flags&MoveEndingEmpty != 0 && p.prevPosition == p.nextPosition
}

// stepTime returns the absolute time of the next step, or +Inf when the current
// segment ran out of samples.
func (p *pressureAdvanceGenerator) stepTime(e *Engine, axis int) float64 {
	st := &e.state
	m := e.moves.At(p.move)
	mmPerStep := e.mmPerStep[axis]
	halfStep := mmPerStep / 2

	for !p.reachedEnd(m) {
		// Interpolate only when both positions hold filtered values.
		if p.totalSample > uint32(p.bufLen) {
			diff := p.nextPosition - p.prevPosition
			dir := p.stepDir
			if diff != 0 {
				dir = diff > 0
			}
			if positive := float64(st.currentDistance[axis])*mmPerStep + halfStep; dir && p.prevPosition <= positive && positive <= p.nextPosition {
				p.stepDir = dir
				return p.interpolate(diff, positive)
			}
			if negative := float64(st.currentDistance[axis]-1)*mmPerStep + halfStep; !dir && p.prevPosition >= negative && negative >= p.nextPosition {
				p.stepDir = dir
				return p.interpolate(diff, negative)
			}
		}

		if !p.sampleNext(axis, m) {
			return math.Inf(1)
		}
		p.prevPosition = p.nextPosition
		p.nextPosition = p.applyFilter()
	}

	// The extruder stopped, so the axis is no longer active.
	st.flags &^= activeFlag(axis)
	return math.Inf(1)
}

func (p *pressureAdvanceGenerator) next(g *generator, e *Engine) stepEventInfo {
	st := &e.state
	axis := g.axis

	for {
		prevDir := p.stepDir
		stepTime := p.stepTime(e, axis)
		if prevDir != p.stepDir {
			var flags StepEventFlag
			if !p.stepDir {
				flags = dirFlag(axis)
			}
			st.flags = st.flags&^dirFlag(axis) | flags
		}

		if !math.IsInf(stepTime, 1) {
			st.flags |= activeFlag(axis)
			if p.stepDir {
				st.currentDistance[axis]++
			} else {
				st.currentDistance[axis]--
			}
			return stepEventInfo{time: stepTime, flags: stepFlag(axis) | st.flags}
		}

		nextIdx, ok := e.moves.Next(p.move)
		if !ok {
			g.reachedEnd = true
			return noStepEvent
		}
		cur := e.moves.At(p.move)
		next := e.moves.At(nextIdx)

		p.startPos = next.StartPos[axis]
		if pressureAdvanceActive(next) {
			p.startPos += next.AxisStartV(axis) * p.params.Value
		}

		cur.refs--
		p.move = nextIdx
		next.refs++

		p.localSample = 0
		p.localTimeLeft = math.Max(float64(p.totalSample)*p.params.SamplingRate-next.PrintTime, 0)
		p.precalculate(axis, next)
		e.moveSegmentProcessed()
	}
}
