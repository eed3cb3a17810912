package motion

import "math"

// classicGenerator follows the move segments of its axis without any filtering.
type classicGenerator struct {
	move     uint32
	startV   float64
	accel    float64
	startPos float64
	stepDir  bool
}

func (c *classicGenerator) init(g *generator, e *Engine, idx uint32) {
	m := e.moves.At(idx)
	c.move = idx
	m.refs++
	e.state.setAxisFlags(g.axis, m.Flags.axisFlags(g.axis))
	c.update(g.axis, m)
}

func (c *classicGenerator) update(axis int, m *Move) {
	if r := m.AxesR[axis]; r != 0 {
		c.startV = m.StartV * r
		c.accel = 2 * m.HalfAccel * r
	} else {
		c.startV, c.accel = 0, 0
	}
	c.startPos = m.StartPos[axis]
	c.stepDir = m.StepDirection(axis)
}

func (c *classicGenerator) next(g *generator, e *Engine, flush float64) stepEventInfo {
	st := &e.state
	axis := g.axis
	mmPerStep := e.mmPerStep[axis]

	for {
		m := e.moves.At(c.move)
		dir := int64(1)
		if !c.stepDir {
			dir = -1
		}
		target := (float64(st.currentDistance[axis]) + .5*float64(dir)) * mmPerStep
		stepTime := timeForDistance(c.startV, c.accel, target-c.startPos, c.stepDir)
		elapsed := stepTime + m.PrintTime

		// NaN means the target is never reached within this segment.
		if math.IsNaN(stepTime) || elapsed > m.EndTime()+Epsilon {
			nextIdx, ok := e.moves.Next(c.move)
			if !ok {
				g.reachedEnd = true
				return noStepEvent
			}
			m.refs--
			c.move = nextIdx
			next := e.moves.At(nextIdx)
			next.refs++
			st.setAxisFlags(axis, next.Flags.axisFlags(axis))
			c.update(axis, next)
			e.moveSegmentProcessed()
			continue
		}

		if elapsed > flush {
			g.reachedEnd = true
			return noStepEvent
		}

		st.currentDistance[axis] += dir
		return stepEventInfo{time: elapsed, flags: stepFlag(axis) | st.flags}
	}
}
