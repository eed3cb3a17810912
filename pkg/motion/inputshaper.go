package motion

import "math"

const (
	// Shaped velocities and accelerations below these are rounded to zero.
	shaperVelocityEpsilon     = 1e-4
	shaperAccelerationEpsilon = 1e-2
)

// inputShaperGenerator produces steps for the sum of time shifted, amplitude
// scaled copies of the axis motion. Every pulse walks the move queue on its own;
// only pulse 0, which lags the most, holds a reference on its segment.
type inputShaperGenerator struct {
	pulses *ShaperPulses

	m          [MaxShaperPulses]uint32
	nextChange [MaxShaperPulses]float64
	nearest    float64 // earliest nextChange

	printTime float64
	startV    float64
	halfAccel float64
	startPos  float64
	stepDir   bool
	zeroCross bool
}

func (s *inputShaperGenerator) init(g *generator, e *Engine, idx uint32) {
	m := e.moves.At(idx)
	m.refs++
	s.printTime = m.PrintTime
	s.nearest = noEvent
	for i := 0; i < s.pulses.N; i++ {
		s.m[i] = idx
		s.nextChange[i] = m.EndTime() - s.pulses.Pulses[i].T
		s.nearest = math.Min(s.nearest, s.nextChange[i])
	}
	s.halfAccel = m.AxisHalfAccel(g.axis)
	s.startV = m.AxisStartV(g.axis)
	s.startPos = m.StartPos[g.axis]
	s.stepDir = m.StepDirection(g.axis)
	s.zeroCross = false

	e.state.setAxisFlags(g.axis, m.Flags.axisFlags(g.axis))
}

func (s *inputShaperGenerator) shapedHalfAccel(e *Engine, axis int) float64 {
	ha := 0.
	for i := 0; i < s.pulses.N; i++ {
		ha += s.pulses.Pulses[i].A * e.moves.At(s.m[i]).AxisHalfAccel(axis)
	}
	return ha
}

func (s *inputShaperGenerator) nearestChange() float64 {
	nearest := s.nextChange[0]
	for i := 1; i < s.pulses.N; i++ {
		nearest = math.Min(nearest, s.nextChange[i])
	}
	return nearest
}

func (s *inputShaperGenerator) direction() bool {
	switch {
	case s.startV == 0 && s.halfAccel == 0:
		return s.stepDir
	case s.startV != 0:
		return s.startV > 0
	default:
		return s.halfAccel > 0
	}
}

// update advances every pulse whose segment ends at elapsed. It handles only the
// first crossed change point so that close change points are never merged.
func (s *inputShaperGenerator) update(e *Engine, elapsed float64, axis int) bool {
	crossed := elapsed >= s.nearest-Epsilon
	if crossed {
		for i := 0; i < s.pulses.N; i++ {
			if s.nearest >= s.nextChange[i]-Epsilon {
				if _, ok := e.moves.Next(s.m[i]); !ok {
					return false
				}
			}
		}
	}

	currentPrintTime := 0.
	velocityJump := 0.
	if crossed {
		for i := 0; i < s.pulses.N; i++ {
			if s.nearest < s.nextChange[i]-Epsilon {
				continue
			}
			currentPrintTime = s.nextChange[i]

			if !s.zeroCross {
				m := e.moves.At(s.m[i])
				endV := m.AxisStartV(axis) + 2*m.AxisHalfAccel(axis)*m.Duration
				nextIdx, _ := e.moves.Next(s.m[i])
				next := e.moves.At(nextIdx)
				if i == 0 {
					m.refs--
					next.refs++
				}
				s.m[i] = nextIdx

				if dv := next.AxisStartV(axis) - endV; dv < -Epsilon || dv > Epsilon {
					velocityJump += dv * s.pulses.Pulses[i].A
				}
			} else {
				s.zeroCross = false
			}

			m := e.moves.At(s.m[i])
			s.nextChange[i] = m.EndTime() - s.pulses.Pulses[i].T
		}
	}

	if currentPrintTime <= 0 {
		return false
	}

	dt := currentPrintTime - s.printTime
	if first := e.moves.At(s.m[0]); s.m[0] == s.m[s.pulses.N-1] {
		// All pulses read the same segment, so resync to it to drop accumulated error.
		local := currentPrintTime - first.PrintTime
		s.startPos += (s.startV + s.halfAccel*dt) * dt
		s.startV = first.AxisStartV(axis) + 2*first.AxisHalfAccel(axis)*local
		s.halfAccel = first.AxisHalfAccel(axis)
	} else {
		dv := s.halfAccel * dt
		s.startPos += (s.startV + dv) * dt
		s.startV += 2*dv + velocityJump
		s.halfAccel = s.shapedHalfAccel(e, axis)

		if s.startV >= -shaperVelocityEpsilon && s.startV <= shaperVelocityEpsilon {
			s.startV = 0
		}
		if s.halfAccel >= -shaperAccelerationEpsilon && s.halfAccel <= shaperAccelerationEpsilon {
			s.halfAccel = 0
		}
	}

	s.stepDir = s.direction()
	s.printTime = currentPrintTime
	s.nearest = s.nearestChange()

	// Split the segment where the shaped velocity changes sign.
	moveT := s.nearest - s.printTime
	endV := s.startV + 2*s.halfAccel*moveT
	if (s.startV > 0 && endV < 0) || (s.startV < 0 && endV > 0) {
		zeroT := s.startV/(-2*s.halfAccel) + s.printTime
		minIdx := 0
		for i := 1; i < s.pulses.N; i++ {
			if s.nextChange[i] < s.nextChange[minIdx] {
				minIdx = i
			}
		}
		if zeroT < s.nextChange[minIdx] {
			s.nextChange[minIdx] = zeroT
			s.nearest = zeroT
			s.zeroCross = true
		}
	}
	return true
}

func (s *inputShaperGenerator) timeForDistance(distance float64) float64 {
	if s.halfAccel == 0 && s.startV == 0 {
		return math.NaN()
	}
	return timeForDistance(s.startV, 2*s.halfAccel, distance, s.stepDir)
}

func (s *inputShaperGenerator) next(g *generator, e *Engine, flush float64) stepEventInfo {
	st := &e.state
	axis := g.axis
	mmPerStep := e.mmPerStep[axis]

	for {
		dir := int64(1)
		if !s.stepDir {
			dir = -1
		}
		target := (float64(st.currentDistance[axis]) + .5*float64(dir)) * mmPerStep
		stepTime := s.timeForDistance(target - s.startPos)
		elapsed := stepTime + s.printTime

		if math.IsNaN(stepTime) || elapsed > s.nearest+Epsilon {
			updated := s.update(e, s.nearest, axis)
			if !updated {
				g.reachedEnd = true
			}

			var flags StepEventFlag
			if !s.stepDir {
				flags |= dirFlag(axis)
			}
			if s.startV != 0 || s.halfAccel != 0 {
				flags |= activeFlag(axis)
			}
			st.setAxisFlags(axis, flags)
			e.moveSegmentProcessed()

			if !updated {
				return noStepEvent
			}
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
