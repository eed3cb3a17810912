// Package motion turns planner blocks into time-ordered step events.
//
// The pipeline is planner -> move segment queue -> per-axis step generators ->
// step event queue -> step ISR. Move segments live in a fixed arena addressed by
// slot index. Each generator holds a reference count on the segment it reads, and
// a segment is retired only after every generator moved past it and the step ISR
// consumed the event marking that boundary.
package motion

import (
	"math"

	"github.com/itohio/gobuddy/pkg/config"
)

// Axis indices.
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisE
	NumAxes = config.NumAxes
)

const (
	// Epsilon is the time tolerance used when comparing step times to segment ends.
	Epsilon = 1e-9
	// EpsilonFloat bounds negative discriminants that are treated as rounding noise.
	EpsilonFloat = 1e-7
	// MaxPrintTime is the duration of the ending empty move.
	MaxPrintTime = 10000000.0
	// BeginningEmptyMoveDuration must cover the longest generator lookback (3hump EI at 15 Hz).
	BeginningEmptyMoveDuration = 0.1
	// FirstStepDelay postpones the first step event after a halt.
	FirstStepDelay = 0.025
)

// Move is one constant-acceleration segment shared by all axes through AxesR.
type Move struct {
	StartV    float64 // mm/s along the segment
	HalfAccel float64 // mm/s^2 / 2 along the segment
	Duration  float64 // s
	PrintTime float64 // absolute start time, s
	AxesR     [NumAxes]float64
	StartPos  [NumAxes]float64
	Flags     MoveFlag

	refs int32
}

// EndTime returns the absolute time the segment ends.
func (m *Move) EndTime() float64 { return m.PrintTime + m.Duration }

// AxisStartV returns the start velocity projected on axis.
func (m *Move) AxisStartV(axis int) float64 { return m.StartV * m.AxesR[axis] }

// AxisHalfAccel returns half of the acceleration projected on axis.
func (m *Move) AxisHalfAccel(axis int) float64 { return m.HalfAccel * m.AxesR[axis] }

// AxisEndPos returns the axis position at the end of the segment.
func (m *Move) AxisEndPos(axis int) float64 {
	return m.StartPos[axis] + CalcDistance(m.StartV, m.HalfAccel, m.Duration)*m.AxesR[axis]
}

// RefCount returns the number of generators currently reading the segment.
func (m *Move) RefCount() int32 { return m.refs }

// StepDirection reports whether axis moves in the positive direction during the
// segment. It only depends on the segment fields, so repeated calls agree.
func (m *Move) StepDirection(axis int) bool {
	r := m.AxesR[axis]
	if v := m.StartV * r; v != 0 {
		return v > 0
	}
	if a := m.HalfAccel * r; a != 0 {
		return a > 0
	}
	return !m.Flags.negative(axis)
}

// CalcDistance returns (startV + halfAccel*t)*t.
func CalcDistance(startV, halfAccel, t float64) float64 {
	return (startV + halfAccel*t) * t
}

// CalcTimeForDistance returns the smallest non-negative t with
// startV*t + accel*t*t/2 == distance. It returns NaN when the distance is never
// reached or the motion is static.
func CalcTimeForDistance(startV, accel, distance float64) float64 {
	if accel == 0 {
		if startV == 0 {
			return math.NaN()
		}
		return distance / startV
	}
	if distance == 0 {
		return 0
	}

	disc := startV*startV + 2*accel*distance
	if disc < 0 {
		if disc > -EpsilonFloat {
			return -startV / accel
		}
		return math.NaN()
	}

	sq := math.Sqrt(disc)
	// 2d/(v+sqrt) is (sqrt-v)/a without the cancellation for small accelerations.
	if den := startV + sq; den != 0 {
		return 2 * distance / den
	}
	return (sq - startV) / accel
}

// timeForDistance solves for the time to travel distance in the step direction.
// Negative travel is mirrored so the solver always sees forward motion.
func timeForDistance(startV, accel, distance float64, positive bool) float64 {
	if positive {
		return CalcTimeForDistance(startV, accel, distance)
	}
	return CalcTimeForDistance(-startV, -accel, -distance)
}
