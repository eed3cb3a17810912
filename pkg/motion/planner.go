package motion

import (
	"errors"
	"fmt"
	"math"
)

// moveQueueMinFreeSlots is kept free so the ending empty move always fits.
const moveQueueMinFreeSlots = 1

var (
	// ErrBlockQueueFull is returned by AddBlock while the block queue is full.
	ErrBlockQueueFull = errors.New("block queue full")
	// ErrInvalidBlock is returned for blocks whose speed profile cannot be executed.
	ErrInvalidBlock = errors.New("invalid block")
)

// Block is a straight move with a trapezoidal speed profile. Speeds are along
// the path, which is the XYZ distance or the E distance for extruder-only moves.
type Block struct {
	Delta        [NumAxes]float64 // mm
	EntrySpeed   float64          // mm/s
	CruiseSpeed  float64          // mm/s
	ExitSpeed    float64          // mm/s
	Acceleration float64          // mm/s^2
}

// Length returns the path length of the block.
func (b *Block) Length() float64 {
	l := math.Sqrt(b.Delta[AxisX]*b.Delta[AxisX] + b.Delta[AxisY]*b.Delta[AxisY] + b.Delta[AxisZ]*b.Delta[AxisZ])
	if l == 0 {
		return math.Abs(b.Delta[AxisE])
	}
	return l
}

// IsSync reports whether the block carries no motion. Such blocks only mark a
// position in the stream.
func (b *Block) IsSync() bool { return b.Length() == 0 }

// Validate checks that the speed profile is executable.
func (b *Block) Validate() error {
	if b.IsSync() {
		return nil
	}
	l := b.Length()
	v0, vc, v1, a := b.EntrySpeed, b.CruiseSpeed, b.ExitSpeed, b.Acceleration
	switch {
	case v0 < 0 || vc <= 0 || v1 < 0 || a < 0:
		return fmt.Errorf("%w: speeds and acceleration must be positive", ErrInvalidBlock)
	case v0 > vc || v1 > vc:
		return fmt.Errorf("%w: entry %g and exit %g must not exceed cruise %g", ErrInvalidBlock, v0, v1, vc)
	case a == 0 && (v0 != vc || v1 != vc):
		return fmt.Errorf("%w: speed changes without acceleration", ErrInvalidBlock)
	case math.Abs(v1*v1-v0*v0) > 2*a*l*(1+1e-9):
		return fmt.Errorf("%w: cannot change speed from %g to %g within %g mm", ErrInvalidBlock, v0, v1, l)
	}
	return nil
}

type phase struct {
	startV    float64
	halfAccel float64
	duration  float64
	flag      MoveFlag
}

// phases splits the block into at most three constant acceleration phases.
// Phases shorter than Epsilon are dropped.
func (b *Block) phases() ([3]phase, int) {
	var out [3]phase
	l := b.Length()
	v0, vc, v1, a := b.EntrySpeed, b.CruiseSpeed, b.ExitSpeed, b.Acceleration

	var accelT, cruiseT, decelT float64
	if a == 0 {
		cruiseT = l / vc
	} else {
		accelD := (vc*vc - v0*v0) / (2 * a)
		decelD := (vc*vc - v1*v1) / (2 * a)
		if accelD+decelD > l {
			// Triangle profile: the cruise speed is never reached.
			vc = math.Max(math.Sqrt((2*a*l+v0*v0+v1*v1)/2), math.Max(v0, v1))
			accelD = (vc*vc - v0*v0) / (2 * a)
			decelD = math.Max(l-accelD, 0)
		}
		accelT = (vc - v0) / a
		decelT = (vc - v1) / a
		if cruiseD := l - accelD - decelD; cruiseD > 0 {
			cruiseT = cruiseD / vc
		}
	}

	n := 0
	add := func(p phase) {
		if p.duration >= Epsilon {
			out[n] = p
			n++
		}
	}
	add(phase{startV: v0, halfAccel: a / 2, duration: accelT, flag: MoveAccelerationPhase})
	add(phase{startV: vc, duration: cruiseT, flag: MoveCruisePhase})
	add(phase{startV: vc, halfAccel: -a / 2, duration: decelT, flag: MoveDecelerationPhase})
	return out, n
}

// AddBlock queues a block for ProcessBlocks.
func (e *Engine) AddBlock(b Block) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if !e.blocks.TryPush(b) {
		return ErrBlockQueueFull
	}
	return nil
}

// AppendBlock splits b into move segments and appends them to the move queue.
// It returns false when the queue lacks room; the caller retries later.
func (e *Engine) AppendBlock(b *Block) bool {
	if e.globalPrintTime >= MaxPrintTime {
		// Halted, waiting for the queues to drain.
		return false
	}
	if b.IsSync() {
		return e.appendSyncMove()
	}

	phases, n := b.phases()
	if n == 0 {
		e.finishedBlocks.Add(1)
		return true
	}

	need := n + moveQueueMinFreeSlots
	if e.globalPrintTime == 0 {
		need++
	}
	if e.moves.Free() < need {
		return false
	}
	if e.globalPrintTime == 0 {
		e.appendBeginningEmptyMove()
	}

	l := b.Length()
	var axesR [NumAxes]float64
	var axisFlags MoveFlag
	for i := range b.Delta {
		axesR[i] = b.Delta[i] / l
		if b.Delta[i] != 0 {
			axisFlags |= MoveFlag(activeFlag(i))
		}
		if b.Delta[i] < 0 {
			axisFlags |= MoveFlag(dirFlag(i))
		}
	}

	pos := e.globalStartPos
	printTime := e.globalPrintTime
	for i := 0; i < n; i++ {
		p := phases[i]
		flags := axisFlags | p.flag
		if i == 0 {
			flags |= MoveFirstSegmentOfBlock
		}
		if i == n-1 {
			flags |= MoveLastSegmentOfBlock
		}
		e.moves.Push(Move{
			StartV:    p.startV,
			HalfAccel: p.halfAccel,
			Duration:  p.duration,
			PrintTime: printTime,
			AxesR:     axesR,
			StartPos:  pos,
			Flags:     flags,
		})

		d := CalcDistance(p.startV, p.halfAccel, p.duration)
		for a := range pos {
			pos[a] += d * axesR[a]
		}
		printTime += p.duration
	}

	for a := range e.globalStartPos {
		e.globalStartPos[a] += b.Delta[a]
	}
	e.globalPrintTime = printTime
	e.state.clearReachedEnd()
	return true
}

// appendSyncMove queues a zero length segment that only retires a block.
func (e *Engine) appendSyncMove() bool {
	if e.globalPrintTime == 0 {
		e.finishedBlocks.Add(1)
		return true
	}
	if e.moves.Free() < 1+moveQueueMinFreeSlots {
		return false
	}
	e.moves.Push(Move{
		PrintTime: e.globalPrintTime,
		StartPos:  e.globalStartPos,
		Flags:     MoveFirstSegmentOfBlock | MoveLastSegmentOfBlock,
	})
	e.state.clearReachedEnd()
	return true
}

func (e *Engine) appendBeginningEmptyMove() {
	e.moves.Push(Move{
		Duration: BeginningEmptyMoveDuration,
		StartPos: e.globalStartPos,
		Flags:    MoveBeginningEmpty,
	})
	e.globalPrintTime = BeginningEmptyMoveDuration
}

func (e *Engine) appendEndingEmptyMove() bool {
	if e.moves.Free() < 1 {
		return false
	}
	e.moves.Push(Move{
		Duration:  MaxPrintTime,
		PrintTime: e.globalPrintTime,
		StartPos:  e.globalStartPos,
		Flags:     MoveEndingEmpty,
	})
	e.globalPrintTime += MaxPrintTime
	e.state.clearReachedEnd()
	e.log.Debugw("ending empty move queued", "print_time", e.globalPrintTime-MaxPrintTime)
	return true
}
