package motion

import (
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/logger"
	"github.com/itohio/gobuddy/pkg/ring"
)

const (
	// BlockQueueSize is the number of planner blocks waiting for ProcessBlocks.
	BlockQueueSize = 16
	// MinStepEventFreeSlots is kept free for discarding events.
	MinStepEventFreeSlots = 2
	// MaxStepEventsPerCall bounds the work of one ProcessMoveSegments call.
	MaxStepEventsPerCall = 256
	// idleTicksDivider sets the ISR period while the step queue is empty (1 ms).
	idleTicksDivider = 1000
)

type generateStatus int

const (
	statusOK generateStatus = iota
	statusNoEvents
	statusQueueFull
)

// StepperDriver receives the output of the step ISR.
type StepperDriver interface {
	SetDirection(axis int, negative bool)
	Step(axis int)
}

// Engine owns the block, move segment and step event queues and the step
// generators between them. ProcessBlocks and ProcessMoveSegments run in the
// background loop, StepISR runs in the step timer interrupt.
type Engine struct {
	cfg            *config.MotionConfig
	log            *zap.SugaredLogger
	mmPerStep      [NumAxes]float64
	ticksPerSecond float64

	blocks *ring.Ring[Block]
	moves  *MoveQueue
	steps  *ring.Ring[StepEvent]

	shapers  [NumAxes - 1]ShaperPulses
	pressure PressureAdvanceParams
	state    stepGeneratorState

	globalPrintTime float64
	globalStartPos  [NumAxes]float64
	stopPending     atomic.Bool

	// Step ISR side.
	driver         StepperDriver
	dirBits        StepEventFlag
	positions      [NumAxes]atomic.Int64
	finishedBlocks atomic.Uint32
	endOfMotion    atomic.Uint32
	underruns      atomic.Uint32
	outOfOrder     atomic.Uint32
	events         atomic.Uint64
}

// New creates an engine from the motion configuration.
func New(cfg *config.MotionConfig) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid motion config: %w", err)
	}

	e := &Engine{
		cfg:            cfg,
		log:            logger.Named("motion"),
		ticksPerSecond: cfg.TicksPerSecond,
		blocks:         ring.New[Block](BlockQueueSize),
		moves:          NewMoveQueue(cfg.MoveQueueSize),
		steps:          ring.New[StepEvent](cfg.StepQueueSize),
		pressure:       pressureAdvanceFromConfig(&cfg.PressureAdvance),
	}

	for axis := 0; axis < NumAxes; axis++ {
		e.mmPerStep[axis] = 1 / cfg.StepsPerMM[axis]

		kind, err := ParseKind(cfg.Generators[axis])
		if err != nil {
			return nil, fmt.Errorf("axis %d: %w", axis, err)
		}
		g := &e.state.gens[axis]
		g.kind = kind
		g.axis = axis
		switch kind {
		case KindInputShaper:
			pulses, err := shaperFromConfig(cfg.InputShaper.Axis(axis))
			if err != nil {
				return nil, fmt.Errorf("axis %d: %w", axis, err)
			}
			e.shapers[axis] = pulses
			g.shaper.pulses = &e.shapers[axis]
		case KindPressureAdvance:
			g.pa.params = &e.pressure
		}
	}

	if lb := e.maxLookback(); lb > BeginningEmptyMoveDuration {
		return nil, fmt.Errorf("generator lookback %.4fs exceeds the beginning empty move", lb)
	}
	return e, nil
}

// SetDriver attaches the stepper outputs. Call before motion starts.
func (e *Engine) SetDriver(d StepperDriver) { e.driver = d }

// MoveQueue exposes the move segment arena.
func (e *Engine) MoveQueue() *MoveQueue { return e.moves }

// StepQueue exposes the step event queue.
func (e *Engine) StepQueue() *ring.Ring[StepEvent] { return e.steps }

// MMPerStep returns the step length of axis.
func (e *Engine) MMPerStep(axis int) float64 { return e.mmPerStep[axis] }

// PrintTime returns the end time of the last queued segment.
func (e *Engine) PrintTime() float64 { return e.globalPrintTime }

// Position returns the step count of axis as executed by the ISR.
func (e *Engine) Position(axis int) int64 { return e.positions[axis].Load() }

// FinishedBlocks returns how many blocks the ISR has fully executed.
func (e *Engine) FinishedBlocks() uint32 { return e.finishedBlocks.Load() }

// Stats is a snapshot of the engine counters.
type Stats struct {
	Events         uint64
	FinishedBlocks uint32
	MotionEnds     uint32
	Underruns      uint32 // ISR found the step queue empty mid motion
	OutOfOrder     uint32 // events whose time preceded the previous event
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Events:         e.events.Load(),
		FinishedBlocks: e.finishedBlocks.Load(),
		MotionEnds:     e.endOfMotion.Load(),
		Underruns:      e.underruns.Load(),
		OutOfOrder:     e.outOfOrder.Load(),
	}
}

// Idle reports whether every queue is empty and the engine is halted.
func (e *Engine) Idle() bool {
	return e.blocks.Empty() && e.moves.Empty() && e.steps.Empty() &&
		(e.globalPrintTime == 0 || e.globalPrintTime >= MaxPrintTime)
}

// Stop requests an abrupt stop. Queued motion is dropped on the next ProcessBlocks.
func (e *Engine) Stop() { e.stopPending.Store(true) }

func (e *Engine) maxLookback() float64 {
	lb := 0.
	for i := range e.state.gens {
		lb = math.Max(lb, e.state.gens[i].lookback())
	}
	return lb
}

// ProcessBlocks converts queued blocks into move segments and closes the
// stream with the ending empty move once the generators ran dry.
func (e *Engine) ProcessBlocks() {
	if e.stopPending.Load() {
		e.stop()
		return
	}

	if e.globalPrintTime >= MaxPrintTime {
		if !e.moves.Empty() || !e.steps.Empty() {
			return
		}
		e.resetFromHalt()
	}

	for {
		b, ok := e.blocks.Front()
		if !ok {
			break
		}
		sync := b.IsSync()
		if !e.AppendBlock(b) {
			return
		}
		e.blocks.Discard()
		if !sync {
			// One motion block per call keeps the generators fed evenly.
			return
		}
	}

	if e.globalPrintTime != 0 && e.state.initialized && e.state.allReachedEnd() {
		e.appendEndingEmptyMove()
	}
}

// resetFromHalt restarts the print clock. Positions carry over.
func (e *Engine) resetFromHalt() {
	e.globalPrintTime = 0
	e.state.initialized = false
	e.state.clearReachedEnd()
	e.moves.Reset()
	e.log.Debugw("halted", "positions", e.globalStartPos)
}

// stop drops every queue and resynchronizes the planner position to the steps
// the ISR actually made.
func (e *Engine) stop() {
	e.blocks.Reset()
	e.moves.Reset()
	e.steps.Reset()
	for a := range e.globalStartPos {
		steps := e.positions[a].Load()
		e.state.currentDistance[a] = steps
		e.globalStartPos[a] = float64(steps) * e.mmPerStep[a]
	}
	e.globalPrintTime = 0
	e.state.initialized = false
	e.state.clearReachedEnd()
	e.stopPending.Store(false)
	e.log.Infow("motion stopped", "positions", e.globalStartPos)
}

func (e *Engine) initState(idx uint32) {
	m := e.moves.At(idx)
	if m.Flags&MoveBeginningEmpty == 0 {
		panic("motion: step generation must start on the beginning empty move")
	}

	st := &e.state
	st.flags = 0
	st.nearest = 0
	st.previousStepTime = 0
	st.previousTicks = 0
	st.leftInsert = 0
	st.maxLookback = e.maxLookback()
	for i := range st.events {
		st.events[i] = stepEventInfo{}
	}
	for i := range st.gens {
		st.gens[i].init(e, idx)
	}
	st.initialized = true
}

// moveSegmentProcessed retires the oldest unprocessed segment once no generator
// references it. The next emitted event carries the retirement marker.
func (e *Engine) moveSegmentProcessed() {
	idx, ok := e.moves.Unprocessed()
	if !ok || e.moves.At(idx).refs != 0 {
		return
	}
	e.moves.DiscardUnprocessed()
	e.state.leftInsert++
}

// ProcessMoveSegments fills the step event queue. It returns the number of
// generator calls that completed.
func (e *Engine) ProcessMoveSegments() int {
	if e.stopPending.Load() {
		return 0
	}
	idx, ok := e.moves.Unprocessed()
	if !ok || e.steps.Free() <= MinStepEventFreeSlots {
		return 0
	}

	st := &e.state
	if !st.initialized {
		e.initState(idx)
	}

	flush := e.globalPrintTime - st.maxLookback
	st.restart()
	st.updateNearest()

	n := 0
	for n < MaxStepEventsPerCall && e.generateNextStepEvent(flush) == statusOK {
		n++
	}

	if idx, ok := e.moves.Unprocessed(); ok && e.moves.At(idx).Flags&MoveEndingEmpty != 0 {
		for st.leftInsert > 0 && e.appendDiscardingStepEvent(0) {
			st.leftInsert--
		}
		if st.leftInsert == 0 && !e.steps.Full() {
			e.moves.DiscardUnprocessed()
			e.appendDiscardingStepEvent(FlagEndOfMotion)
		}
	}
	return n
}

// appendDiscardingStepEvent queues an event without step bits that only retires
// a move segment.
func (e *Engine) appendDiscardingStepEvent(extra StepEventFlag) bool {
	ev, ok := e.steps.Reserve()
	if !ok {
		return false
	}
	ev.Ticks = 0
	ev.Flags = e.state.flags | FlagBeginningOfMoveSegment | extra
	e.steps.Commit()
	e.state.previousStepTime = 0
	return true
}

// generateNextStepEvent queues the current nearest event and asks its
// generator for a new candidate.
func (e *Engine) generateNextStepEvent(flush float64) generateStatus {
	st := &e.state
	idx := st.nearest
	cur := st.events[idx]

	if cur.time != 0 && cur.time != noEvent {
		if cur.time > flush {
			// Keep the candidate until later segments can no longer precede it.
			st.gens[idx].reachedEnd = true
			return statusNoEvents
		}

		ev, ok := e.steps.Reserve()
		if !ok {
			return statusQueueFull
		}

		abs := int64(math.Floor(math.Max(cur.time, 0) * e.ticksPerSecond))
		var ticks int64
		if st.previousStepTime == 0 {
			ticks = int64(FirstStepDelay * e.ticksPerSecond)
		} else {
			if cur.time < st.previousStepTime-Epsilon {
				e.outOfOrder.Add(1)
			}
			ticks = max(abs-st.previousTicks, 0)
		}

		ev.Ticks = int32(min(ticks, math.MaxInt32))
		ev.Flags = cur.flags
		if st.leftInsert > 0 {
			ev.Flags |= FlagBeginningOfMoveSegment
			st.leftInsert--
		}
		e.steps.Commit()
		e.events.Add(1)

		st.previousStepTime = cur.time
		st.previousTicks = max(abs, st.previousTicks)
	}

	st.events[idx] = st.gens[idx].next(e, flush)
	st.updateNearest()
	if st.events[st.nearest].time == noEvent {
		return statusNoEvents
	}
	return statusOK
}

// StepISR executes one step event and returns the delay in ticks until the
// next one.
func (e *Engine) StepISR() uint32 {
	idle := uint32(e.ticksPerSecond / idleTicksDivider)

	ev, ok := e.steps.TryPop()
	if !ok {
		return idle
	}

	if ev.Flags&FlagBeginningOfMoveSegment != 0 {
		if m, ok := e.moves.Current(); ok {
			if m.Flags&MoveLastSegmentOfBlock != 0 {
				e.finishedBlocks.Add(1)
			}
			e.moves.DiscardCurrent()
		}
	}

	if changed := (ev.Flags ^ e.dirBits) & FlagDirMask; changed != 0 {
		for axis := 0; axis < NumAxes; axis++ {
			if changed&dirFlag(axis) != 0 && e.driver != nil {
				e.driver.SetDirection(axis, ev.Flags&dirFlag(axis) != 0)
			}
		}
		e.dirBits = ev.Flags & FlagDirMask
	}

	if ev.Flags&FlagStepMask != 0 {
		for axis := 0; axis < NumAxes; axis++ {
			if ev.Flags&stepFlag(axis) == 0 {
				continue
			}
			if ev.Flags&dirFlag(axis) != 0 {
				e.positions[axis].Add(-1)
			} else {
				e.positions[axis].Add(1)
			}
			if e.driver != nil {
				e.driver.Step(axis)
			}
		}
	}

	if ev.Flags&FlagEndOfMotion != 0 {
		e.endOfMotion.Add(1)
		return idle
	}

	next, ok := e.steps.Front()
	if !ok {
		e.underruns.Add(1)
		return idle
	}
	return uint32(next.Ticks)
}
