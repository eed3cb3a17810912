package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gobuddy/pkg/config"
)

func newTestEngine(t *testing.T, modify func(cfg *config.MotionConfig)) *Engine {
	t.Helper()
	cfg := config.Default().Motion
	if modify != nil {
		modify(&cfg)
	}
	e, err := New(&cfg)
	require.NoError(t, err)
	return e
}

func xBlock(dx float64) Block {
	return Block{Delta: [NumAxes]float64{dx}, CruiseSpeed: 50, Acceleration: 1000}
}

type runResult struct {
	events     []StepEvent
	steps      [NumAxes]int
	beginnings int
}

func runBlocks(t *testing.T, e *Engine, blocks ...Block) runResult {
	t.Helper()
	var res runResult
	err := e.Run(blocks, func(ev StepEvent) {
		res.events = append(res.events, ev)
		for axis := 0; axis < NumAxes; axis++ {
			if ev.Flags&stepFlag(axis) != 0 {
				res.steps[axis]++
			}
		}
		if ev.Flags&FlagBeginningOfMoveSegment != 0 {
			res.beginnings++
		}
	})
	require.NoError(t, err)
	return res
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default().Motion
	cfg.Generators[AxisZ] = config.GeneratorPressureAdvance
	_, err := New(&cfg)
	assert.Error(t, err)

	cfg = config.Default().Motion
	cfg.MoveQueueSize = 10
	_, err = New(&cfg)
	assert.ErrorContains(t, err, "move_queue_size")
}

func TestEngine_ClassicSingleMove(t *testing.T) {
	e := newTestEngine(t, nil)

	res := runBlocks(t, e, xBlock(10))

	assert.Equal(t, int64(1000), e.Position(AxisX))
	assert.Equal(t, 1000, res.steps[AxisX])
	assert.Zero(t, res.steps[AxisY])

	// beginning empty move + three phases + ending empty move
	assert.Equal(t, 5, res.beginnings)

	require.NotEmpty(t, res.events)
	assert.Equal(t, int32(FirstStepDelay*1e6), res.events[0].Ticks)
	last := res.events[len(res.events)-1]
	assert.NotZero(t, last.Flags&FlagEndOfMotion)
	assert.Zero(t, last.Flags&FlagStepMask)

	st := e.Stats()
	assert.Equal(t, uint32(1), st.FinishedBlocks)
	assert.Equal(t, uint32(1), st.MotionEnds)
	assert.Zero(t, st.OutOfOrder)
	assert.Equal(t, uint64(1000), st.Events)
	assert.True(t, e.Idle())
	assert.Zero(t, e.PrintTime())
}

func TestEngine_ClassicMultiAxis(t *testing.T) {
	e := newTestEngine(t, nil)

	runBlocks(t, e,
		xBlock(10),
		Block{Delta: [NumAxes]float64{-5, 3}, CruiseSpeed: 40, Acceleration: 800},
		Block{Delta: [NumAxes]float64{0, 0, 0, 1.6}, CruiseSpeed: 20, Acceleration: 500},
	)

	assert.Equal(t, int64(500), e.Position(AxisX))
	assert.Equal(t, int64(300), e.Position(AxisY))
	assert.Equal(t, int64(0), e.Position(AxisZ))
	assert.Equal(t, int64(520), e.Position(AxisE))
	assert.Equal(t, uint32(3), e.FinishedBlocks())
	assert.Zero(t, e.Stats().OutOfOrder)
}

func TestEngine_TicksAddUpToDuration(t *testing.T) {
	e := newTestEngine(t, nil)
	b := xBlock(10)
	res := runBlocks(t, e, b)

	var total int64
	for _, ev := range res.events {
		require.GreaterOrEqual(t, ev.Ticks, int32(0))
		total += int64(ev.Ticks)
	}
	// accel 0.05 s + cruise 0.15 s + decel 0.05 s, minus the first half step
	// and plus the fixed first step delay.
	assert.InDelta(t, 0.25e6, float64(total), 0.03e6)
}

func TestEngine_ResumeAfterHalt(t *testing.T) {
	e := newTestEngine(t, nil)

	runBlocks(t, e, xBlock(10))
	require.True(t, e.Idle())
	runBlocks(t, e, xBlock(2))

	assert.Equal(t, int64(1200), e.Position(AxisX))
	assert.Equal(t, uint32(2), e.Stats().MotionEnds)
	assert.Equal(t, uint32(2), e.FinishedBlocks())
}

func TestEngine_SyncBlocks(t *testing.T) {
	e := newTestEngine(t, nil)

	runBlocks(t, e, Block{}, xBlock(1), Block{}, xBlock(-1))

	assert.Equal(t, int64(0), e.Position(AxisX))
	assert.Equal(t, uint32(4), e.FinishedBlocks())
}

type recordingDriver struct {
	dirChanges []bool
	steps      [NumAxes]int
}

func (d *recordingDriver) SetDirection(axis int, negative bool) {
	if axis == AxisX {
		d.dirChanges = append(d.dirChanges, negative)
	}
}

func (d *recordingDriver) Step(axis int) { d.steps[axis]++ }

func TestEngine_Driver(t *testing.T) {
	e := newTestEngine(t, nil)
	drv := &recordingDriver{}
	e.SetDriver(drv)

	runBlocks(t, e, xBlock(1), xBlock(-1))

	assert.Equal(t, 200, drv.steps[AxisX])
	require.NotEmpty(t, drv.dirChanges)
	assert.True(t, drv.dirChanges[0])
}

func TestEngine_InputShaper(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.MotionConfig) {
		cfg.Generators[AxisX] = config.GeneratorInputShaper
		cfg.Generators[AxisY] = config.GeneratorInputShaper
	})

	runBlocks(t, e,
		xBlock(10),
		Block{Delta: [NumAxes]float64{0, 4}, CruiseSpeed: 50, Acceleration: 1000},
	)

	assert.Equal(t, int64(1000), e.Position(AxisX))
	assert.Equal(t, int64(400), e.Position(AxisY))
	assert.Zero(t, e.Stats().OutOfOrder)
	assert.True(t, e.Idle())
}

func TestEngine_PressureAdvance(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.MotionConfig) {
		cfg.StepsPerMM[AxisE] = 400
		cfg.Generators[AxisE] = config.GeneratorPressureAdvance
	})

	res := runBlocks(t, e,
		Block{Delta: [NumAxes]float64{10, 0, 0, 0.5}, CruiseSpeed: 50, Acceleration: 1000},
	)

	assert.Equal(t, int64(1000), e.Position(AxisX))
	assert.Equal(t, int64(200), e.Position(AxisE))
	assert.GreaterOrEqual(t, res.steps[AxisE], 200)
	assert.Zero(t, e.Stats().OutOfOrder)
}

func TestEngine_Stop(t *testing.T) {
	e := newTestEngine(t, nil)
	require.NoError(t, e.AddBlock(xBlock(10)))

	e.ProcessBlocks()
	e.ProcessMoveSegments()
	for i := 0; i < 50; i++ {
		e.StepISR()
	}
	moved := e.Position(AxisX)
	require.Greater(t, moved, int64(0))

	e.Stop()
	e.ProcessBlocks()
	assert.True(t, e.Idle())
	assert.True(t, e.StepQueue().Empty())

	runBlocks(t, e, xBlock(1))
	assert.Equal(t, moved+100, e.Position(AxisX))
}

func TestEngine_AddBlockValidation(t *testing.T) {
	e := newTestEngine(t, nil)

	err := e.AddBlock(Block{Delta: [NumAxes]float64{1}, EntrySpeed: 60, CruiseSpeed: 50, Acceleration: 100})
	assert.ErrorIs(t, err, ErrInvalidBlock)

	err = e.AddBlock(Block{Delta: [NumAxes]float64{1}, ExitSpeed: 50, CruiseSpeed: 50, Acceleration: 100})
	assert.ErrorIs(t, err, ErrInvalidBlock, "cannot reach 50 mm/s within 1 mm")

	for i := 0; i < BlockQueueSize-1; i++ {
		require.NoError(t, e.AddBlock(xBlock(1)))
	}
	assert.ErrorIs(t, e.AddBlock(xBlock(1)), ErrBlockQueueFull)
}

func TestBlock_Phases(t *testing.T) {
	tests := []struct {
		name  string
		block Block
		n     int
	}{
		{"trapezoid", xBlock(10), 3},
		{"triangle", Block{Delta: [NumAxes]float64{10}, CruiseSpeed: 200, Acceleration: 1000}, 2},
		{"cruise only", Block{Delta: [NumAxes]float64{10}, EntrySpeed: 50, CruiseSpeed: 50, ExitSpeed: 50}, 1},
		{"decel only", Block{Delta: [NumAxes]float64{1.25}, EntrySpeed: 50, CruiseSpeed: 50, Acceleration: 1000}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.block.Validate())
			phases, n := tt.block.phases()
			assert.Equal(t, tt.n, n)

			dist := 0.
			for i := 0; i < n; i++ {
				dist += CalcDistance(phases[i].startV, phases[i].halfAccel, phases[i].duration)
			}
			assert.InDelta(t, tt.block.Length(), dist, 1e-9)
		})
	}
}

func TestBlock_ExtruderOnlyLength(t *testing.T) {
	b := Block{Delta: [NumAxes]float64{0, 0, 0, -2}}
	assert.Equal(t, 2., b.Length())
	assert.False(t, b.IsSync())
	assert.True(t, (&Block{}).IsSync())
}

func TestStepGeneratorState_MergeIsOrdered(t *testing.T) {
	seqs := [NumAxes][]float64{
		{0.10, 0.20, 0.30, 0.40},
		{0.15, 0.15, 0.35},
		{0.05, 0.50},
		{0.20, 0.25, 0.26, 0.27, 0.90},
	}
	var pos [NumAxes]int
	var st stepGeneratorState
	for axis := range seqs {
		st.events[axis].time = seqs[axis][0]
	}

	var out []float64
	for {
		st.updateNearest()
		idx := st.nearest
		if st.events[idx].time == noEvent {
			break
		}
		out = append(out, st.events[idx].time)
		pos[idx]++
		if pos[idx] < len(seqs[idx]) {
			st.events[idx].time = seqs[idx][pos[idx]]
		} else {
			st.events[idx].time = noEvent
		}
	}

	require.Len(t, out, 14)
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1], out[i])
	}
}

func TestStepGeneratorState_TiesGoToLowestAxis(t *testing.T) {
	var st stepGeneratorState
	st.events = [NumAxes]stepEventInfo{{time: 0.3}, {time: 0.2}, {time: 0.2}, {time: 0.4}}
	st.updateNearest()
	assert.Equal(t, AxisY, st.nearest)

	st.events[AxisY].time = noEvent
	st.restart()
	assert.Zero(t, st.events[AxisY].time)
}
