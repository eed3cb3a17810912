package motion

import (
	"fmt"
	"math"

	"github.com/itohio/gobuddy/pkg/config"
)

// Kind selects the step generator of an axis.
type Kind uint8

const (
	KindClassic Kind = iota
	KindInputShaper
	KindPressureAdvance
)

func (k Kind) String() string {
	switch k {
	case KindClassic:
		return config.GeneratorClassic
	case KindInputShaper:
		return config.GeneratorInputShaper
	case KindPressureAdvance:
		return config.GeneratorPressureAdvance
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind converts a config generator name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case config.GeneratorClassic:
		return KindClassic, nil
	case config.GeneratorInputShaper:
		return KindInputShaper, nil
	case config.GeneratorPressureAdvance:
		return KindPressureAdvance, nil
	}
	return 0, fmt.Errorf("unknown generator %q", s)
}

// noEvent marks a generator that has nothing to emit right now.
const noEvent = math.MaxFloat64

type stepEventInfo struct {
	time  float64
	flags StepEventFlag
}

var noStepEvent = stepEventInfo{time: noEvent}

// generator is a tagged union over the three step generator kinds. Only the
// state of the selected kind is used.
type generator struct {
	kind       Kind
	axis       int
	reachedEnd bool

	classic classicGenerator
	shaper  inputShaperGenerator
	pa      pressureAdvanceGenerator
}

func (g *generator) init(e *Engine, idx uint32) {
	g.reachedEnd = false
	switch g.kind {
	case KindClassic:
		g.classic.init(g, e, idx)
	case KindInputShaper:
		g.shaper.init(g, e, idx)
	case KindPressureAdvance:
		g.pa.init(g, e, idx)
	}
}

func (g *generator) next(e *Engine, flush float64) stepEventInfo {
	switch g.kind {
	case KindInputShaper:
		return g.shaper.next(g, e, flush)
	case KindPressureAdvance:
		return g.pa.next(g, e)
	default:
		return g.classic.next(g, e, flush)
	}
}

// lookback is how far the generator reads behind the newest queued time.
func (g *generator) lookback() float64 {
	switch g.kind {
	case KindInputShaper:
		return g.shaper.pulses.Lookback()
	case KindPressureAdvance:
		return g.pa.params.Lookback()
	}
	return 0
}

// stepGeneratorState merges the per-axis generators into one time-ordered stream.
type stepGeneratorState struct {
	gens            [NumAxes]generator
	events          [NumAxes]stepEventInfo
	currentDistance [NumAxes]int64 // steps
	nearest         int
	flags           StepEventFlag // cached dir and active bits

	previousStepTime float64
	previousTicks    int64
	maxLookback      float64
	leftInsert       int // pending BeginningOfMoveSegment markers
	initialized      bool
}

// restart turns exhausted slots back into "ask again" slots.
func (s *stepGeneratorState) restart() {
	for i := range s.events {
		if s.events[i].time == noEvent {
			s.events[i].time = 0
		}
	}
}

// updateNearest picks the earliest candidate. Ties go to the lowest axis.
func (s *stepGeneratorState) updateNearest() {
	nearest := 0
	for i := 1; i < NumAxes; i++ {
		if s.events[i].time < s.events[nearest].time {
			nearest = i
		}
	}
	s.nearest = nearest
}

func (s *stepGeneratorState) setAxisFlags(axis int, flags StepEventFlag) {
	mask := dirFlag(axis) | activeFlag(axis)
	s.flags = s.flags&^mask | flags&mask
}

func (s *stepGeneratorState) allReachedEnd() bool {
	for i := range s.gens {
		if !s.gens[i].reachedEnd {
			return false
		}
	}
	return true
}

func (s *stepGeneratorState) clearReachedEnd() {
	for i := range s.gens {
		s.gens[i].reachedEnd = false
	}
}
