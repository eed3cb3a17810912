package motion

import (
	"errors"
	"fmt"
)

// ErrStalled is returned by Run when neither blocks nor step events make progress.
var ErrStalled = errors.New("motion stalled")

const runStallLimit = 10000

// Run feeds blocks through the engine on the calling goroutine, playing both the
// background loop and the step ISR, until the motion ends and the engine halts.
// fn, when not nil, sees every executed event in order.
func (e *Engine) Run(blocks []Block, fn func(StepEvent)) error {
	next := 0
	stalled := 0
	for {
		fed := false
		for next < len(blocks) {
			err := e.AddBlock(blocks[next])
			if errors.Is(err, ErrBlockQueueFull) {
				break
			}
			if err != nil {
				return fmt.Errorf("block %d: %w", next, err)
			}
			next++
			fed = true
		}

		e.ProcessBlocks()
		e.ProcessMoveSegments()

		consumed := 0
		for {
			ev, ok := e.steps.Front()
			if !ok {
				break
			}
			executed := *ev
			e.StepISR()
			consumed++
			if fn != nil {
				fn(executed)
			}
		}

		if next == len(blocks) && e.blocks.Empty() && e.moves.Empty() && e.steps.Empty() {
			e.ProcessBlocks()
			return nil
		}

		if fed || consumed > 0 {
			stalled = 0
		} else if stalled++; stalled > runStallLimit {
			return ErrStalled
		}
	}
}
