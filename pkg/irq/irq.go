// Package irq provides a scoped hardware interrupt mask.
//
// On TinyGo the guard disables interrupts on the core. On a regular Go runtime
// there are no interrupts to mask, so the guard only tracks nesting depth, which
// tests use to check that every critical section is closed.
package irq

import "sync/atomic"

var depth atomic.Int32

// Guard is an open critical section. Restore must be called exactly once,
// usually with defer.
type Guard struct {
	state  state
	closed bool
}

// Disable masks interrupts and returns a guard that restores the previous state.
func Disable() Guard {
	depth.Add(1)
	return Guard{state: disableInterrupts()}
}

// Restore unmasks interrupts. Calling it twice is a no-op.
func (g *Guard) Restore() {
	if g.closed {
		return
	}
	g.closed = true
	restoreInterrupts(g.state)
	depth.Add(-1)
}

// Do runs fn with interrupts masked. The mask is released even if fn panics.
func Do(fn func()) {
	g := Disable()
	defer g.Restore()
	fn()
}

// Depth returns the number of currently open guards.
func Depth() int { return int(depth.Load()) }
