//go:build tinygo

package irq

import "runtime/interrupt"

type state = interrupt.State

// disableInterrupts disables interrupts and returns the previous state
func disableInterrupts() state {
	return interrupt.Disable()
}

// restoreInterrupts restores the interrupt state
func restoreInterrupts(s state) {
	interrupt.Restore(s)
}
