//go:build !tinygo

package irq

type state uintptr

// disableInterrupts is a no-op on regular Go
func disableInterrupts() state {
	return 0
}

// restoreInterrupts is a no-op on regular Go
func restoreInterrupts(state) {}
