package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBartlettWindow(t *testing.T) {
	w := BartlettWindow(PressureAdvanceFilterLength)
	require.Len(t, w, PressureAdvanceFilterLength)

	sum := 0.
	for i, v := range w {
		sum += v
		assert.InDelta(t, v, w[len(w)-1-i], 1e-15, "symmetric")
	}
	assert.InDelta(t, 1, sum, 1e-12)
	assert.Zero(t, w[0])
	assert.InDelta(t, 1./20, w[20], 1e-15)

	assert.Equal(t, []float64{1}, BartlettWindow(1))
}

func TestNewPressureAdvanceParams(t *testing.T) {
	p := NewPressureAdvanceParams(0.05, 0.04)
	assert.Equal(t, 0.05, p.Value)
	assert.InDelta(t, 0.001, p.SamplingRate, 1e-15)
	assert.InDelta(t, 0.02, p.FilterDelay, 1e-15)
	assert.InDelta(t, 0.021, p.Lookback(), 1e-15)
}

func TestPressureAdvanceActive(t *testing.T) {
	assert.True(t, pressureAdvanceActive(&Move{Flags: MoveActiveE | MoveActiveX}))
	assert.True(t, pressureAdvanceActive(&Move{Flags: MoveActiveE | MoveActiveY | MoveDirY}))
	assert.False(t, pressureAdvanceActive(&Move{Flags: MoveActiveE}), "extruder only")
	assert.False(t, pressureAdvanceActive(&Move{Flags: MoveActiveE | MoveDirE | MoveActiveX}), "retraction")
	assert.False(t, pressureAdvanceActive(&Move{Flags: MoveActiveX}), "travel")
}
