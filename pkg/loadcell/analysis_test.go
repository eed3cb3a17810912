package loadcell

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticProbe returns a nozzle falling at 2 mm/s onto a bed of 1000 g/mm
// stiffness, holding 0.1 mm below the surface for 40 samples and rising again.
// Z is recorded 6 samples ahead of the load, as the real system sees it.
func syntheticProbe(n int) (zs, loads []float32) {
	const (
		v     = 2.0
		k     = 1000.0
		halt  = -0.1
		hold  = 40
		z0    = 0.8
		noise = 3.0
		dt    = 1.0 / 320
	)
	var seq []float64
	for z := z0; z > halt; z = z0 - v*dt*float64(len(seq)) {
		seq = append(seq, z)
	}
	for i := 0; i < hold; i++ {
		seq = append(seq, halt)
	}
	for z := halt; len(seq) < n+6; {
		z += v * dt
		seq = append(seq, z)
	}

	for i := 0; i < n; i++ {
		zs = append(zs, float32(seq[i+6]))
		loads = append(loads, float32(k*math.Min(seq[i], 0)+noise*math.Sin(1.7*float64(i))))
	}
	return zs, loads
}

func TestProbeAnalysis_GoodProbe(t *testing.T) {
	p := NewProbeAnalysis(640, 3125)
	zs, loads := syntheticProbe(640)
	for i := range zs {
		p.Add(zs[i], loads[i])
	}
	require.Equal(t, 640, p.Len())

	res := p.Analyse()
	require.True(t, res.Good, res.Description)
	// Halfway between contact and 50 g of compression.
	assert.InDelta(t, -0.025, res.Z, 0.002)

	// Analysis works on a copy.
	assert.Equal(t, res, p.Analyse())
}

func TestProbeAnalysis_WindowKeepsNewest(t *testing.T) {
	p := NewProbeAnalysis(640, 3125)
	for i := 0; i < 100; i++ {
		p.Add(5, 5)
	}
	zs, loads := syntheticProbe(640)
	for i := range zs {
		p.Add(zs[i], loads[i])
	}
	assert.Equal(t, 640, p.Len())
	assert.True(t, p.Analyse().Good)
}

func TestProbeAnalysis_NotReady(t *testing.T) {
	tests := []struct {
		name string
		n    int
		us   float32
	}{
		{"empty", 0, 3125},
		{"short", 100, 3125},
		{"no interval", 640, float32(math.NaN())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProbeAnalysis(640, tt.us)
			zs, loads := syntheticProbe(640)
			for i := 0; i < tt.n; i++ {
				p.Add(zs[i], loads[i])
			}
			res := p.Analyse()
			assert.False(t, res.Good)
			assert.Equal(t, "not-ready", res.Description)
			assert.True(t, math.IsNaN(res.Z))
		})
	}
}

func TestProbeAnalysis_FlatLoad(t *testing.T) {
	p := NewProbeAnalysis(640, 3125)
	zs, _ := syntheticProbe(640)
	for i := range zs {
		p.Add(zs[i], 0)
	}
	res := p.Analyse()
	assert.False(t, res.Good)
	assert.Equal(t, "load-lines", res.Description)

	p.Reset()
	assert.Zero(t, p.Len())
}

func TestLine(t *testing.T) {
	a := line{a: 1, b: 0}
	b := line{a: -1, b: 2}
	assert.Equal(t, 1.0, a.intersection(b))
	assert.True(t, math.IsNaN(a.intersection(a)))
	assert.True(t, math.IsNaN(a.intersection(invalidLine)))
	assert.Equal(t, 3.0, a.time(3))
	assert.InDelta(t, 0, line{a: 5}.angle(line{a: 5}), 1e-12)
	assert.InDelta(t, 90, line{a: 0}.angle(line{a: 1e12}), 1e-6)
}
