package sample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(n int) []Sample {
	samples := make([]Sample, n)
	for i := range samples {
		samples[i] = Sample{Time: time.Duration(i) * 3125 * time.Microsecond, Load: float32(i)}
	}
	return samples
}

func TestDownsample_NoDownsampling(t *testing.T) {
	samples := ramp(3)

	result := Downsample(nil, samples, 10)
	require.Len(t, result, 3)
	assert.Equal(t, samples, result)

	dst := make([]Sample, 0, 10)
	result = Downsample(dst, samples, 10)
	assert.Equal(t, samples, result)
	assert.Equal(t, cap(dst), cap(result), "dst should be reused")
}

func TestDownsample_WithDownsampling(t *testing.T) {
	samples := ramp(100)

	dst := make([]Sample, 0, 20)
	result := Downsample(dst, samples, 10)
	require.Len(t, result, 10)
	assert.Equal(t, samples[0], result[0])
	assert.GreaterOrEqual(t, result[9].Load, float32(80))
	assert.Equal(t, cap(dst), cap(result))

	for i := 1; i < len(result); i++ {
		assert.Greater(t, result[i].Time, result[i-1].Time)
	}
}

func TestDownsample_DestinationReuse(t *testing.T) {
	dst := make([]Sample, 0, 10)
	result1 := Downsample(dst, ramp(2), 10)
	require.Len(t, result1, 2)

	result2 := Downsample(result1, ramp(3), 10)
	require.Len(t, result2, 3)
	assert.Equal(t, cap(result1), cap(result2))
}

func TestDownsample_Edges(t *testing.T) {
	assert.Empty(t, Downsample(nil, []Sample{}, 10))
	assert.Empty(t, Downsample(nil, ramp(5), 0))

	samples := ramp(10)
	assert.Equal(t, samples, Downsample(nil, samples, 10))

	floats := []float32{1, 2, 3, 4}
	assert.Equal(t, []float32{1, 3}, Downsample(nil, floats, 2))
}

func TestMinMax_KeepsSpikes(t *testing.T) {
	samples := ramp(1000)
	for i := range samples {
		samples[i].Load = 0
	}
	samples[501].Load = 400
	samples[777].Load = -300

	load := func(s Sample) float32 { return s.Load }
	result := MinMax(nil, samples, 100, load)
	require.LessOrEqual(t, len(result), 100)

	var hi, lo float32
	for i, s := range result {
		hi = max(hi, s.Load)
		lo = min(lo, s.Load)
		if i > 0 {
			assert.Greater(t, s.Time, result[i-1].Time)
		}
	}
	assert.Equal(t, float32(400), hi)
	assert.Equal(t, float32(-300), lo)

	// A plain decimation of the same data loses both spikes.
	for _, s := range Downsample(nil, samples, 100) {
		assert.Zero(t, s.Load)
	}
}

func TestMinMax_ShortInput(t *testing.T) {
	samples := ramp(5)
	assert.Equal(t, samples, MinMax(nil, samples, 10, func(s Sample) float32 { return s.Load }))
}
