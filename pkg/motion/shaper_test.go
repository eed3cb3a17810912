package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShaper_Normalized(t *testing.T) {
	for _, typ := range []ShaperType{ShaperZV, ShaperZVD, ShaperMZV, ShaperEI, Shaper2HumpEI, Shaper3HumpEI} {
		t.Run(typ.String(), func(t *testing.T) {
			p := NewShaper(typ, 50, 0.1, 20)
			require.GreaterOrEqual(t, p.N, 2)

			sum, mean := 0., 0.
			for i := 0; i < p.N; i++ {
				sum += p.Pulses[i].A
				mean += p.Pulses[i].A * p.Pulses[i].T
			}
			assert.InDelta(t, 1, sum, 1e-12)
			assert.InDelta(t, 0, mean, 1e-12)

			for i := 1; i < p.N; i++ {
				assert.Less(t, p.Pulses[i-1].T, p.Pulses[i].T, "pulses are ordered by time")
			}
			assert.Greater(t, p.Lookback(), 0.)
			assert.Less(t, p.Lookback(), BeginningEmptyMoveDuration)
		})
	}
}

func TestNewShaper_UndampedZV(t *testing.T) {
	p := NewShaper(ShaperZV, 50, 0, 0)
	require.Equal(t, 2, p.N)
	assert.InDelta(t, 0.5, p.Pulses[0].A, 1e-12)
	assert.InDelta(t, 0.5, p.Pulses[1].A, 1e-12)
	assert.InDelta(t, -0.005, p.Pulses[0].T, 1e-12)
	assert.InDelta(t, 0.005, p.Pulses[1].T, 1e-12)
	assert.InDelta(t, 0.005, p.Lookback(), 1e-12)
}

func TestParseShaperType(t *testing.T) {
	for _, name := range []string{"zv", "zvd", "mzv", "ei", "2hump_ei", "3hump_ei"} {
		typ, err := ParseShaperType(name)
		require.NoError(t, err)
		assert.Equal(t, name, typ.String())
	}

	_, err := ParseShaperType("zz")
	assert.Error(t, err)
}
