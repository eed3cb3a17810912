package motion

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcTimeForDistance_ZeroAccelIsExact(t *testing.T) {
	for _, v := range []float64{0.5, 3.7, 120, -42} {
		for _, d := range []float64{0.01, 2.5, -1.25} {
			assert.Equal(t, d/v, CalcTimeForDistance(v, 0, d), "v=%g d=%g", v, d)
		}
	}
}

func TestCalcTimeForDistance_Static(t *testing.T) {
	assert.True(t, math.IsNaN(CalcTimeForDistance(0, 0, 1)))
	assert.True(t, math.IsNaN(CalcTimeForDistance(0, 0, 0)))
}

func TestCalcTimeForDistance_Unreachable(t *testing.T) {
	// Decelerating from 10 mm/s at 100 mm/s^2 stops after 0.5 mm.
	assert.True(t, math.IsNaN(CalcTimeForDistance(10, -100, 0.6)))
	assert.InDelta(t, 0.1, CalcTimeForDistance(10, -100, 0.5), 1e-9)
}

func TestCalcTimeForDistance_NearZeroDiscriminant(t *testing.T) {
	// disc = 100 - 2*100*0.5000000001 is slightly negative.
	got := CalcTimeForDistance(10, -100, 0.5000000001)
	assert.InDelta(t, 0.1, got, 1e-9)
}

func TestCalcTimeForDistance_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 10000; i++ {
		v := 0.1 + rng.Float64()*200
		a := (rng.Float64()*2 - 1) * 5000
		d := rng.Float64() * 10

		got := CalcTimeForDistance(v, a, d)
		if v*v+2*a*d < -EpsilonFloat {
			assert.True(t, math.IsNaN(got), "v=%g a=%g d=%g", v, a, d)
			continue
		}
		require.False(t, math.IsNaN(got), "v=%g a=%g d=%g", v, a, d)
		assert.GreaterOrEqual(t, got, 0.)
		assert.InDelta(t, d, CalcDistance(v, a/2, got), 1e-9, "v=%g a=%g d=%g", v, a, d)
	}
}

func TestTimeForDistance_NegativeDirection(t *testing.T) {
	// Moving at -20 mm/s, 1 mm back takes 50 ms.
	assert.InDelta(t, 0.05, timeForDistance(-20, 0, -1, false), 1e-12)
}

func TestMove_StepDirection(t *testing.T) {
	tests := []struct {
		name string
		move Move
		axis int
		want bool
	}{
		{"positive velocity", Move{StartV: 10, AxesR: [NumAxes]float64{1}}, AxisX, true},
		{"negative ratio", Move{StartV: 10, AxesR: [NumAxes]float64{-0.6, 0.8}}, AxisX, false},
		{"from rest accelerating", Move{HalfAccel: 500, AxesR: [NumAxes]float64{0, -1}}, AxisY, false},
		{"decelerating", Move{StartV: 10, HalfAccel: -500, AxesR: [NumAxes]float64{0, 0, 1}}, AxisZ, true},
		{"static uses dir flag", Move{Flags: MoveDirE}, AxisE, false},
		{"static without flag", Move{}, AxisE, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := tt.move.StepDirection(tt.axis)
			assert.Equal(t, tt.want, first)
			assert.Equal(t, first, tt.move.StepDirection(tt.axis))
		})
	}
}

func TestMove_AxisEndPos(t *testing.T) {
	m := Move{StartV: 10, HalfAccel: 50, Duration: 0.2, AxesR: [NumAxes]float64{0.6, 0.8}, StartPos: [NumAxes]float64{1, 2}}
	// (10 + 50*0.2)*0.2 = 4 mm along the path.
	assert.InDelta(t, 1+4*0.6, m.AxisEndPos(AxisX), 1e-12)
	assert.InDelta(t, 2+4*0.8, m.AxisEndPos(AxisY), 1e-12)
	assert.InDelta(t, 0.2, m.EndTime(), 1e-12)
}
