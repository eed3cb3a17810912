package motion

import (
	"fmt"
	"math"

	"github.com/itohio/gobuddy/pkg/config"
)

// ShaperType selects the input shaper pulse train.
type ShaperType uint8

const (
	ShaperZV ShaperType = iota
	ShaperZVD
	ShaperMZV
	ShaperEI
	Shaper2HumpEI
	Shaper3HumpEI
)

var shaperNames = [...]string{"zv", "zvd", "mzv", "ei", "2hump_ei", "3hump_ei"}

func (t ShaperType) String() string {
	if int(t) < len(shaperNames) {
		return shaperNames[t]
	}
	return fmt.Sprintf("ShaperType(%d)", t)
}

// ParseShaperType converts a config name to a ShaperType.
func ParseShaperType(s string) (ShaperType, error) {
	for i, name := range shaperNames {
		if name == s {
			return ShaperType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown input shaper %q", s)
}

// MaxShaperPulses is the pulse count of the longest shaper (3hump EI).
const MaxShaperPulses = 5

// ShaperPulse is one impulse of the shaper: amplitude A applied at time offset T.
type ShaperPulse struct {
	A float64
	T float64
}

// ShaperPulses is a normalized pulse train. Pulses are stored reversed, with
// non-positive time first, and shifted so the amplitude weighted mean time is zero.
type ShaperPulses struct {
	Pulses [MaxShaperPulses]ShaperPulse
	N      int
}

// Lookback returns how far behind real time the shaped output reaches.
func (p *ShaperPulses) Lookback() float64 { return -p.Pulses[0].T }

// NewShaper builds the pulse train of shaper t tuned to freq Hz.
func NewShaper(t ShaperType, freq, damping, vibrationReduction float64) ShaperPulses {
	df := math.Sqrt(1 - damping*damping)
	k := math.Exp(-damping * math.Pi / df)
	td := 1 / (freq * df)

	var a, ts []float64
	switch t {
	case ShaperZV:
		a = []float64{1, k}
		ts = []float64{0, .5 * td}
	case ShaperZVD:
		a = []float64{1, 2 * k, k * k}
		ts = []float64{0, .5 * td, td}
	case ShaperMZV:
		k = math.Exp(-.75 * damping * math.Pi / df)
		a1 := 1 - 1/math.Sqrt2
		a = []float64{a1, (math.Sqrt2 - 1) * k, a1 * k * k}
		ts = []float64{0, .375 * td, .75 * td}
	case ShaperEI:
		vTol := 1 / vibrationReduction
		a1 := .25 * (1 + vTol)
		a = []float64{a1, .5 * (1 - vTol) * k, a1 * k * k}
		ts = []float64{0, .5 * td, td}
	case Shaper2HumpEI:
		vTol := 1 / vibrationReduction
		v2 := vTol * vTol
		x := math.Cbrt(v2 * (math.Sqrt(1-v2) + 1))
		a1 := (3*x*x + 2*x + 3*v2) / (16 * x)
		a2 := (.5 - a1) * k
		a = []float64{a1, a2, a2 * k, a1 * k * k * k}
		ts = []float64{0, .5 * td, td, 1.5 * td}
	case Shaper3HumpEI:
		vTol := 1 / vibrationReduction
		k2 := k * k
		a1 := .0625 * (1 + 3*vTol + 2*math.Sqrt(2*(vTol+1)*vTol))
		a2 := .25 * (1 - vTol) * k
		a = []float64{a1, a2, (.5*(1+vTol) - 2*a1) * k2, a2 * k2, a1 * k2 * k2}
		ts = []float64{0, .5 * td, td, 1.5 * td, 2 * td}
	default:
		panic(fmt.Sprintf("motion: %v out of range", t))
	}
	return newShaperPulses(a, ts)
}

func newShaperPulses(a, t []float64) ShaperPulses {
	var p ShaperPulses
	n := len(a)

	sum := 0.
	for _, v := range a {
		sum += v
	}

	for i := range a {
		p.Pulses[n-i-1] = ShaperPulse{A: a[i] / sum, T: -t[i]}
	}

	shift := 0.
	for i := 0; i < n; i++ {
		shift += p.Pulses[i].A * p.Pulses[i].T
	}
	for i := 0; i < n; i++ {
		p.Pulses[i].T -= shift
	}

	p.N = n
	return p
}

// shaperFromConfig builds the pulses for one axis.
func shaperFromConfig(cfg *config.InputShaperConfig) (ShaperPulses, error) {
	t, err := ParseShaperType(cfg.Type)
	if err != nil {
		return ShaperPulses{}, err
	}
	if cfg.Frequency <= 0 {
		return ShaperPulses{}, fmt.Errorf("input shaper %s: frequency must be positive", t)
	}
	return NewShaper(t, cfg.Frequency, cfg.DampingRatio, cfg.VibrationReduction), nil
}
