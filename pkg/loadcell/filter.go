package loadcell

// FilterSpec describes a 4-pole band-pass IIR designed for a 320 Hz sample rate.
type FilterSpec struct {
	Name string
	// A holds the denominator coefficients, A[0] == 1.
	A    [5]float32
	Gain float32
	// SettlingTime is the number of samples after which the output is trusted.
	SettlingTime int
}

var (
	// ZFilter passes the load changes of a nozzle touching the bed.
	ZFilter = FilterSpec{
		Name:         "z",
		A:            [5]float32{1, -2.9435274179, 3.4275681738, -1.9037859795, 0.4359073982},
		Gain:         16.5293321357,
		SettlingTime: 60,
	}
	// XYFilter passes the slower load changes of XY probing.
	XYFilter = FilterSpec{
		Name:         "xy",
		A:            [5]float32{1, -3.5057889423, 4.6648245428, -2.7996168391, 0.6413515381},
		Gain:         49.7924511993,
		SettlingTime: 140,
	}
)

// BandPassFilter is a direct form I implementation of a FilterSpec. The
// numerator is fixed to (1 - z^-2)^2 so the DC gain is exactly zero.
type BandPassFilter struct {
	spec    *FilterSpec
	xv, yv  [5]float32
	samples int
}

func NewBandPassFilter(spec *FilterSpec) *BandPassFilter {
	return &BandPassFilter{spec: spec}
}

func (f *BandPassFilter) Spec() *FilterSpec { return f.spec }

// Filter feeds one sample and returns the filtered output.
func (f *BandPassFilter) Filter(in float32) float32 {
	a := &f.spec.A
	copy(f.xv[:4], f.xv[1:])
	f.xv[4] = in / f.spec.Gain
	copy(f.yv[:4], f.yv[1:])
	f.yv[4] = (f.xv[0] + f.xv[4]) - 2*f.xv[2] -
		a[1]*f.yv[3] - a[2]*f.yv[2] - a[3]*f.yv[1] - a[4]*f.yv[0]
	if f.samples < f.spec.SettlingTime {
		f.samples++
	}
	return f.yv[4]
}

// Settled reports whether SettlingTime samples went through since the last Reset.
func (f *BandPassFilter) Settled() bool { return f.samples >= f.spec.SettlingTime }

// Samples returns the number of samples since Reset, capped at SettlingTime.
func (f *BandPassFilter) Samples() int { return f.samples }

func (f *BandPassFilter) Reset() {
	f.xv = [5]float32{}
	f.yv = [5]float32{}
	f.samples = 0
}
