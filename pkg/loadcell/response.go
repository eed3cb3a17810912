package loadcell

import (
	"math"
	"math/cmplx"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/dsp/fourier"
)

// ResponsePoint is one bin of a filter's magnitude response.
type ResponsePoint struct {
	Freq      float64 // Hz
	Magnitude float64
	DB        float64
}

// FrequencyResponse runs an n sample impulse through a fresh filter and
// returns the magnitude of its spectrum from DC to the Nyquist frequency.
func FrequencyResponse(spec *FilterSpec, n int, sampleRate float64) []ResponsePoint {
	f := NewBandPassFilter(spec)
	impulse := make([]float64, n)
	for i := range impulse {
		var in float32
		if i == 0 {
			in = 1
		}
		impulse[i] = float64(f.Filter(in))
	}

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, impulse)
	points := make([]ResponsePoint, len(coeffs))
	for i, c := range coeffs {
		mag := cmplx.Abs(c)
		points[i] = ResponsePoint{
			Freq:      fft.Freq(i) * sampleRate,
			Magnitude: mag,
			DB:        20 * math.Log10(mag),
		}
	}
	return points
}

// Peak returns the bin with the highest magnitude.
func Peak(points []ResponsePoint) ResponsePoint {
	var best ResponsePoint
	for _, p := range points {
		if p.Magnitude > best.Magnitude {
			best = p
		}
	}
	return best
}

// StepSettling feeds a step of the given height and returns the first sample
// index after which the output stays within tolerance.
func StepSettling(spec *FilterSpec, step, tolerance float32, n int) int {
	f := NewBandPassFilter(spec)
	last := -1
	for i := 0; i < n; i++ {
		if math32.Abs(f.Filter(step)) >= tolerance {
			last = i
		}
	}
	return last + 1
}
