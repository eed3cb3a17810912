package sample

// Downsample decimates src to at most maxPoints entries for display.
// It reuses dst when it has enough capacity and returns the filled slice.
// When src already fits, it is copied unchanged.
func Downsample[T any](dst, src []T, maxPoints int) []T {
	n := min(len(src), maxPoints)
	if cap(dst) >= n {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, n)
	}
	if len(src) <= maxPoints {
		return append(dst, src...)
	}

	step := float64(len(src)) / float64(maxPoints)
	for i := range maxPoints {
		dst = append(dst, src[int(float64(i)*step)])
	}
	return dst
}

// MinMax keeps the extremes of every bucket so short spikes survive
// decimation. The result has at most maxPoints entries, in source order.
func MinMax(dst, src []Sample, maxPoints int, value func(Sample) float32) []Sample {
	if len(src) <= maxPoints || maxPoints < 2 {
		return Downsample(dst, src, maxPoints)
	}
	buckets := maxPoints / 2
	if cap(dst) >= 2*buckets {
		dst = dst[:0]
	} else {
		dst = make([]Sample, 0, 2*buckets)
	}

	step := float64(len(src)) / float64(buckets)
	for b := range buckets {
		first := int(float64(b) * step)
		last := min(int(float64(b+1)*step), len(src))
		lo, hi := first, first
		for i := first + 1; i < last; i++ {
			v := value(src[i])
			if v < value(src[lo]) {
				lo = i
			}
			if v > value(src[hi]) {
				hi = i
			}
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		dst = append(dst, src[lo])
		if hi != lo {
			dst = append(dst, src[hi])
		}
	}
	return dst
}
