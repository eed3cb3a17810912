package scope

import (
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/gobuddy/pkg/sample"
)

// viewport is the data range mapped onto the plot area.
type viewport struct {
	yMin, yMax float32
	xMin, xMax time.Duration
}

// computeViewport fits the visible traces and both threshold lines, with a
// 10% margin. The time range spans at least window.
func computeViewport(samples []sample.Sample, ch Channels, window time.Duration, threshold float32) viewport {
	v := viewport{yMin: -threshold, yMax: threshold}
	for _, s := range samples {
		if ch.Load {
			v.include(s.Load)
		}
		if ch.Z {
			v.include(s.Z)
		}
		if ch.XY {
			v.include(s.XY)
		}
	}

	span := v.yMax - v.yMin
	if span == 0 {
		span = 1
	}
	v.yMin -= span * 0.1
	v.yMax += span * 0.1

	if len(samples) > 0 {
		v.xMin = samples[0].Time
		v.xMax = samples[len(samples)-1].Time
	}
	if v.xMax-v.xMin < window {
		v.xMax = v.xMin + window
	}
	return v
}

func (v *viewport) include(y float32) {
	if math32.IsNaN(y) {
		return
	}
	v.yMin = min(v.yMin, y)
	v.yMax = max(v.yMax, y)
}

// x maps t to a fraction of the plot width.
func (v viewport) x(t time.Duration) float32 {
	return float32(t-v.xMin) / float32(v.xMax-v.xMin)
}

// y maps a load to a fraction of the plot height, 0 at the bottom.
func (v viewport) y(load float32) float32 {
	return (load - v.yMin) / (v.yMax - v.yMin)
}

func formatGrams(g float32) string {
	if math32.Abs(g) >= 1000 {
		return fmt.Sprintf("%.2fkg", g/1000)
	}
	return fmt.Sprintf("%.0fg", g)
}

func formatTime(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
