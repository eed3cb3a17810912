package loadcell

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

const (
	// Window spans kept before the halt and after the rise starts, in seconds.
	analysisLookback  = 0.150
	analysisLookahead = 0.300
	// Z positions lead the load samples by this delay, in seconds.
	loadDelay = 0.020
	// Samples ignored at the borders of the halt span.
	skipBorderSamples = 3
)

// ProbeResult is the outcome of a probe analysis.
type ProbeResult struct {
	Good bool
	// Z is the bed coordinate, valid when Good.
	Z float64
	// Description names the failing stage when not Good.
	Description string
}

func probeBad(desc string) ProbeResult {
	return ProbeResult{Z: math.NaN(), Description: desc}
}

type probeRecord struct {
	z, load float64
}

// ProbeAnalysis keeps a bounded window of (z, load) samples around a probe
// and classifies its precision. Add and Analyse may run concurrently.
type ProbeAnalysis struct {
	mu       sync.Mutex
	buf      []probeRecord
	start    int
	size     int
	interval float64 // seconds
}

// NewProbeAnalysis creates a window of n samples using intervalUs until a
// measured interval arrives.
func NewProbeAnalysis(n int, intervalUs float32) *ProbeAnalysis {
	return &ProbeAnalysis{
		buf:      make([]probeRecord, n),
		interval: float64(intervalUs) / 1e6,
	}
}

// SetSamplingInterval sets the interval between samples. NaN and non-positive
// values are ignored so the last measurement stays in effect.
func (p *ProbeAnalysis) SetSamplingInterval(us float32) {
	if !(us > 0) {
		return
	}
	p.mu.Lock()
	p.interval = float64(us) / 1e6
	p.mu.Unlock()
}

// SamplingInterval returns the interval in seconds.
func (p *ProbeAnalysis) SamplingInterval() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Add appends a sample, dropping the oldest one when the window is full.
func (p *ProbeAnalysis) Add(z, load float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := (p.start + p.size) % len(p.buf)
	p.buf[i] = probeRecord{z: float64(z), load: float64(load)}
	if p.size < len(p.buf) {
		p.size++
	} else {
		p.start = (p.start + 1) % len(p.buf)
	}
}

func (p *ProbeAnalysis) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *ProbeAnalysis) Reset() {
	p.mu.Lock()
	p.start, p.size = 0, 0
	p.mu.Unlock()
}

func (p *ProbeAnalysis) snapshot() *probeWindow {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := &probeWindow{recs: make([]probeRecord, p.size), dt: p.interval}
	for i := range w.recs {
		w.recs[i] = p.buf[(p.start+i)%len(p.buf)]
	}
	return w
}

// Analyse classifies the probe held in the window. The window is not modified.
func (p *ProbeAnalysis) Analyse() ProbeResult {
	w := p.snapshot()
	if !(w.dt > 0) || !w.compensateDelay() {
		return probeBad("not-ready")
	}

	var f probeFeatures
	w.haltSpan(&f)
	if !w.analysisRange(&f) {
		return probeBad("not-ready")
	}
	if !w.loadLines(&f) {
		return probeBad("load-lines")
	}
	if !w.zLines(&f) {
		return probeBad("z-lines")
	}
	if !w.sane(&f) {
		return probeBad("sanity-check")
	}
	w.loadMeans(&f)
	w.loadAngles(&f)
	f.r2at20ms = w.segmentedR2s(&f, 0.020)
	f.r2at30ms = w.segmentedR2s(&f, 0.030)
	f.r2at50ms = w.segmentedR2s(&f, 0.050)
	f.r2at60ms = w.segmentedR2s(&f, 0.060)

	if name := f.outOfRange(); name != "" {
		return probeBad("feature-out-of-range")
	}
	if !f.classify() {
		return probeBad("low-precision")
	}
	return ProbeResult{Good: true, Z: f.finalZ()}
}

// line is y = a*t + b over window time.
type line struct{ a, b float64 }

var invalidLine = line{math.NaN(), math.NaN()}

func (l line) valid() bool { return !math.IsNaN(l.a) && !math.IsNaN(l.b) }

func (l line) y(t float64) float64 { return l.a*t + l.b }

func (l line) time(y float64) float64 { return (y - l.b) / l.a }

func (l line) intersection(o line) float64 {
	if !l.valid() || !o.valid() || l.a == o.a {
		return math.NaN()
	}
	return (o.b - l.b) / (l.a - o.a)
}

// angle returns the angle between l and o in degrees, in [0, 180).
func (l line) angle(o line) float64 {
	if !l.valid() || !o.valid() {
		return math.NaN()
	}
	const norm = 250
	la, oa := l.a/norm, o.a/norm
	deg := math.Atan((oa-la)/(1+la*oa)) * 180 / math.Pi
	if deg < 0 {
		return 180 + deg
	}
	return deg
}

type segmentedR2s struct {
	compressionStart   float64
	compressionEnd     float64
	decompressionStart float64
	decompressionEnd   float64
}

type probeFeatures struct {
	analysisStart, fallEnd, riseStart, analysisEnd int

	fallLine, haltLine, riseLine line

	beforeCompressionLine  line
	compressionLine        line
	compressedLine         line
	decompressionLine      line
	afterDecompressionLine line

	compressionStartTime   float64
	compressionEndTime     float64
	decompressionStartTime float64
	decompressionEndTime   float64

	loadMeanBeforeCompression  float64
	loadMeanAfterDecompression float64

	loadAngleCompressionStart   float64
	loadAngleCompressionEnd     float64
	loadAngleDecompressionStart float64
	loadAngleDecompressionEnd   float64

	r2at20ms, r2at30ms, r2at50ms, r2at60ms segmentedR2s
}

// probeWindow is the working copy of the window. Index ranges are inclusive.
type probeWindow struct {
	recs []probeRecord
	dt   float64
}

func getLoad(r probeRecord) float64 { return r.load }
func getZ(r probeRecord) float64    { return r.z }

func (w *probeWindow) timeOf(i int) float64 { return float64(i) * w.dt }

func (w *probeWindow) closest(t float64, forward bool) int {
	var i int
	if forward {
		i = int(math.Ceil(t / w.dt))
	} else {
		i = int(math.Floor(t / w.dt))
	}
	return min(max(i, 0), len(w.recs)-1)
}

func (w *probeWindow) regression(first, last int, get func(probeRecord) float64) line {
	if first < 0 || last >= len(w.recs) || last-first < 1 {
		return invalidLine
	}
	xs := make([]float64, 0, last-first+1)
	ys := make([]float64, 0, last-first+1)
	for i := first; i <= last; i++ {
		xs = append(xs, w.timeOf(i))
		ys = append(ys, get(w.recs[i]))
	}
	b, a := stat.LinearRegression(xs, ys, nil, false)
	l := line{a: a, b: b}
	if !l.valid() || math.IsInf(a, 0) {
		return invalidLine
	}
	return l
}

// twoLines splits [first, last] into two load lines with the least squared error.
func (w *probeWindow) twoLines(first, last int) (left, right line) {
	left, right = invalidLine, invalidLine
	if last-first+1 < 3 {
		return
	}
	best := math.MaxFloat64
	for split := first + 1; split < last; split++ {
		l := w.regression(first, split-1, getLoad)
		r := w.regression(split, last, getLoad)
		if !l.valid() || !r.valid() {
			continue
		}
		var e float64
		for i := first; i <= last; i++ {
			fit := r
			if i < split {
				fit = l
			}
			d := fit.y(w.timeOf(i)) - w.recs[i].load
			e += d * d
		}
		if e < best {
			best, left, right = e, l, r
		}
	}
	return
}

// compensateDelay shifts z forward in time by loadDelay and extrapolates the
// first samples from the earliest known slope.
func (w *probeWindow) compensateDelay() bool {
	shift := int(loadDelay / w.dt)
	n := len(w.recs)
	if n <= shift+2 {
		return false
	}
	for i := n - 1; i >= shift; i-- {
		w.recs[i].z = w.recs[i-shift].z
	}
	diff := w.recs[shift].z - w.recs[shift+1].z
	for i := shift - 1; i >= 0; i-- {
		w.recs[i].z = w.recs[i+1].z + diff
	}
	return true
}

// haltSpan finds the span of the first global z minimum.
func (w *probeWindow) haltSpan(f *probeFeatures) {
	fallEnd := len(w.recs) - 1
	riseStart := fallEnd
	extending := true
	for i := len(w.recs) - 1; i >= 0; i-- {
		z := w.recs[i].z
		switch {
		case z < w.recs[fallEnd].z:
			fallEnd, riseStart = i, i
			extending = true
		case extending && z == w.recs[fallEnd].z:
			fallEnd = i
		default:
			extending = false
		}
	}
	f.fallEnd, f.riseStart = fallEnd, riseStart
}

func (w *probeWindow) analysisRange(f *probeFeatures) bool {
	lookback := int(analysisLookback / w.dt)
	lookahead := int(analysisLookahead / w.dt)
	if f.fallEnd < lookback || len(w.recs)-f.riseStart <= lookahead {
		return false
	}
	f.analysisStart = f.fallEnd - lookback
	f.analysisEnd = f.riseStart + lookahead
	return true
}

func (w *probeWindow) loadLines(f *probeFeatures) bool {
	f.beforeCompressionLine, f.compressionLine = w.twoLines(f.analysisStart, f.fallEnd-skipBorderSamples)
	f.compressedLine = w.regression(f.fallEnd+skipBorderSamples, f.riseStart-skipBorderSamples, getLoad)
	f.decompressionLine, f.afterDecompressionLine = w.twoLines(f.riseStart+skipBorderSamples, f.analysisEnd)

	f.compressionStartTime = f.beforeCompressionLine.intersection(f.compressionLine)
	f.compressionEndTime = f.compressionLine.intersection(f.compressedLine)
	f.decompressionStartTime = f.compressedLine.intersection(f.decompressionLine)
	f.decompressionEndTime = f.decompressionLine.intersection(f.afterDecompressionLine)

	return !math.IsNaN(f.compressionStartTime) && !math.IsNaN(f.compressionEndTime) &&
		!math.IsNaN(f.decompressionStartTime) && !math.IsNaN(f.decompressionEndTime)
}

func (w *probeWindow) zLines(f *probeFeatures) bool {
	f.fallLine = w.regression(f.analysisStart, f.fallEnd-skipBorderSamples, getZ)
	f.haltLine = w.regression(f.fallEnd+skipBorderSamples, f.riseStart-skipBorderSamples, getZ)
	f.riseLine = w.regression(f.riseStart+skipBorderSamples, f.analysisEnd, getZ)
	return f.fallLine.valid() && f.haltLine.valid() && f.riseLine.valid()
}

// sane checks that the four load events happen in order inside the analysed range.
func (w *probeWindow) sane(f *probeFeatures) bool {
	return w.timeOf(f.analysisStart) < f.compressionStartTime &&
		f.compressionStartTime < f.compressionEndTime &&
		f.compressionEndTime < f.decompressionStartTime &&
		f.decompressionStartTime < f.decompressionEndTime &&
		f.decompressionEndTime < w.timeOf(f.analysisEnd)
}

func (w *probeWindow) meanLoad(first, last int) float64 {
	if last < first {
		return math.NaN()
	}
	loads := make([]float64, 0, last-first+1)
	for i := first; i <= last; i++ {
		loads = append(loads, w.recs[i].load)
	}
	return stat.Mean(loads, nil)
}

func (w *probeWindow) loadMeans(f *probeFeatures) {
	f.loadMeanBeforeCompression = w.meanLoad(f.analysisStart, w.closest(f.compressionStartTime, false))
	f.loadMeanAfterDecompression = w.meanLoad(w.closest(f.decompressionEndTime, true), f.analysisEnd)
}

func (w *probeWindow) loadAngles(f *probeFeatures) {
	f.loadAngleCompressionStart = f.beforeCompressionLine.angle(f.compressionLine)
	f.loadAngleCompressionEnd = f.compressedLine.angle(f.compressionLine)
	f.loadAngleDecompressionStart = f.decompressionLine.angle(f.compressedLine)
	f.loadAngleDecompressionEnd = f.decompressionLine.angle(f.afterDecompressionLine)
}

// segmentR2 is the R² of fit over the first n samples of [first, last].
// Total variance is taken around the load of the segment's last sample; the
// classifier thresholds were fit that way.
func (w *probeWindow) segmentR2(first, last, n int, fit line) float64 {
	last = min(first+n-1, last)
	if last < first {
		return math.Inf(-1)
	}
	mean := w.recs[last].load
	var total, unexplained float64
	for i := first; i <= last; i++ {
		load := w.recs[i].load
		total += (load - mean) * (load - mean)
		d := fit.y(w.timeOf(i)) - load
		unexplained += d * d
	}
	if total == 0 {
		return math.Inf(-1)
	}
	return 1 - unexplained/total
}

// segmentedR2s measures how well each load line fits the segment that
// follows its event.
func (w *probeWindow) segmentedR2s(f *probeFeatures, segment float64) segmentedR2s {
	n := int(segment / w.dt)
	cs := w.closest(f.compressionStartTime, false)
	ce := w.closest(f.compressionEndTime, false)
	ds := w.closest(f.decompressionStartTime, false)
	de := w.closest(f.decompressionEndTime, false)
	return segmentedR2s{
		compressionStart:   w.segmentR2(cs, ce, n, f.compressionLine),
		compressionEnd:     w.segmentR2(ce, ds, n, f.compressedLine),
		decompressionStart: w.segmentR2(ds, de, n, f.decompressionLine),
		decompressionEnd:   w.segmentR2(de, f.analysisEnd, n, f.afterDecompressionLine),
	}
}

type featureRange struct {
	name     string
	value    float64
	min, max float64
}

// outOfRange returns the name of the first feature outside the range seen in
// training, or "".
func (f *probeFeatures) outOfRange() string {
	ranges := []featureRange{
		{"load_mean_before_compression", f.loadMeanBeforeCompression, -154.48058105323756, 152.44410035911991},
		{"load_mean_after_decompression", f.loadMeanAfterDecompression, -186.40204083948444, 194.03907144265904},
		{"load_compression_start", f.compressionLine.y(f.compressionStartTime), -256.92789509011595, 159.88252116779623},
		{"load_decompression_end", f.decompressionLine.y(f.decompressionEndTime), -6731.697754324502, 470.6857951091628},
		{"load_angle_compression_start", f.loadAngleCompressionStart, -52.492364077060884, 233.5051448593478},
		{"load_angle_compression_end", f.loadAngleCompressionEnd, -29.99231606763046, 213.1064906506039},
		{"load_angle_decompression_start", f.loadAngleDecompressionStart, -46.98080445417618, 227.04222071853522},
		{"load_angle_decompression_end", f.loadAngleDecompressionEnd, -93.72798028750367, 273.7232224109812},
		{"r2_compression_start_20", f.r2at20ms.compressionStart, -6535.315705859364, 133.50744526719794},
		{"r2_compression_end_20", f.r2at20ms.compressionEnd, -1690.1392305507259, 46.445990831041414},
		{"r2_decompression_start_30", f.r2at30ms.decompressionStart, -14399.59142096975, 469.83971245187513},
		{"r2_decompression_end_30", f.r2at30ms.decompressionEnd, -62922.69516938705, 2911.3834010814626},
		{"r2_compression_start_50", f.r2at50ms.compressionStart, -525.66164523715, 15.14786031499957},
		{"r2_compression_end_50", f.r2at50ms.compressionEnd, -131.39515975957238, 5.006255152513094},
		{"r2_decompression_start_50", f.r2at50ms.decompressionStart, -8376.465287601053, 284.4350844023189},
		{"r2_decompression_end_50", f.r2at50ms.decompressionEnd, -42356.61891250352, 1919.5961422774267},
		{"r2_decompression_start_60", f.r2at60ms.decompressionStart, -9867.310839170745, 257.2049327020503},
		{"r2_decompression_end_60", f.r2at60ms.decompressionEnd, -35308.89153040849, 1336.844303073224},
	}
	for _, r := range ranges {
		if r.value < r.min || r.value > r.max {
			return r.name
		}
	}
	if a := f.compressedLine.angle(f.afterDecompressionLine); math.Abs(a) > 40 {
		return "angle_after"
	}
	return ""
}

// classify is a decision tree trained on labelled probes.
func (f *probeFeatures) classify() bool {
	if f.loadAngleCompressionStart <= 154.68160247802734 {
		if f.r2at50ms.compressionEnd <= 0.6531023383140564 {
			if f.r2at30ms.compressionEnd <= 0.005205066641792655 {
				return false
			}
			return f.compressionLine.y(f.compressionStartTime) > -51.45247840881348
		}
		if f.loadAngleCompressionEnd <= 51.137014389038086 {
			return f.loadMeanBeforeCompression > -23.7804012298584
		}
		return true
	}
	if f.decompressionLine.y(f.decompressionEndTime) <= -63.84521484375 {
		if f.r2at50ms.compressionStart <= 0.6476757228374481 {
			return f.r2at60ms.decompressionEnd <= -321.4128608703613
		}
		return true
	}
	if f.loadAngleDecompressionStart <= 152.87728118896484 {
		return f.loadMeanBeforeCompression > -36.56223678588867
	}
	return false
}

// finalZ interpolates the bed height on the rise line between the end of
// decompression and the point 50 g before it.
func (f *probeFeatures) finalZ() float64 {
	zEnd := f.riseLine.y(f.decompressionEndTime)
	loadEnd := f.decompressionLine.y(f.decompressionEndTime)
	middle := f.decompressionLine.time(loadEnd - 120 + 70)
	zMiddle := f.riseLine.y(middle)
	return (zEnd + zMiddle) / 2
}
