// Package trace keeps a sliding window of processed load cell samples and the
// endstop trigger spans seen in it.
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/hxmux"
	"github.com/itohio/gobuddy/pkg/sample"
)

var _ Recorder = (*Trace)(nil)

// Span is a contiguous run of samples with an endstop triggered.
type Span struct {
	Start time.Duration
	End   time.Duration // time of the last triggered sample
	Peak  float32       // largest absolute load in the span, grams
	XY    bool          // XY endstop instead of Z
	Open  bool          // still triggered at the newest sample
}

// Duration returns the span length.
func (s Span) Duration() time.Duration { return s.End - s.Start }

// Counts tallies samples seen by channel.
type Counts struct {
	Loadcell  int
	Filament  int
	Undefined int
}

// UpdateFunc receives copies of the window contents.
type UpdateFunc func(samples []sample.Sample, spans []Span)

// Recorder consumes processed samples and exposes the current window.
type Recorder interface {
	ProcessSamples(input <-chan sample.Sample)
	Samples() []sample.Sample // load cell samples, oldest first
	Spans() []Span            // trigger spans within the window
	OnUpdate(UpdateFunc)
}

// Trace implements Recorder.
type Trace struct {
	mu      sync.RWMutex
	session uuid.UUID
	samples []sample.Sample
	spans   []Span
	open    [2]*Span // Z, XY
	counts  Counts

	callbacks []UpdateFunc
	cbMu      sync.RWMutex

	window     time.Duration
	minTrigger time.Duration

	// shutdown is set when the input channel closes and stops callbacks.
	shutdown bool
}

// New creates an empty trace with a fresh session id.
func New(cfg *config.TraceConfig) *Trace {
	return &Trace{
		session:    uuid.New(),
		window:     time.Duration(cfg.WindowSeconds * float64(time.Second)),
		minTrigger: time.Duration(cfg.MinTriggerDuration * float64(time.Second)),
	}
}

// ProcessSamples consumes input until it closes. After that no callbacks are
// sent until ResetShutdown.
func (t *Trace) ProcessSamples(input <-chan sample.Sample) {
	for s := range input {
		if t.add(s) {
			t.notifyCallbacks()
		}
	}
	t.mu.Lock()
	t.shutdown = true
	t.mu.Unlock()
}

// add records a sample and reports whether callbacks should run.
func (t *Trace) add(s sample.Sample) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case s.Undefined:
		t.counts.Undefined++
		return false
	case s.Channel != hxmux.LoadcellChannel:
		t.counts.Filament++
		return false
	}
	t.counts.Loadcell++

	t.samples = append(t.samples, s)
	t.track(0, s.Endstop, s)
	t.track(1, s.XYEndstop, s)
	t.prune(s.Time - t.window)
	return !t.shutdown
}

// track extends or closes the open span of kind k.
func (t *Trace) track(k int, triggered bool, s sample.Sample) {
	load := math32.Abs(s.Load)
	if k == 1 {
		load = math32.Abs(s.XY)
	}

	open := t.open[k]
	switch {
	case triggered && open == nil:
		t.open[k] = &Span{Start: s.Time, End: s.Time, Peak: load, XY: k == 1, Open: true}
	case triggered:
		open.End = s.Time
		open.Peak = max(open.Peak, load)
	case open != nil:
		open.Open = false
		if open.Duration() >= t.minTrigger {
			t.spans = append(t.spans, *open)
		}
		t.open[k] = nil
	}
}

// prune drops samples and closed spans that ended before cutoff.
func (t *Trace) prune(cutoff time.Duration) {
	i := 0
	for i < len(t.samples) && t.samples[i].Time < cutoff {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}

	j := 0
	for j < len(t.spans) && t.spans[j].End < cutoff {
		j++
	}
	if j > 0 {
		t.spans = append(t.spans[:0], t.spans[j:]...)
	}
}

// Samples returns a copy of the window.
func (t *Trace) Samples() []sample.Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]sample.Sample(nil), t.samples...)
}

// Spans returns the closed spans followed by the open ones.
func (t *Trace) Spans() []Span {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.spansLocked()
}

func (t *Trace) spansLocked() []Span {
	spans := make([]Span, 0, len(t.spans)+2)
	spans = append(spans, t.spans...)
	for _, open := range t.open {
		if open != nil {
			spans = append(spans, *open)
		}
	}
	return spans
}

// Counts returns the number of samples seen per kind since the last Reset.
func (t *Trace) Counts() Counts {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.counts
}

// Session identifies the current recording.
func (t *Trace) Session() uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.session
}

// Reset clears the window and starts a new session.
func (t *Trace) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = uuid.New()
	t.samples = t.samples[:0]
	t.spans = t.spans[:0]
	t.open = [2]*Span{}
	t.counts = Counts{}
}

// OnUpdate registers a callback invoked after every load cell sample.
// Callbacks run on the processing goroutine and should return quickly.
func (t *Trace) OnUpdate(callback UpdateFunc) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callbacks = append(t.callbacks, callback)
}

// ResetShutdown allows callbacks again before a new input chain is attached.
func (t *Trace) ResetShutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown = false
}

func (t *Trace) notifyCallbacks() {
	t.mu.RLock()
	samples := append([]sample.Sample(nil), t.samples...)
	spans := t.spansLocked()
	t.mu.RUnlock()

	t.cbMu.RLock()
	callbacks := append([]UpdateFunc(nil), t.callbacks...)
	t.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(samples, spans)
		}
	}
}

// WriteCSV exports the window. The first line is a comment carrying the session id.
func (t *Trace) WriteCSV(w io.Writer) error {
	t.mu.RLock()
	session := t.session
	samples := append([]sample.Sample(nil), t.samples...)
	t.mu.RUnlock()

	if _, err := fmt.Fprintf(w, "# session %s\n", session); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time_s", "raw", "load_g", "z_g", "xy_g", "endstop", "xy_endstop"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, s := range samples {
		record := []string{
			strconv.FormatFloat(s.Time.Seconds(), 'f', 6, 64),
			strconv.FormatInt(int64(s.Raw), 10),
			strconv.FormatFloat(float64(s.Load), 'f', 3, 32),
			strconv.FormatFloat(float64(s.Z), 'f', 3, 32),
			strconv.FormatFloat(float64(s.XY), 'f', 3, 32),
			strconv.FormatBool(s.Endstop),
			strconv.FormatBool(s.XYEndstop),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
