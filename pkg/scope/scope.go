// Package scope is a fyne oscilloscope widget for load cell traces.
package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/sample"
	"github.com/itohio/gobuddy/pkg/trace"
)

// DefaultMaxPoints limits the points drawn per trace.
const DefaultMaxPoints = 1000

// Channels selects the traces to draw.
type Channels struct {
	Load bool // tared load
	Z    bool // Z band-pass
	XY   bool // XY band-pass
}

// ScopeWidget displays the load cell window with trigger spans and thresholds.
type ScopeWidget struct {
	widget.BaseWidget

	cfg *config.Config

	mu       sync.RWMutex
	display  []sample.Sample
	spans    []trace.Span
	channels Channels

	view viewport

	maxDisplayPoints int
}

// New creates a new ScopeWidget instance.
func New(cfg *config.Config) *ScopeWidget {
	s := &ScopeWidget{
		cfg:              cfg,
		display:          make([]sample.Sample, 0, DefaultMaxPoints),
		channels:         Channels{Load: true, Z: true},
		maxDisplayPoints: DefaultMaxPoints,
	}
	s.view = computeViewport(nil, s.channels, s.window(), s.threshold())
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

func (s *ScopeWidget) window() time.Duration {
	return time.Duration(s.cfg.Trace.WindowSeconds * float64(time.Second))
}

func (s *ScopeWidget) threshold() float32 {
	return float32(s.cfg.Loadcell.ThresholdStatic)
}

// SetChannels selects the visible traces.
func (s *ScopeWidget) SetChannels(ch Channels) {
	s.mu.Lock()
	s.channels = ch
	s.view = computeViewport(s.display, ch, s.window(), s.threshold())
	s.mu.Unlock()
	s.Refresh()
}

// UpdateData replaces the displayed window. Call it from the trace callback through fyne.Do.
func (s *ScopeWidget) UpdateData(samples []sample.Sample, spans []trace.Span) {
	s.mu.Lock()
	s.display = sample.MinMax(s.display, samples, s.maxDisplayPoints, func(v sample.Sample) float32 { return v.Load })
	s.spans = spans
	s.view = computeViewport(s.display, s.channels, s.window(), s.threshold())
	s.mu.Unlock()

	s.Refresh()
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	background := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:      s,
		background: background,
		objects:    []fyne.CanvasObject{background},
	}
}
