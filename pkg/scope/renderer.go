package scope

import (
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/chewxy/math32"
	"github.com/itohio/gobuddy/pkg/sample"
	"github.com/itohio/gobuddy/pkg/trace"
)

var (
	gridColor      = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor     = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	loadColor      = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	zColor         = color.RGBA{R: 100, G: 200, B: 255, A: 255}
	xyColor        = color.RGBA{R: 120, G: 220, B: 120, A: 255}
	thresholdColor = color.RGBA{R: 160, G: 50, B: 50, A: 255}
	spanColor      = color.RGBA{R: 0, G: 100, B: 200, A: 255}
)

// plot is the drawing area inside the margins.
type plot struct {
	x, y, w, h float32
	view       viewport
}

func (p plot) pos(s sample.Sample, value float32) fyne.Position {
	return fyne.NewPos(p.x+p.view.x(s.Time)*p.w, p.y+p.h-p.view.y(value)*p.h)
}

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope      *ScopeWidget
	background *canvas.Rectangle
	objects    []fyne.CanvasObject
	lastSize   fyne.Size
}

func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

func (r *scopeRenderer) Layout(size fyne.Size) {
	r.background.Resize(size)
	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	samples := r.scope.display
	spans := r.scope.spans
	channels := r.scope.channels
	view := r.scope.view
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	const marginLeft, marginRight, marginTop, marginBottom = 60, 20, 20, 40
	p := plot{
		x:    marginLeft,
		y:    marginTop,
		w:    size.Width - marginLeft - marginRight,
		h:    size.Height - marginTop - marginBottom,
		view: view,
	}

	r.objects = append(r.objects[:0], r.background)
	r.drawGrid(p)
	threshold := r.scope.threshold()
	r.drawHorizontal(p, threshold, thresholdColor)
	r.drawHorizontal(p, -threshold, thresholdColor)
	r.drawSpans(p, spans)

	if channels.XY {
		r.drawTrace(p, samples, func(s sample.Sample) float32 { return s.XY }, xyColor, 1)
	}
	if channels.Z {
		r.drawTrace(p, samples, func(s sample.Sample) float32 { return s.Z }, zColor, 2)
	}
	if channels.Load {
		r.drawTrace(p, samples, func(s sample.Sample) float32 { return s.Load }, loadColor, 1.5)
	}
}

func (r *scopeRenderer) line(a, b fyne.Position, c color.Color, width float32) {
	l := canvas.NewLine(c)
	l.Position1 = a
	l.Position2 = b
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

func (r *scopeRenderer) text(s string, pos fyne.Position, c color.Color, size float32, align fyne.TextAlign) {
	t := canvas.NewText(s, c)
	t.TextSize = size
	t.Alignment = align
	t.Move(pos)
	r.objects = append(r.objects, t)
}

func (r *scopeRenderer) drawGrid(p plot) {
	const rows, cols = 8, 10
	for i := range rows + 1 {
		y := p.y + float32(i)*p.h/rows
		r.line(fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y), gridColor, 1)
		value := p.view.yMax - float32(i)*(p.view.yMax-p.view.yMin)/rows
		r.text(formatGrams(value), fyne.NewPos(p.x-5, y-6), labelColor, 10, fyne.TextAlignTrailing)
	}
	for i := range cols + 1 {
		x := p.x + float32(i)*p.w/cols
		r.line(fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h), gridColor, 1)
		offset := (p.view.xMax - p.view.xMin) * time.Duration(i) / cols
		r.text(formatTime(offset), fyne.NewPos(x-20, p.y+p.h+5), labelColor, 10, fyne.TextAlignCenter)
	}
}

func (r *scopeRenderer) drawHorizontal(p plot, value float32, c color.Color) {
	y := p.y + p.h - p.view.y(value)*p.h
	r.line(fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y), c, 1)
}

// drawTrace draws value over samples, breaking the line at NaN.
func (r *scopeRenderer) drawTrace(p plot, samples []sample.Sample, value func(sample.Sample) float32, c color.Color, width float32) {
	for i := 1; i < len(samples); i++ {
		a, b := value(samples[i-1]), value(samples[i])
		if math32.IsNaN(a) || math32.IsNaN(b) {
			continue
		}
		r.line(p.pos(samples[i-1], a), p.pos(samples[i], b), c, width)
	}
}

func (r *scopeRenderer) drawSpans(p plot, spans []trace.Span) {
	for _, span := range spans {
		if span.End < p.view.xMin {
			continue
		}
		start := p.x + p.view.x(max(span.Start, p.view.xMin))*p.w
		end := p.x + p.view.x(span.End)*p.w
		r.line(fyne.NewPos(start, p.y), fyne.NewPos(start, p.y+p.h), spanColor, 1)
		r.line(fyne.NewPos(end, p.y), fyne.NewPos(end, p.y+p.h), spanColor, 1)

		label := formatGrams(span.Peak)
		if span.XY {
			label = "XY " + label
		}
		r.text(label, fyne.NewPos((start+end)/2-30, p.y+5), loadColor, 12, fyne.TextAlignCenter)
	}
}

func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *scopeRenderer) Destroy() {}
