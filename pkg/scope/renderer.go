package scope

import (
	"image/color"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"

	"github.com/itohio/tcloop/pkg/trend"
)

var (
	gridColor      = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor     = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	celsiusColor   = color.RGBA{R: 255, G: 165, B: 0, A: 255}
	rateColor      = color.RGBA{R: 100, G: 200, B: 255, A: 255}
	faultColor     = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	excursionColor = color.RGBA{R: 0, G: 100, B: 200, A: 255}
)

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	grid    *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

// plot maps data coordinates to the plot area.
type plot struct {
	x, y, w, h float32
	yMin, yMax float64
	xMin, xMax time.Time
}

func (p plot) pos(t time.Time, v float64) fyne.Position {
	px := p.x + float32(t.Sub(p.xMin).Seconds()/p.xMax.Sub(p.xMin).Seconds())*p.w
	py := p.y + p.h - float32((v-p.yMin)/(p.yMax-p.yMin))*p.h
	return fyne.NewPos(px, py)
}

// MinSize returns the minimum size of the widget.
func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

// Layout arranges the widget components.
func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

// Refresh redraws every curve.
func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	samples := r.scope.displaySamples
	rates := r.scope.displayRates
	all := r.scope.samples
	excursions := r.scope.excursions
	p := plot{yMin: r.scope.yMin, yMax: r.scope.yMax, xMin: r.scope.xMin, xMax: r.scope.xMax}
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 || !p.xMax.After(p.xMin) || p.yMax <= p.yMin {
		return
	}

	r.objects = []fyne.CanvasObject{r.grid}

	marginLeft := float32(60.0)
	marginRight := float32(20.0)
	marginTop := float32(20.0)
	marginBottom := float32(40.0)
	p.x, p.y = marginLeft, marginTop
	p.w = size.Width - marginLeft - marginRight
	p.h = size.Height - marginTop - marginBottom

	r.drawGrid(p)
	r.drawExcursions(p, excursions, all)
	if len(samples) > 1 {
		r.drawCelsius(p, samples)
	}
	if len(rates) > 0 && len(samples) > 1 {
		r.drawRates(p, rates, samples)
	}
	if n := len(all); n > 0 {
		r.drawReadout(p, all[n-1])
	}
}

func (r *scopeRenderer) drawGrid(p plot) {
	numHLines := 8
	for i := range numHLines + 1 {
		y := p.y + float32(i)*p.h/float32(numHLines)
		r.line(gridColor, 1, fyne.NewPos(p.x, y), fyne.NewPos(p.x+p.w, y))

		value := p.yMax - float64(i)*(p.yMax-p.yMin)/float64(numHLines)
		text := canvas.NewText(formatCelsius(value), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignTrailing
		text.Move(fyne.NewPos(p.x-5, y-6))
		r.objects = append(r.objects, text)
	}

	numVLines := 10
	span := p.xMax.Sub(p.xMin)
	for i := range numVLines + 1 {
		x := p.x + float32(i)*p.w/float32(numVLines)
		r.line(gridColor, 1, fyne.NewPos(x, p.y), fyne.NewPos(x, p.y+p.h))

		offset := span * time.Duration(i) / time.Duration(numVLines)
		text := canvas.NewText(formatTime(offset), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos(x-20, p.y+p.h+5))
		r.objects = append(r.objects, text)
	}
}

func (r *scopeRenderer) drawCelsius(p plot, samples []trend.Sample) {
	prev := p.pos(samples[0].Timestamp, samples[0].Celsius)
	for _, s := range samples[1:] {
		next := p.pos(s.Timestamp, s.Celsius)
		r.line(celsiusColor, 1.5, prev, next)
		prev = next
	}
}

// drawRates plots each rate at the midpoint of its sample pair.
func (r *scopeRenderer) drawRates(p plot, rates []float64, samples []trend.Sample) {
	var prev fyne.Position
	for i, rate := range rates {
		if i+1 >= len(samples) {
			break
		}
		mid := samples[i].Timestamp.Add(samples[i+1].Timestamp.Sub(samples[i].Timestamp) / 2)
		next := p.pos(mid, rate)
		if i > 0 {
			r.line(rateColor, 2.5, prev, next)
		}
		prev = next
	}
}

// drawExcursions marks each excursion with start and end lines and labels
// it with the peak rate.
func (r *scopeRenderer) drawExcursions(p plot, excursions []trend.Excursion, samples []trend.Sample) {
	for _, e := range excursions {
		if e.StartIndex < 0 || e.EndIndex >= len(samples) || e.StartIndex > e.EndIndex {
			continue
		}
		c := excursionColor
		label := formatCelsius(e.Peak) + "/s"
		if e.Faulted {
			c = faultColor
			label = "fault"
		}

		start := p.pos(samples[e.StartIndex].Timestamp, p.yMax)
		end := p.pos(samples[e.EndIndex].Timestamp, p.yMax)
		r.line(c, 1, start, fyne.NewPos(start.X, p.y+p.h))
		r.line(c, 1, end, fyne.NewPos(end.X, p.y+p.h))

		text := canvas.NewText(label, c)
		text.TextSize = 12
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos((start.X+end.X)/2-30, p.y+2))
		r.objects = append(r.objects, text)
	}
}

func (r *scopeRenderer) drawReadout(p plot, s trend.Sample) {
	text := canvas.NewText(formatCelsius(s.Celsius)+"  "+formatMilliamps(s.Milliamps), color.RGBA{R: 200, G: 200, B: 200, A: 255})
	text.TextSize = 11
	text.Alignment = fyne.TextAlignLeading
	text.Move(fyne.NewPos(p.x+10, p.y+10))
	r.objects = append(r.objects, text)
}

func (r *scopeRenderer) line(c color.Color, width float32, from, to fyne.Position) {
	l := canvas.NewLine(c)
	l.Position1 = from
	l.Position2 = to
	l.StrokeWidth = width
	r.objects = append(r.objects, l)
}

// Objects returns all canvas objects for rendering.
func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

// Destroy cleans up resources.
func (r *scopeRenderer) Destroy() {}

func formatCelsius(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "°C"
}

func formatMilliamps(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64) + " mA"
}

func formatTime(d time.Duration) string {
	if d < time.Second {
		return strconv.FormatFloat(d.Seconds(), 'f', 2, 64) + "s"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
}
