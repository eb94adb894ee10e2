package scope

import (
	"image/color"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/tcloop/pkg/trend"
)

// ScopeWidget is a custom Fyne widget that plots temperature history.
type ScopeWidget struct {
	widget.BaseWidget

	window time.Duration

	// Data (protected by mu)
	mu         sync.RWMutex
	samples    []trend.Sample
	rates      []float64
	excursions []trend.Excursion

	// Display buffers (reused for downsampling)
	displaySamples []trend.Sample
	displayRates   []float64

	// Auto-scaling
	yMin, yMax float64
	xMin, xMax time.Time

	maxDisplayPoints int
}

// New creates a scope showing at least window of history with at most
// maxPoints points per curve.
func New(window time.Duration, maxPoints int) *ScopeWidget {
	if maxPoints < 2 {
		maxPoints = 1000
	}
	s := &ScopeWidget{
		window:           window,
		displaySamples:   make([]trend.Sample, 0, maxPoints),
		displayRates:     make([]float64, 0, maxPoints),
		maxDisplayPoints: maxPoints,
	}
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// UpdateData replaces the plotted history. Call it through fyne.Do from
// trend callbacks.
func (s *ScopeWidget) UpdateData(samples []trend.Sample, rates []float64, excursions []trend.Excursion) {
	s.mu.Lock()

	s.displaySamples = trend.Downsample(s.displaySamples, samples, s.maxDisplayPoints)
	s.displayRates = trend.Downsample(s.displayRates, rates, s.maxDisplayPoints)

	s.samples = samples
	s.rates = rates
	s.excursions = excursions

	s.yMin, s.yMax, s.xMin, s.xMax = autoScale(s.displaySamples, s.displayRates, s.window, time.Now())

	s.mu.Unlock()

	s.Refresh()
}

// autoScale returns the plot ranges with a 10 % vertical margin. The time
// axis spans at least window.
func autoScale(samples []trend.Sample, rates []float64, window time.Duration, now time.Time) (yMin, yMax float64, xMin, xMax time.Time) {
	if len(samples) == 0 {
		return 0, 1, now, now.Add(window)
	}

	yMin, yMax = samples[0].Celsius, samples[0].Celsius
	for _, s := range samples {
		yMin = min(yMin, s.Celsius)
		yMax = max(yMax, s.Celsius)
	}
	for _, r := range rates {
		yMin = min(yMin, r)
		yMax = max(yMax, r)
	}

	span := yMax - yMin
	if span == 0 {
		span = 1.0
	}
	yMin -= span * 0.1
	yMax += span * 0.1

	xMin = samples[0].Timestamp
	xMax = samples[len(samples)-1].Timestamp
	if xMax.Sub(xMin) < window {
		xMax = xMin.Add(window)
	}
	return yMin, yMax, xMin, xMax
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
