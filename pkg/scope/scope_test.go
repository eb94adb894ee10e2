package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/tcloop/pkg/trend"
)

func TestAutoScale_Empty(t *testing.T) {
	now := time.Now()
	yMin, yMax, xMin, xMax := autoScale(nil, nil, time.Minute, now)
	assert.Equal(t, 0.0, yMin)
	assert.Equal(t, 1.0, yMax)
	assert.Equal(t, now, xMin)
	assert.Equal(t, now.Add(time.Minute), xMax)
}

func TestAutoScale(t *testing.T) {
	now := time.Now()
	samples := []trend.Sample{
		{Timestamp: now, Celsius: 20},
		{Timestamp: now.Add(time.Second), Celsius: 30},
	}
	yMin, yMax, xMin, xMax := autoScale(samples, []float64{-10}, 10*time.Second, now)
	assert.InDelta(t, -14, yMin, 1e-9)
	assert.InDelta(t, 34, yMax, 1e-9)
	assert.Equal(t, now, xMin)
	assert.Equal(t, now.Add(10*time.Second), xMax, "at least one window wide")

	// Flat data still gets a range.
	yMin, yMax, _, _ = autoScale(samples[:1], nil, time.Second, now)
	assert.InDelta(t, 19.9, yMin, 1e-9)
	assert.InDelta(t, 20.1, yMax, 1e-9)
}

func TestPlotPos(t *testing.T) {
	now := time.Now()
	p := plot{x: 10, y: 20, w: 100, h: 50, yMin: 0, yMax: 100, xMin: now, xMax: now.Add(10 * time.Second)}
	pos := p.pos(now.Add(5*time.Second), 25)
	assert.InDelta(t, 60, pos.X, 1e-3)
	assert.InDelta(t, 57.5, pos.Y, 1e-3)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "-12.3°C", formatCelsius(-12.34))
	assert.Equal(t, "12.000 mA", formatMilliamps(12))
	assert.Equal(t, "0.50s", formatTime(500*time.Millisecond))
	assert.Equal(t, "90.0s", formatTime(90*time.Second))
}
