package trend

import (
	"math"
	"sync"
	"time"
)

var _ History = (*Trend)(nil)

// Excursion is a run of consecutive samples that were faulted or changed
// faster than the rate limit.
type Excursion struct {
	StartIndex int // first sample index in the buffer
	EndIndex   int // last sample index, updated while the excursion lasts
	StartTime  time.Time
	EndTime    time.Time
	Peak       float64 // largest |rate| seen, °C/s
	Faulted    bool    // any sample carried a fault flag
}

// UpdateFunc receives copies of the buffers after every sample.
type UpdateFunc func(samples []Sample, rates []float64, excursions []Excursion)

// History processes samples and keeps the windowed buffers.
type History interface {
	ProcessSamples(input <-chan Sample)
	Samples() []Sample      // oldest first
	Rates() []float64       // rates[i] is the slope from samples[i] to samples[i+1], °C/s
	Excursions() []Excursion
	OnUpdate(UpdateFunc)
}

// Trend implements History. Samples older than the window, measured from
// the newest timestamp, are dropped.
type Trend struct {
	mu         sync.RWMutex
	samples    []Sample
	rates      []float64
	excursions []Excursion
	shutdown   bool

	callbacks []UpdateFunc
	cbMu      sync.RWMutex

	window    time.Duration
	rateLimit float64
}

// New returns a trend keeping window of history. rateLimit in °C/s marks
// fast changes as excursions; zero disables it.
func New(window time.Duration, rateLimit float64) *Trend {
	return &Trend{
		window:    window,
		rateLimit: rateLimit,
	}
}

// ProcessSamples consumes input until it is closed. Callbacks stop after
// that until ResetShutdown.
func (t *Trend) ProcessSamples(input <-chan Sample) {
	for s := range input {
		t.processSample(s)
	}
	t.mu.Lock()
	t.shutdown = true
	t.mu.Unlock()
}

func (t *Trend) processSample(s Sample) {
	t.mu.Lock()

	t.samples = append(t.samples, s)
	t.trim(s.Timestamp.Add(-t.window))

	rate := 0.0
	if n := len(t.samples); n >= 2 {
		prev, curr := t.samples[n-2], t.samples[n-1]
		if dt := curr.Timestamp.Sub(prev.Timestamp).Seconds(); dt > 0 {
			rate = (curr.Celsius - prev.Celsius) / dt
		}
		t.rates = append(t.rates, rate)
		if len(t.rates) > n-1 {
			t.rates = t.rates[len(t.rates)-(n-1):]
		}
	}
	t.updateExcursions(s, rate)

	notify := !t.shutdown
	t.mu.Unlock()

	if notify {
		t.notify()
	}
}

// trim drops samples at or before cutoff and shifts the dependent buffers.
func (t *Trend) trim(cutoff time.Time) {
	cut := 0
	for cut < len(t.samples)-1 && !t.samples[cut].Timestamp.After(cutoff) {
		cut++
	}
	if cut == 0 {
		return
	}

	t.samples = t.samples[cut:]
	if cut <= len(t.rates) {
		t.rates = t.rates[cut:]
	} else {
		t.rates = t.rates[:0]
	}

	kept := t.excursions[:0]
	for _, e := range t.excursions {
		e.StartIndex -= cut
		e.EndIndex -= cut
		if e.EndIndex < 0 {
			continue
		}
		if e.StartIndex < 0 {
			e.StartIndex = 0
			e.StartTime = t.samples[0].Timestamp
		}
		kept = append(kept, e)
	}
	t.excursions = kept
}

func (t *Trend) updateExcursions(s Sample, rate float64) {
	idx := len(t.samples) - 1
	fast := t.rateLimit > 0 && math.Abs(rate) > t.rateLimit
	if !s.Faulted() && !fast {
		return
	}

	if n := len(t.excursions); n > 0 && t.excursions[n-1].EndIndex == idx-1 {
		e := &t.excursions[n-1]
		e.EndIndex = idx
		e.EndTime = s.Timestamp
		e.Peak = math.Max(e.Peak, math.Abs(rate))
		e.Faulted = e.Faulted || s.Faulted()
		return
	}

	t.excursions = append(t.excursions, Excursion{
		StartIndex: idx,
		EndIndex:   idx,
		StartTime:  s.Timestamp,
		EndTime:    s.Timestamp,
		Peak:       math.Abs(rate),
		Faulted:    s.Faulted(),
	})
}

// Samples returns a copy of the sample buffer.
func (t *Trend) Samples() []Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Sample(nil), t.samples...)
}

// Rates returns a copy of the rate buffer.
func (t *Trend) Rates() []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]float64(nil), t.rates...)
}

// Excursions returns a copy of the excursion list.
func (t *Trend) Excursions() []Excursion {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Excursion(nil), t.excursions...)
}

// Latest returns the newest sample.
func (t *Trend) Latest() (Sample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.samples) == 0 {
		return Sample{}, false
	}
	return t.samples[len(t.samples)-1], true
}

// OnUpdate registers a callback. Callbacks run on the processing goroutine
// and should return quickly.
func (t *Trend) OnUpdate(cb UpdateFunc) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// ResetShutdown re-enables callbacks for a new input stream.
func (t *Trend) ResetShutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown = false
}

// Reset clears all buffers.
func (t *Trend) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples, t.rates, t.excursions = nil, nil, nil
}

func (t *Trend) notify() {
	samples, rates, excursions := t.Samples(), t.Rates(), t.Excursions()

	t.cbMu.RLock()
	callbacks := append([]UpdateFunc(nil), t.callbacks...)
	t.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(samples, rates, excursions)
		}
	}
}
