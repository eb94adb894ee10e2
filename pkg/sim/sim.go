// Package sim provides simulated converter and output hardware so the
// instrument can run on a host without a board attached.
package sim

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/lookup"
	"github.com/itohio/tcloop/pkg/thermo"
)

// Config describes the simulated plant.
type Config struct {
	ProcessCelsius  float32       // hot junction start temperature
	AmbientCelsius  float32       // cold junction temperature
	RampCelsiusPerS float32       // process drift
	NoiseMicroV     float32       // thermocouple noise amplitude
	ConversionRate  time.Duration // time between conversions
	DisconnectAfter time.Duration // open thermocouple after this, 0 = never
	R0              float32       // RTD nominal resistance
}

// DefaultConfig is a PT1000 cold junction at 25 °C and a process at 100 °C.
func DefaultConfig() Config {
	return Config{
		ProcessCelsius: 100,
		AmbientCelsius: 25,
		NoiseMicroV:    2,
		ConversionRate: 5 * time.Millisecond,
		R0:             lookup.PT1000,
	}
}

// Converter simulates the analog front end and the delta-sigma converter.
// It implements adc.Frontend.
type Converter struct {
	cfg   Config
	scale thermo.Scale
	emf   lookup.Service

	channel atomic.Uint32
	selects atomic.Uint64

	mu           sync.RWMutex
	start        time.Time
	process      float32
	ambient      float32
	disconnected bool
}

var _ adc.Frontend = (*Converter)(nil)

// NewConverter returns a converter for the given transfer constants.
func NewConverter(cfg Config, scale thermo.Scale) *Converter {
	if cfg.R0 <= 0 {
		cfg.R0 = lookup.PT1000
	}
	if cfg.ConversionRate <= 0 {
		cfg.ConversionRate = DefaultConfig().ConversionRate
	}
	return &Converter{
		cfg:     cfg,
		scale:   scale,
		emf:     lookup.Default(cfg.R0),
		start:   time.Now(),
		process: cfg.ProcessCelsius,
		ambient: cfg.AmbientCelsius,
	}
}

// Select implements adc.Frontend.
func (c *Converter) Select(ch adc.Channel) error {
	c.channel.Store(uint32(ch))
	c.selects.Add(1)
	return nil
}

// Selects returns the number of channel switches.
func (c *Converter) Selects() uint64 { return c.selects.Load() }

// SetProcess moves the hot junction.
func (c *Converter) SetProcess(celsius float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.process = celsius
	c.start = time.Now()
}

// SetAmbient moves the cold junction.
func (c *Converter) SetAmbient(celsius float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ambient = celsius
}

// SetDisconnected opens or closes the thermocouple circuit.
func (c *Converter) SetDisconnected(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = open
}

// Process returns the hot junction temperature at now.
func (c *Converter) Process(now time.Time) float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.processAt(now)
}

func (c *Converter) processAt(now time.Time) float32 {
	return c.process + c.cfg.RampCelsiusPerS*float32(now.Sub(c.start).Seconds())
}

// Convert returns the conversion of the active channel at now.
func (c *Converter) Convert(now time.Time) (int32, adc.Status) {
	c.mu.RLock()
	process := c.processAt(now)
	ambient := c.ambient
	open := c.disconnected || (c.cfg.DisconnectAfter > 0 && now.Sub(c.start) >= c.cfg.DisconnectAfter)
	c.mu.RUnlock()

	if adc.Channel(c.channel.Load()) == adc.RTD {
		ratio := lookup.RTDResistance(c.cfg.R0, ambient) / c.scale.SeriesResistance
		return saturate(float64(ratio) * float64(c.scale.FullScale))
	}

	if open {
		// An open input rails the PGA.
		return int32(c.scale.FullScale - 1), adc.StatusError
	}

	hot, _ := c.emf.TemperatureToColdJunctionVoltage(process)
	cold, _ := c.emf.TemperatureToColdJunctionVoltage(ambient)
	volts := float64(hot-cold) + noise(now.Sub(c.start), c.cfg.NoiseMicroV)*1e-6
	return saturate(volts / float64(c.scale.VoltsPerCode()))
}

// Run feeds conversions to s until ctx is done.
func (c *Converter) Run(ctx context.Context, s *adc.Sampler) {
	ticker := time.NewTicker(c.cfg.ConversionRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.OnConversion(c.Convert(now))
		}
	}
}

func noise(elapsed time.Duration, amplitude float32) float64 {
	n := float64(elapsed.Nanoseconds())
	return (math.Sin(n*0.001) + math.Cos(n*0.0013)) * float64(amplitude) * 0.5
}

// saturate rounds v to a code, railing at the signed 32 bit limits with an
// over-range status.
func saturate(v float64) (int32, adc.Status) {
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32, adc.StatusError
	case v <= math.MinInt32:
		return math.MinInt32, adc.StatusError
	}
	return int32(math.Round(v)), 0
}
