// Package thermo turns a completed batch pair into a cold-junction
// compensated thermocouple temperature.
package thermo

import (
	"errors"
	"fmt"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/fault"
	"github.com/itohio/tcloop/pkg/lookup"
)

// Measurement is the result of one measurement cycle. It is immutable once
// returned by Pipeline.Process.
type Measurement struct {
	Timestamp time.Time

	ThermocoupleVolts float32 // averaged hot-junction voltage
	RTDRatio          float32 // averaged RTD voltage relative to the reference
	RTDOhms           float32
	RTDCelsius        float32
	ColdJunctionVolts float32 // thermocouple EMF equivalent of RTDCelsius
	CompensatedVolts  float32 // ThermocoupleVolts + ColdJunctionVolts
	Celsius           float32 // final temperature

	// OverRange is set when any lookup saturated at a table edge.
	OverRange bool
}

// Scale holds the converter transfer constants.
type Scale struct {
	VRef             float32 // reference voltage (V)
	FullScale        float32 // codes per VRef, gain already folded in
	SeriesResistance float32 // RTD reference resistor (Ω)
}

// DefaultScale matches a 1.2 V reference, 2^28 codes full scale and a 5.6 kΩ
// RTD reference resistor.
func DefaultScale() Scale {
	return Scale{
		VRef:             1.2,
		FullScale:        268435456,
		SeriesResistance: 5600,
	}
}

// Validate reports whether the constants are usable.
func (s Scale) Validate() error {
	for _, v := range []float32{s.VRef, s.FullScale, s.SeriesResistance} {
		if !(v > 0) || math32.IsInf(v, 1) {
			return fmt.Errorf("thermo: scale constants must be positive and finite: %+v", s)
		}
	}
	return nil
}

// VoltsPerCode is the thermocouple channel scale factor.
func (s Scale) VoltsPerCode() float32 {
	return s.VRef / s.FullScale
}

// Average returns the mean of codes. It returns 0 for an empty slice.
func Average(codes []int32) float32 {
	if len(codes) == 0 {
		return 0
	}
	var sum int64
	for _, c := range codes {
		sum += int64(c)
	}
	return float32(sum) / float32(len(codes))
}

// Resistance returns ratio × series.
func Resistance(ratio, series float32) float32 {
	return ratio * series
}

// Pipeline computes measurements. It is safe for use by a single goroutine.
type Pipeline struct {
	scale  Scale
	lookup lookup.Service
	now    func() time.Time
}

// New returns a pipeline using the given scale and lookup service.
func New(scale Scale, svc lookup.Service) (*Pipeline, error) {
	if err := scale.Validate(); err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, errors.New("thermo: nil lookup service")
	}
	return &Pipeline{scale: scale, lookup: svc, now: time.Now}, nil
}

// Scale returns the pipeline constants.
func (p *Pipeline) Scale() Scale { return p.scale }

// Process runs the cycle through the conversion chain. A lookup range error
// does not abort the chain: the saturated value is used, OverRange is set and
// the returned error carries fault.LookupRange.
func (p *Pipeline) Process(c *adc.Cycle) (Measurement, error) {
	if c == nil {
		return Measurement{}, errors.New("thermo: nil cycle")
	}

	m := Measurement{Timestamp: p.now()}
	m.ThermocoupleVolts = Average(c.Thermocouple) * p.scale.VoltsPerCode()
	m.RTDRatio = Average(c.RTD) / p.scale.FullScale
	m.RTDOhms = Resistance(m.RTDRatio, p.scale.SeriesResistance)

	var stage string
	check := func(name string, err error) {
		if err != nil && stage == "" {
			stage = name
		}
	}

	var err error
	m.RTDCelsius, err = p.lookup.ResistanceToTemperature(m.RTDOhms)
	check("rtd temperature", err)
	m.ColdJunctionVolts, err = p.lookup.TemperatureToColdJunctionVoltage(m.RTDCelsius)
	check("cold junction voltage", err)
	m.CompensatedVolts = m.ThermocoupleVolts + m.ColdJunctionVolts
	m.Celsius, err = p.lookup.VoltageToTemperature(m.CompensatedVolts)
	check("thermocouple temperature", err)

	if math32.IsNaN(m.Celsius) || math32.IsInf(m.Celsius, 0) {
		return m, &fault.E{C: fault.LookupRange, Op: "thermo", Msg: "non-finite temperature"}
	}
	if stage != "" {
		m.OverRange = true
		return m, &fault.E{C: fault.LookupRange, Op: "thermo", Msg: stage, Err: lookup.ErrOutOfRange}
	}
	return m, nil
}
