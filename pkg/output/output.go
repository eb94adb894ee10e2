// Package output maps the final temperature onto the 4-20 mA loop through
// the calibrated PWM duty code.
package output

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/mathx"
)

// DefaultTop is the maximum duty code of the output timer.
const DefaultTop uint32 = 0x3FFF

// Span is the rated temperature range and its current mapping.
type Span struct {
	LowCelsius    float32
	HighCelsius   float32
	LowMilliamps  float32
	HighMilliamps float32
}

// DefaultSpan maps -200..350 °C onto 4..20 mA.
func DefaultSpan() Span {
	return Span{LowCelsius: -200, HighCelsius: 350, LowMilliamps: 4, HighMilliamps: 20}
}

// Validate reports whether the span is usable.
func (s Span) Validate() error {
	for _, v := range []float32{s.LowCelsius, s.HighCelsius, s.LowMilliamps, s.HighMilliamps} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return fmt.Errorf("output: span must be finite: %+v", s)
		}
	}
	if s.HighCelsius <= s.LowCelsius {
		return fmt.Errorf("output: empty temperature span %v..%v", s.LowCelsius, s.HighCelsius)
	}
	if s.HighMilliamps <= s.LowMilliamps || s.LowMilliamps < 0 {
		return fmt.Errorf("output: invalid current span %v..%v mA", s.LowMilliamps, s.HighMilliamps)
	}
	return nil
}

// Current returns the loop current for a temperature. It extrapolates
// outside the span.
func (s Span) Current(celsius float32) float32 {
	perDegree := (s.HighMilliamps - s.LowMilliamps) / (s.HighCelsius - s.LowCelsius)
	return (celsius-s.LowCelsius)*perDegree + s.LowMilliamps
}

// Command is the duty code for one output update.
type Command struct {
	Milliamps float32
	Code      uint32
	// Clamped is set when the code was limited by the span or the register.
	Clamped bool
}

// Compute maps a temperature to a duty code for the given calibration.
// The code is limited to [0, top] only; temperatures outside the span
// extrapolate past the calibrated endpoints.
func Compute(span Span, celsius float32, rec calib.Record, top uint32) Command {
	ma := span.Current(celsius)
	code, clamped := duty(span, ma, rec, top)
	return Command{Milliamps: ma, Code: code, Clamped: clamped}
}

func duty(span Span, ma float32, rec calib.Record, top uint32) (uint32, bool) {
	step := stepSize(span, rec)
	v := float32(rec.Code20mA) + (span.HighMilliamps-ma)*step
	v = math32.Round(v)
	if math32.IsNaN(v) {
		return 0, true
	}
	c := mathx.Clamp(v, 0, float32(top))
	return uint32(c), c != v
}

// stepSize is duty codes per mA.
func stepSize(span Span, rec calib.Record) float32 {
	return (float32(rec.Code4mA) - float32(rec.Code20mA)) / (span.HighMilliamps - span.LowMilliamps)
}

// Controller owns the active calibration record at run time.
type Controller struct {
	span  Span
	rec   calib.Record
	top   uint32
	clamp bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithTop sets the register maximum.
func WithTop(top uint32) Option {
	return func(c *Controller) {
		if top > 0 {
			c.top = top
		}
	}
}

// WithClampToSpan limits codes to the calibrated endpoints so that
// out-of-span temperatures hold 4 or 20 mA.
func WithClampToSpan(on bool) Option {
	return func(c *Controller) { c.clamp = on }
}

// NewController validates span and rec.
func NewController(span Span, rec calib.Record, opts ...Option) (*Controller, error) {
	if err := span.Validate(); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{span: span, rec: rec, top: DefaultTop}
	for _, o := range opts {
		o(c)
	}
	if rec.Code4mA > c.top {
		return nil, fmt.Errorf("output: 4 mA code %d exceeds register top %d", rec.Code4mA, c.top)
	}
	return c, nil
}

// Span returns the rated span.
func (c *Controller) Span() Span { return c.span }

// Record returns the active calibration.
func (c *Controller) Record() calib.Record { return c.rec }

// Top returns the register maximum.
func (c *Controller) Top() uint32 { return c.top }

// Step returns duty codes per mA for the active record.
func (c *Controller) Step() float32 { return stepSize(c.span, c.rec) }

// SetRecord replaces the calibration. Call only between measurement cycles.
func (c *Controller) SetRecord(rec calib.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Code4mA > c.top {
		return fmt.Errorf("output: 4 mA code %d exceeds register top %d", rec.Code4mA, c.top)
	}
	c.rec = rec
	return nil
}

// Current returns the target loop current for a temperature.
func (c *Controller) Current(celsius float32) float32 {
	return c.span.Current(celsius)
}

// Code returns the duty code for a loop current.
func (c *Controller) Code(milliamps float32) uint32 {
	code, _ := duty(c.span, milliamps, c.rec, c.top)
	return code
}

// Command computes the output for a temperature.
func (c *Controller) Command(celsius float32) Command {
	cmd := Compute(c.span, celsius, c.rec, c.top)
	if c.clamp {
		code := mathx.Clamp(cmd.Code, c.rec.Code20mA, c.rec.Code4mA)
		cmd.Clamped = cmd.Clamped || code != cmd.Code
		cmd.Code = code
	}
	return cmd
}

// Milliamps converts a duty code back to the loop current it produces.
func (c *Controller) Milliamps(code uint32) float32 {
	return c.span.HighMilliamps - (float32(code)-float32(c.rec.Code20mA))/c.Step()
}
