package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/config"
	"github.com/itohio/tcloop/pkg/lookup"
	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/output"
	"github.com/itohio/tcloop/pkg/thermo"
)

// FromConfig converts the simulation section of a configuration.
func FromConfig(c *config.Config) Config {
	return Config{
		ProcessCelsius:  float32(c.Sim.ProcessCelsius),
		AmbientCelsius:  float32(c.Sim.AmbientCelsius),
		RampCelsiusPerS: float32(c.Sim.RampCelsiusPerS),
		NoiseMicroV:     float32(c.Sim.NoiseMicroV),
		ConversionRate:  c.Sim.ConversionRate,
		DisconnectAfter: c.Sim.DisconnectAfter,
		R0:              float32(c.RTD.R0),
	}
}

// Rig is a complete instrument wired to simulated hardware.
type Rig struct {
	Converter  *Converter
	PWM        *PWM
	Latch      *output.Latch
	Instrument *loop.Instrument

	period time.Duration
}

// NewRig assembles the instrument described by cfg around simulated
// hardware, starting from rec.
func NewRig(cfg *config.Config, rec calib.Record, reporter loop.Reporter) (*Rig, error) {
	scale := cfg.ThermoScale()
	conv := NewConverter(FromConfig(cfg), scale)

	sampler, err := adc.New(conv, cfg.Sampler.BatchSize, adc.WithSettle(cfg.Sampler.Settle))
	if err != nil {
		return nil, err
	}
	pipeline, err := thermo.New(scale, lookup.Default(float32(cfg.RTD.R0)))
	if err != nil {
		return nil, err
	}
	ctrl, err := output.NewController(cfg.Span(), rec,
		output.WithTop(cfg.Output.Top),
		output.WithClampToSpan(cfg.Output.ClampToSpan))
	if err != nil {
		return nil, err
	}

	pwm := NewPWM(cfg.Output.Top)
	latch, err := output.NewLatch(pwm, rec.Code4mA)
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	in, err := loop.New(sampler, pipeline, ctrl, latch, reporter)
	if err != nil {
		return nil, err
	}

	return &Rig{
		Converter:  conv,
		PWM:        pwm,
		Latch:      latch,
		Instrument: in,
		period:     cfg.OutputPeriod(),
	}, nil
}

// Run drives conversions, output cycles and the measurement loop until ctx
// is done.
func (r *Rig) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Converter.Run(ctx, r.Instrument.Sampler())
	}()
	go func() {
		defer wg.Done()
		RunCycles(ctx, r.Latch, r.period)
	}()

	err := r.Instrument.Run(ctx)
	wg.Wait()
	return err
}

// ErrNotSaved marks a calibration that is active but was not persisted.
var ErrNotSaved = errors.New("sim: calibration not saved")

// Calibrate holds the output, runs proc against the latch and activates the
// result. A nil store skips persisting. The record is active even when the
// save fails; that error is returned.
func (r *Rig) Calibrate(ctx context.Context, proc *calib.Procedure, store *calib.Store) (calib.Record, error) {
	r.Instrument.Hold(true)
	defer r.Instrument.Hold(false)

	proc.Output = r.Latch
	rec, err := proc.Run(ctx)
	if err != nil {
		return r.Instrument.Record(), err
	}
	if err := r.Instrument.SetRecord(rec); err != nil {
		return r.Instrument.Record(), err
	}
	if store == nil {
		return rec, nil
	}
	if err := store.Save(ctx, rec); err != nil {
		return rec, fmt.Errorf("%w: %w", ErrNotSaved, err)
	}
	return rec, nil
}
