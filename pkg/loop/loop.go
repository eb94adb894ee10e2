// Package loop runs the measurement cycle: it takes completed batches from
// the sampler, converts them to a temperature, updates the output latch and
// hands the result to a reporter.
package loop

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/output"
	"github.com/itohio/tcloop/pkg/thermo"
)

// Flags summarize the fault state of one cycle.
type Flags uint8

const (
	FlagOverRange Flags = 1 << iota // a lookup saturated
	FlagSensor                      // converter reported an error
	FlagOutput                      // duty register programming failed
	FlagClamped                     // duty code was limited
	FlagHeld                        // output held, latch not updated
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Event is the result of one measurement cycle.
type Event struct {
	Seq         uint64
	Measurement thermo.Measurement
	Command     output.Command
	Record      calib.Record
	// Errors drained during this cycle, in pipeline, sensor, output order.
	Errors []error
	Flags  Flags
}

// Reporter receives every event. Failures are logged and never stop the loop.
type Reporter interface {
	Report(Event) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Event) error

func (f ReporterFunc) Report(e Event) error { return f(e) }

// Instrument owns the measurement chain.
type Instrument struct {
	sampler  *adc.Sampler
	pipeline *thermo.Pipeline
	ctrl     *output.Controller
	latch    *output.Latch
	reporter Reporter

	mu     sync.Mutex // serializes cycles with SetRecord
	seq    uint64
	latest Event
	have   bool
	held   bool
}

// New wires the chain. reporter may be nil.
func New(s *adc.Sampler, p *thermo.Pipeline, c *output.Controller, l *output.Latch, reporter Reporter) (*Instrument, error) {
	if s == nil || p == nil || c == nil || l == nil {
		return nil, errors.New("loop: sampler, pipeline, controller and latch are required")
	}
	return &Instrument{sampler: s, pipeline: p, ctrl: c, latch: l, reporter: reporter}, nil
}

// Step processes one completed cycle if one is ready.
func (in *Instrument) Step() (Event, bool) {
	cycle, ok := in.sampler.Take()
	if !ok {
		return Event{}, false
	}

	in.mu.Lock()
	m, perr := in.pipeline.Process(cycle)
	in.sampler.Release()

	cmd := in.ctrl.Command(m.Celsius)
	if !in.held {
		in.latch.Store(cmd.Code)
	}

	in.seq++
	ev := Event{
		Seq:         in.seq,
		Measurement: m,
		Command:     cmd,
		Record:      in.ctrl.Record(),
	}
	if perr != nil {
		ev.Errors = append(ev.Errors, perr)
	}
	if m.OverRange {
		ev.Flags |= FlagOverRange
	}
	if se, ok := in.sampler.TakeError(); ok {
		ev.Errors = append(ev.Errors, se)
		ev.Flags |= FlagSensor
	}
	if err := in.latch.TakeError(); err != nil {
		ev.Errors = append(ev.Errors, err)
		ev.Flags |= FlagOutput
	}
	if cmd.Clamped {
		ev.Flags |= FlagClamped
	}
	if in.held {
		ev.Flags |= FlagHeld
	}
	in.latest, in.have = ev, true
	in.mu.Unlock()

	if in.reporter != nil {
		if err := in.reporter.Report(ev); err != nil {
			log.Printf("loop: report #%d failed: %v", ev.Seq, err)
		}
	}
	return ev, true
}

// Run processes cycles until ctx is done.
func (in *Instrument) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-in.sampler.Ready():
			in.Step()
		}
	}
}

// Latest returns the most recent event.
func (in *Instrument) Latest() (Event, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.latest, in.have
}

// Record returns the active calibration.
func (in *Instrument) Record() calib.Record {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ctrl.Record()
}

// SetRecord replaces the calibration between cycles.
func (in *Instrument) SetRecord(rec calib.Record) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.ctrl.SetRecord(rec)
}

// Hold stops cycles from touching the output latch while on, leaving it to
// another writer such as the calibration procedure. Measurements continue.
func (in *Instrument) Hold(on bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.held = on
}

// Held reports whether the output is held.
func (in *Instrument) Held() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.held
}

// Controller returns the output controller.
func (in *Instrument) Controller() *output.Controller { return in.ctrl }

// Sampler returns the sampler.
func (in *Instrument) Sampler() *adc.Sampler { return in.sampler }
