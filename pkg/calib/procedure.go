package calib

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/itohio/tcloop/pkg/fault"
	"github.com/itohio/tcloop/pkg/mathx"
)

const (
	// KeyMoreCurrent lowers the duty code by one.
	KeyMoreCurrent byte = '1'
	// KeyLessCurrent raises the duty code by one.
	KeyLessCurrent byte = '0'
	// KeyCalibrate asks a running instrument to enter the procedure.
	KeyCalibrate byte = 'c'

	DefaultTimeout = 10 * time.Minute
)

// Output is the duty register the procedure drives while the operator
// watches the loop current.
type Output interface {
	Store(code uint32)
}

// Procedure is the interactive two-point calibration. Phase one trims the
// 20 mA endpoint, phase two the 4 mA endpoint. Each key wait is bounded by
// Timeout and the whole run is cancelled with ctx.
type Procedure struct {
	Output   Output
	Keys     <-chan byte
	Defaults Record
	// Top is the largest code the register accepts.
	Top uint32
	// Timeout bounds the wait for each key. Zero means DefaultTimeout.
	Timeout time.Duration
	// Logf prints operator prompts. Nil means log.Printf.
	Logf func(format string, args ...any)
}

type phase struct {
	name  string
	start uint32
}

// Run executes both phases and returns the latched record. Nothing is
// persisted here; see Store.Save.
func (p *Procedure) Run(ctx context.Context) (Record, error) {
	if p.Output == nil || p.Keys == nil {
		return Record{}, &fault.E{C: fault.Error, Op: "calib", Msg: "procedure needs an output and a key source"}
	}
	def := p.Defaults
	if def == (Record{}) {
		def = DefaultRecord()
	}

	c20, err := p.phase(ctx, phase{name: "20mA", start: def.Code20mA})
	if err != nil {
		return Record{}, err
	}
	c4, err := p.phase(ctx, phase{name: "4mA", start: def.Code4mA})
	if err != nil {
		return Record{}, err
	}

	rec := Record{Code4mA: c4, Code20mA: c20}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	p.logf("PWM Calibration complete: 4mA=%d 20mA=%d", rec.Code4mA, rec.Code20mA)
	return rec, nil
}

func (p *Procedure) phase(ctx context.Context, ph phase) (uint32, error) {
	top := p.Top
	if top == 0 {
		top = 0xFFFF
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	code := mathx.Clamp(ph.start, 1, top)
	p.Output.Store(code)

	p.logf("PWM Calibration Routine - calibrate to %s", ph.name)
	p.logf("Press 1 to increase Output current - Press return when ready")
	p.logf("Press 0 to Decrease Output current - Press return when ready")
	p.logf("Press return when Complete - Press return when ready")

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, &fault.E{C: fault.Aborted, Op: "calib", Msg: ph.name, Err: ctx.Err()}
		case <-timer.C:
			return 0, &fault.E{C: fault.Timeout, Op: "calib", Msg: ph.name + ": no operator input"}
		case k, ok := <-p.Keys:
			if !ok {
				return 0, &fault.E{C: fault.Aborted, Op: "calib", Msg: ph.name, Err: io.EOF}
			}
			switch k {
			case KeyMoreCurrent:
				code = mathx.Step(code, -1, 1, top)
				p.Output.Store(code)
			case KeyLessCurrent:
				code = mathx.Step(code, 1, 1, top)
				p.Output.Store(code)
			case '\r', '\n':
				return code, nil
			}
			timer.Reset(timeout)
		}
	}
}

func (p *Procedure) logf(format string, args ...any) {
	if p.Logf != nil {
		p.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
