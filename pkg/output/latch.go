package output

import (
	"errors"
	"sync/atomic"

	"github.com/itohio/tcloop/pkg/fault"
)

// Register is the hardware duty register.
type Register interface {
	Program(code uint32) error
}

// Latch double-buffers the duty code. Store is called by the measurement
// loop; OnCycle is called at each PWM period boundary and moves the pending
// code into the register, so a period never sees a partial update.
type Latch struct {
	reg     Register
	pending atomic.Uint32
	dirty   atomic.Bool
	active  atomic.Uint32
	err     atomic.Pointer[fault.E]
	updates atomic.Uint64
}

// NewLatch programs initial into reg immediately.
func NewLatch(reg Register, initial uint32) (*Latch, error) {
	if reg == nil {
		return nil, errors.New("output: nil register")
	}
	if err := reg.Program(initial); err != nil {
		return nil, &fault.E{C: fault.OutputTiming, Op: "output", Msg: "initial program", Err: err}
	}
	l := &Latch{reg: reg}
	l.pending.Store(initial)
	l.active.Store(initial)
	return l, nil
}

// Store sets the code for the next period. A newer Store before the boundary
// replaces the previous one.
func (l *Latch) Store(code uint32) {
	l.pending.Store(code)
	l.dirty.Store(true)
}

// OnCycle runs at the period boundary.
func (l *Latch) OnCycle() {
	if !l.dirty.Swap(false) {
		return
	}
	code := l.pending.Load()
	if err := l.reg.Program(code); err != nil {
		l.err.Store(&fault.E{C: fault.OutputTiming, Op: "output", Msg: "program duty", Err: err})
		return
	}
	l.active.Store(code)
	l.updates.Add(1)
}

// Active returns the code currently in the register.
func (l *Latch) Active() uint32 { return l.active.Load() }

// Pending returns the last stored code and whether it is still waiting for a
// period boundary.
func (l *Latch) Pending() (uint32, bool) {
	return l.pending.Load(), l.dirty.Load()
}

// Updates returns the number of codes moved into the register.
func (l *Latch) Updates() uint64 { return l.updates.Load() }

// TakeError returns and clears the last register failure.
func (l *Latch) TakeError() error {
	if e := l.err.Swap(nil); e != nil {
		return e
	}
	return nil
}
