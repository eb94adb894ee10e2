package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/itohio/tcloop/pkg/output"
)

// ErrStalled is returned by PWM.Program after Stall.
var ErrStalled = errors.New("sim: pwm counter stalled")

// PWM is a simulated duty register. It implements output.Register.
type PWM struct {
	mu      sync.Mutex
	top     uint32
	duty    uint32
	writes  uint64
	stalled bool
}

var _ output.Register = (*PWM)(nil)

// NewPWM returns a register counting to top.
func NewPWM(top uint32) *PWM {
	return &PWM{top: top}
}

// Program implements output.Register.
func (p *PWM) Program(code uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stalled {
		return ErrStalled
	}
	if code > p.top {
		code = p.top
	}
	p.duty = code
	p.writes++
	return nil
}

// Stall makes every further Program fail until cleared.
func (p *PWM) Stall(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stalled = on
}

// Duty returns the programmed duty code.
func (p *PWM) Duty() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duty
}

// Writes returns the number of successful Program calls.
func (p *PWM) Writes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// RunCycles calls l.OnCycle at every counter wrap until ctx is done.
func RunCycles(ctx context.Context, l *output.Latch, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.OnCycle()
		}
	}
}
