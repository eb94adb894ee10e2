//go:build rp2040

package main

import (
	"machine"
	"time"

	"github.com/itohio/tcloop/pkg/output"
)

// pwmCtrl is the slice controller; machine's concrete type is unexported.
type pwmCtrl interface {
	Configure(cfg machine.PWMConfig) error
	Channel(pin machine.Pin) (uint8, error)
	Top() uint32
	Set(channel uint8, value uint32)
}

// loopPWM programs the loop driver. Codes span 0..top and are rescaled to
// the slice's own counter top.
type loopPWM struct {
	pwm pwmCtrl
	ch  uint8
	top uint32
}

var _ output.Register = (*loopPWM)(nil)

func newLoopPWM(pwm pwmCtrl, pin machine.Pin, frequencyHz, top uint32) (*loopPWM, error) {
	if err := pwm.Configure(machine.PWMConfig{Period: uint64(time.Second) / uint64(frequencyHz)}); err != nil {
		return nil, err
	}
	ch, err := pwm.Channel(pin)
	if err != nil {
		return nil, err
	}
	return &loopPWM{pwm: pwm, ch: ch, top: top}, nil
}

// Program implements output.Register.
func (p *loopPWM) Program(code uint32) error {
	if code > p.top {
		code = p.top
	}
	p.pwm.Set(p.ch, uint32(uint64(code)*uint64(p.pwm.Top())/uint64(p.top)))
	return nil
}

// runCycles moves the pending code into the register once per period.
func runCycles(l *output.Latch, period time.Duration) {
	t := time.NewTicker(period)
	for range t.C {
		l.OnCycle()
	}
}
