// Package adc time-shares one converter between the thermocouple and RTD
// inputs and hands completed batch pairs to the measurement loop.
package adc

import (
	"fmt"
	"sync/atomic"

	"github.com/itohio/tcloop/pkg/fault"
)

const (
	// DefaultBatchSize is the number of conversions averaged per channel.
	DefaultBatchSize = 8
	// MaxBatchSize bounds the batch buffers.
	MaxBatchSize = 64
)

// Channel identifies the input the converter is digitizing.
type Channel uint8

const (
	Thermocouple Channel = iota
	RTD
)

// Other returns the channel the sampler switches to after a full batch.
func (c Channel) Other() Channel {
	if c == Thermocouple {
		return RTD
	}
	return Thermocouple
}

func (c Channel) String() string {
	switch c {
	case Thermocouple:
		return "thermocouple"
	case RTD:
		return "rtd"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Status is the converter status word latched with each conversion.
type Status uint32

const (
	// StatusError flags a PGA over-range on the active input.
	StatusError Status = 0x10
)

// Frontend switches the analog mux and reference for a channel.
type Frontend interface {
	Select(ch Channel) error
}

// Cycle is one full batch of each channel. It is only valid between
// Sampler.Take and Sampler.Release.
type Cycle struct {
	Thermocouple []int32
	RTD          []int32
}

// SensorError is a converter fault recorded by the conversion handler.
type SensorError struct {
	Channel Channel
	Code    fault.Code
}

func (e SensorError) Error() string {
	return fmt.Sprintf("adc: %s on %s input", e.Code, e.Channel)
}

func (e SensorError) Unwrap() error { return e.Code }

// Stats are monotonically increasing counters kept by the handler.
type Stats struct {
	Accepted  uint64
	Discarded uint64
	Errors    uint64
	Cycles    uint64
}

// Sampler is the converter-ready state machine. OnConversion is the only
// producer; Take/Release are the only consumer operations. Every field is
// written by exactly one side.
type Sampler struct {
	fe     Frontend
	size   int
	settle int

	// handler-owned
	fill    int
	skip    int
	tcBuf   []int32
	rtdBuf  []int32
	channel atomic.Uint32

	// hand-off token: set by handler, cleared by consumer
	ready   atomic.Bool
	readyCh chan struct{}
	cycle   Cycle

	// read-once fault latch: 0 = none, else code index+1 | channel<<8
	fault atomic.Uint32

	accepted  atomic.Uint64
	discarded atomic.Uint64
	errors    atomic.Uint64
	cycles    atomic.Uint64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithSettle discards n conversions after every channel switch while the
// converter filter settles.
func WithSettle(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.settle = n
		}
	}
}

// New returns a sampler that starts on the thermocouple channel. The front
// end is switched to the thermocouple input immediately.
func New(fe Frontend, size int, opts ...Option) (*Sampler, error) {
	if fe == nil {
		return nil, fmt.Errorf("adc: nil frontend")
	}
	if size <= 0 {
		size = DefaultBatchSize
	}
	if size > MaxBatchSize {
		return nil, fmt.Errorf("adc: batch size %d exceeds %d", size, MaxBatchSize)
	}

	s := &Sampler{
		fe:      fe,
		size:    size,
		tcBuf:   make([]int32, size),
		rtdBuf:  make([]int32, size),
		readyCh: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.cycle = Cycle{Thermocouple: s.tcBuf, RTD: s.rtdBuf}

	if err := fe.Select(Thermocouple); err != nil {
		return nil, fmt.Errorf("adc: select %s: %w", Thermocouple, err)
	}
	return s, nil
}

// BatchSize returns N.
func (s *Sampler) BatchSize() int { return s.size }

// Active returns the channel currently being digitized.
func (s *Sampler) Active() Channel { return Channel(s.channel.Load()) }

// OnConversion is the converter-ready handler. It never blocks.
func (s *Sampler) OnConversion(code int32, status Status) {
	ch := Channel(s.channel.Load())
	if status&StatusError != 0 {
		s.recordFault(ch, fault.SensorOverRange)
	}

	if s.ready.Load() {
		// Consumer still holds the previous cycle.
		s.discarded.Add(1)
		return
	}
	if s.skip > 0 {
		s.skip--
		s.discarded.Add(1)
		return
	}

	if ch == Thermocouple {
		s.tcBuf[s.fill] = code
	} else {
		s.rtdBuf[s.fill] = code
	}
	s.fill++
	s.accepted.Add(1)

	if s.fill < s.size {
		return
	}

	s.fill = 0
	next := ch.Other()
	if err := s.fe.Select(next); err != nil {
		s.recordFault(next, fault.FrontendSelect)
	}
	s.channel.Store(uint32(next))
	s.skip = s.settle

	if ch == RTD {
		s.cycles.Add(1)
		s.ready.Store(true)
		select {
		case s.readyCh <- struct{}{}:
		default:
		}
	}
}

// Ready delivers an edge whenever a cycle becomes available. Always confirm
// with Take.
func (s *Sampler) Ready() <-chan struct{} { return s.readyCh }

// Take returns the completed cycle if one is waiting. The batches must not
// be retained after Release.
func (s *Sampler) Take() (*Cycle, bool) {
	if !s.ready.Load() {
		return nil, false
	}
	return &s.cycle, true
}

// Release hands the buffers back to the handler.
func (s *Sampler) Release() {
	s.ready.Store(false)
}

// TakeError returns and clears the latched converter fault.
func (s *Sampler) TakeError() (SensorError, bool) {
	v := s.fault.Swap(0)
	if v == 0 {
		return SensorError{}, false
	}
	return SensorError{Channel: Channel(v >> 8), Code: faultCodes[(v&0xff)-1]}, true
}

// Stats returns a snapshot of the handler counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		Accepted:  s.accepted.Load(),
		Discarded: s.discarded.Load(),
		Errors:    s.errors.Load(),
		Cycles:    s.cycles.Load(),
	}
}

var faultCodes = [...]fault.Code{fault.SensorOverRange, fault.FrontendSelect}

func (s *Sampler) recordFault(ch Channel, c fault.Code) {
	idx := uint32(1)
	if c == fault.FrontendSelect {
		idx = 2
	}
	s.errors.Add(1)
	s.fault.Store(uint32(ch)<<8 | idx)
}
