// Package trend keeps the host-side history of a transmitter: converted
// samples over a time window, their rate of change and fault excursions.
package trend

import (
	"log"
	"time"

	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/output"
	"github.com/itohio/tcloop/pkg/wire"
)

// Sample is one received measurement in engineering units.
type Sample struct {
	Timestamp time.Time
	Celsius   float64 // final temperature
	RTDOhms   float64 // cold junction sensor
	Milliamps float64 // loop current requested for Celsius
	Duty      uint32
	Flags     loop.Flags
}

// Faulted reports whether the cycle carried any fault flag.
func (s Sample) Faulted() bool {
	return s.Flags&(loop.FlagOverRange|loop.FlagSensor|loop.FlagOutput) != 0
}

// Converter turns a frame stream into a sample stream.
type Converter func(in <-chan wire.Frame) <-chan Sample

// NewConverter creates a converter using span to derive the loop current.
func NewConverter(span output.Span, bufSize int) Converter {
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan wire.Frame) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			for f := range in {
				select {
				case out <- convert(f, span):
				case <-time.After(time.Second):
					log.Printf("Converter output channel full, dropping sample")
				}
			}
		}()

		return out
	}
}

func convert(f wire.Frame, span output.Span) Sample {
	c := f.Celsius()
	return Sample{
		Timestamp: f.Timestamp,
		Celsius:   float64(c),
		RTDOhms:   float64(f.Ohms()),
		Milliamps: float64(span.Current(c)),
		Duty:      f.Duty,
		Flags:     f.Flags,
	}
}

// NewAveragingConverter converts frames and emits the moving average of the
// last windowSize samples for every input.
func NewAveragingConverter(span output.Span, windowSize int, bufSize int) Converter {
	if windowSize <= 0 {
		windowSize = 1
	}
	if bufSize <= 0 {
		bufSize = 100
	}

	return func(in <-chan wire.Frame) <-chan Sample {
		out := make(chan Sample, bufSize)

		go func() {
			defer close(out)

			buffer := make([]Sample, 0, windowSize+1)
			for f := range in {
				buffer = append(buffer, convert(f, span))
				if len(buffer) > windowSize {
					buffer = buffer[1:]
				}
				select {
				case out <- Average(buffer):
				case <-time.After(time.Second):
					log.Printf("Averaging converter output channel full")
				}
			}
		}()

		return out
	}
}

// Average averages the analog values of samples. Timestamp, duty and flags
// are those of the newest sample, and any fault in the window is kept.
func Average(samples []Sample) Sample {
	if len(samples) == 0 {
		return Sample{}
	}

	last := samples[len(samples)-1]
	var sumC, sumR, sumI float64
	var flags loop.Flags
	for _, s := range samples {
		sumC += s.Celsius
		sumR += s.RTDOhms
		sumI += s.Milliamps
		flags |= s.Flags
	}

	n := float64(len(samples))
	return Sample{
		Timestamp: last.Timestamp,
		Celsius:   sumC / n,
		RTDOhms:   sumR / n,
		Milliamps: sumI / n,
		Duty:      last.Duty,
		Flags:     last.Flags | flags&(loop.FlagOverRange|loop.FlagSensor|loop.FlagOutput),
	}
}
