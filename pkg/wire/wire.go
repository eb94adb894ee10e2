// Package wire is the line protocol between the firmware and the host.
//
// Each measurement is one line:
//
//	unix_micros,tc_uV,rtd_mohm,temp_mC,duty,flags
//	1700000000000000,4277,1097350,25012,1674,0
//
// Any other line (prompts, the text report) is free-form text.
package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/tcloop/pkg/loop"
)

const fields = 6

// ErrNotFrame marks a line that is plain text rather than a measurement.
var ErrNotFrame = errors.New("wire: not a measurement line")

// Frame is one transmitted measurement in fixed-point units.
type Frame struct {
	Timestamp    time.Time
	MicroVolts   int32 // thermocouple channel
	MilliOhms    int32 // RTD resistance
	MilliCelsius int32 // final temperature
	Duty         uint32
	Flags        loop.Flags
}

// FromEvent converts a loop event.
func FromEvent(e loop.Event) Frame {
	m := e.Measurement
	return Frame{
		Timestamp:    m.Timestamp,
		MicroVolts:   fixed(m.ThermocoupleVolts, 1e6),
		MilliOhms:    fixed(m.RTDOhms, 1e3),
		MilliCelsius: fixed(m.Celsius, 1e3),
		Duty:         e.Command.Code,
		Flags:        e.Flags,
	}
}

func fixed(v, scale float32) int32 {
	return int32(math32.Round(v * scale))
}

// Celsius returns the final temperature.
func (f Frame) Celsius() float32 { return float32(f.MilliCelsius) / 1e3 }

// Ohms returns the RTD resistance.
func (f Frame) Ohms() float32 { return float32(f.MilliOhms) / 1e3 }

// Volts returns the thermocouple voltage.
func (f Frame) Volts() float32 { return float32(f.MicroVolts) / 1e6 }

// Append encodes f with a trailing newline. It does not allocate beyond dst
// growth, so it is usable from the firmware.
func Append(dst []byte, f Frame) []byte {
	dst = strconv.AppendInt(dst, f.Timestamp.UnixMicro(), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(f.MicroVolts), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(f.MilliOhms), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(f.MilliCelsius), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(f.Duty), 10)
	dst = append(dst, ',')
	dst = strconv.AppendUint(dst, uint64(f.Flags), 10)
	return append(dst, '\n')
}

// ParseLine parses a measurement line. Lines that do not start with a digit
// return ErrNotFrame.
func ParseLine(line string) (Frame, error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] < '0' || line[0] > '9' {
		return Frame{}, ErrNotFrame
	}

	parts := strings.Split(line, ",")
	if len(parts) != fields {
		return Frame{}, fmt.Errorf("invalid line format: expected %d comma-separated values, got %d", fields, len(parts))
	}

	// Parse timestamp (unix microseconds)
	micros, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid timestamp: %w", err)
	}

	var f Frame
	f.Timestamp = time.UnixMicro(micros)

	for i, dst := range []*int32{&f.MicroVolts, &f.MilliOhms, &f.MilliCelsius} {
		v, err := strconv.ParseInt(parts[i+1], 10, 32)
		if err != nil {
			return Frame{}, fmt.Errorf("invalid field %d: %w", i+1, err)
		}
		*dst = int32(v)
	}

	duty, err := strconv.ParseUint(parts[4], 10, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid duty: %w", err)
	}
	f.Duty = uint32(duty)

	flags, err := strconv.ParseUint(parts[5], 10, 8)
	if err != nil {
		return Frame{}, fmt.Errorf("invalid flags: %w", err)
	}
	f.Flags = loop.Flags(flags)

	return f, nil
}

// Reporter writes frames to w.
type Reporter struct {
	w   interface{ Write([]byte) (int, error) }
	buf []byte
}

// NewReporter returns a loop reporter that emits one line per event.
func NewReporter(w interface{ Write([]byte) (int, error) }) *Reporter {
	return &Reporter{w: w, buf: make([]byte, 0, 64)}
}

// Report implements loop.Reporter.
func (r *Reporter) Report(e loop.Event) error {
	r.buf = Append(r.buf[:0], FromEvent(e))
	_, err := r.w.Write(r.buf)
	return err
}
