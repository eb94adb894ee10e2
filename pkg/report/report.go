// Package report delivers measurement events to people and other systems.
// Every sink implements loop.Reporter; the loop never depends on delivery.
package report

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/chewxy/math32"
	"periph.io/x/conn/v3/physic"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/fault"
	"github.com/itohio/tcloop/pkg/loop"
)

// Multi fans an event out to every reporter and joins their errors.
type Multi []loop.Reporter

// Report implements loop.Reporter.
func (m Multi) Report(e loop.Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Celsius converts a temperature to physic units.
func Celsius(c float32) physic.Temperature {
	return physic.Temperature(math32.Round(c*1000))*physic.MilliCelsius + physic.ZeroCelsius
}

// Volts converts a voltage to physic units.
func Volts(v float32) physic.ElectricPotential {
	return physic.ElectricPotential(math32.Round(v*1e6)) * physic.MicroVolt
}

// Ohms converts a resistance to physic units.
func Ohms(r float32) physic.ElectricResistance {
	return physic.ElectricResistance(math32.Round(r*1000)) * physic.MilliOhm
}

// Milliamps converts a loop current to physic units.
func Milliamps(ma float32) physic.ElectricCurrent {
	return physic.ElectricCurrent(math32.Round(ma*1000)) * physic.MicroAmpere
}

// Text writes the human readable dump of each cycle.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

// NewText returns a text reporter writing to w.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

// Report implements loop.Reporter.
func (t *Text) Report(e loop.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := e.Measurement
	for _, err := range e.Errors {
		if _, werr := fmt.Fprintf(t.w, "%s\r\n", ErrorLine(err)); werr != nil {
			return werr
		}
	}
	_, err := fmt.Fprintf(t.w,
		"RTD Resistance: %s\r\n"+
			"RTD Temperature: %s\r\n"+
			"Cold Junction Voltage: %s\r\n"+
			"Thermocouple Voltage: %s\r\n"+
			"Final Temperature: %s\r\n"+
			"Output: %s (duty %d)\r\n",
		Ohms(m.RTDOhms),
		Celsius(m.RTDCelsius),
		Volts(m.ColdJunctionVolts),
		Volts(m.ThermocoupleVolts),
		Celsius(m.Celsius),
		Milliamps(e.Command.Milliamps), e.Command.Code,
	)
	return err
}

// ErrorLine renders a cycle error for operators.
func ErrorLine(err error) string {
	var se adc.SensorError
	if errors.As(err, &se) && se.Code == fault.SensorOverRange {
		return fmt.Sprintf("ADC Overvoltage error on %s PGA", se.Channel)
	}
	switch fault.Of(err) {
	case fault.LookupRange:
		return fmt.Sprintf("Temperature out of range: %v", err)
	case fault.OutputTiming:
		return fmt.Sprintf("Output update failed: %v", err)
	}
	return fmt.Sprintf("Error: %v", err)
}

// Log writes a one-line summary of each cycle through the standard logger.
type Log struct {
	Every uint64 // log every Nth event, 0 or 1 for all
}

// Report implements loop.Reporter.
func (l Log) Report(e loop.Event) error {
	if l.Every > 1 && e.Seq%l.Every != 0 && len(e.Errors) == 0 {
		return nil
	}
	log.Printf("#%d %s cj=%s out=%s duty=%d flags=%04b",
		e.Seq, Celsius(e.Measurement.Celsius), Celsius(e.Measurement.RTDCelsius),
		Milliamps(e.Command.Milliamps), e.Command.Code, e.Flags)
	for _, err := range e.Errors {
		log.Printf("#%d %s", e.Seq, ErrorLine(err))
	}
	return nil
}
