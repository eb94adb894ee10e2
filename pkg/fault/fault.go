// Package fault defines the stable fault codes shared by the measurement loop,
// the output stage and calibration storage.
package fault

import "errors"

// Code is a stable fault identifier. It is comparable and implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	// SensorOverRange is raised by the converter when either input overdrives the PGA.
	SensorOverRange Code = "sensor_over_range"
	// FrontendSelect means the analog front end could not be switched to the next channel.
	FrontendSelect Code = "frontend_select"
	// LookupRange means a conversion table input fell outside the table and was saturated.
	LookupRange Code = "lookup_range"
	// OutputTiming means the duty register could not be programmed for an output cycle.
	OutputTiming Code = "output_timing"

	StorageProtection Code = "storage_protection"
	StorageSignErase  Code = "storage_sign_erase"
	StorageAborted    Code = "storage_aborted"

	Timeout Code = "timeout"
	Aborted Code = "aborted"

	Error Code = "error"
)

// E wraps a cause with a code and the operation that failed.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}
