// Package nvm models the flash controller used to persist calibration.
// Commands are accepted synchronously and complete asynchronously: the
// outcome is delivered on Done, mirroring the controller's completion
// interrupt.
package nvm

import (
	"fmt"

	"github.com/itohio/tcloop/pkg/fault"
)

// Outcome is the status reported when a flash command completes.
type Outcome uint8

const (
	Success Outcome = iota
	ProtectionError
	SignOrEraseError
	CommandAborted
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case ProtectionError:
		return "protection error"
	case SignOrEraseError:
		return "sign or erase error"
	case CommandAborted:
		return "command aborted"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Code maps the outcome to a fault code.
func (o Outcome) Code() fault.Code {
	switch o {
	case Success:
		return fault.OK
	case ProtectionError:
		return fault.StorageProtection
	case SignOrEraseError:
		return fault.StorageSignErase
	case CommandAborted:
		return fault.StorageAborted
	default:
		return fault.Error
	}
}

// Result is a command completion. Address is the abort address for
// CommandAborted and the command address otherwise.
type Result struct {
	Outcome Outcome
	Address uint32
}

// Err returns nil for Success.
func (r Result) Err() error {
	if r.Outcome == Success {
		return nil
	}
	return &fault.E{C: r.Outcome.Code(), Op: "nvm", Msg: fmt.Sprintf("%v at 0x%05x", r.Outcome, r.Address)}
}

// Flash is the storage collaborator.
type Flash interface {
	// ErasePage starts erasing the page holding addr.
	ErasePage(addr uint32) error
	// Write starts programming buf at addr.
	Write(buf []byte, addr uint32) error
	// ReadAt reads committed data.
	ReadAt(buf []byte, addr uint32) (int, error)
	// Done delivers one Result per accepted command.
	Done() <-chan Result
}
