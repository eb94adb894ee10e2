//go:build rp2040

package main

import (
	"errors"
	"machine"

	"github.com/itohio/tcloop/pkg/nvm"
)

// flashStore maps the calibration address window onto the on-chip flash
// data region. machine.Flash commands are synchronous, so each outcome is
// posted on done before the call returns.
type flashStore struct {
	base uint32
	done chan nvm.Result
}

var _ nvm.Flash = (*flashStore)(nil)

var errOutOfRange = errors.New("flash: address outside the data region")

func newFlashStore(base uint32) *flashStore {
	return &flashStore{
		base: base,
		done: make(chan nvm.Result, 4),
	}
}

func (f *flashStore) offset(addr uint32) (int64, bool) {
	if addr < f.base {
		return 0, false
	}
	off := int64(addr - f.base)
	return off, off < machine.Flash.Size()
}

// ErasePage implements nvm.Flash.
func (f *flashStore) ErasePage(addr uint32) error {
	off, ok := f.offset(addr)
	if !ok {
		f.post(nvm.ProtectionError, addr)
		return nil
	}
	block := off / machine.Flash.EraseBlockSize()
	if err := machine.Flash.EraseBlocks(block, 1); err != nil {
		f.post(nvm.SignOrEraseError, addr)
		return nil
	}
	f.post(nvm.Success, addr)
	return nil
}

// Write implements nvm.Flash.
func (f *flashStore) Write(buf []byte, addr uint32) error {
	off, ok := f.offset(addr)
	if !ok {
		f.post(nvm.ProtectionError, addr)
		return nil
	}
	if n, err := machine.Flash.WriteAt(buf, off); err != nil {
		f.post(nvm.CommandAborted, addr+uint32(n))
		return nil
	}
	f.post(nvm.Success, addr)
	return nil
}

// ReadAt implements nvm.Flash.
func (f *flashStore) ReadAt(buf []byte, addr uint32) (int, error) {
	off, ok := f.offset(addr)
	if !ok {
		return 0, errOutOfRange
	}
	return machine.Flash.ReadAt(buf, off)
}

// Done implements nvm.Flash.
func (f *flashStore) Done() <-chan nvm.Result { return f.done }

func (f *flashStore) post(o nvm.Outcome, addr uint32) {
	select {
	case f.done <- nvm.Result{Outcome: o, Address: addr}:
	default:
	}
}
