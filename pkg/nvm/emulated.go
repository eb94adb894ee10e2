package nvm

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
)

const (
	DefaultBase     uint32 = 0x1F000
	DefaultPageSize        = 2048
	DefaultPages           = 2
)

var (
	ErrBounds    = errors.New("nvm: address out of range")
	ErrAlignment = errors.New("nvm: write must be word aligned")
)

type span struct{ from, to uint32 }

// Emulated is a NOR flash emulator. Erased bytes read 0xFF and programming
// can only clear bits. When backed by a file, committed contents survive
// process restarts.
type Emulated struct {
	mu       sync.Mutex
	base     uint32
	pageSize int
	data     []byte
	path     string
	protect  []span
	failNext *Outcome
	done     chan Result
}

// Option configures an Emulated flash.
type Option func(*Emulated)

// WithGeometry sets the base address, page size and page count.
func WithGeometry(base uint32, pageSize, pages int) Option {
	return func(e *Emulated) {
		if pageSize > 0 && pages > 0 {
			e.base, e.pageSize = base, pageSize
			e.data = make([]byte, pageSize*pages)
		}
	}
}

// NewEmulated returns a blank in-memory flash.
func NewEmulated(opts ...Option) *Emulated {
	e := &Emulated{
		base:     DefaultBase,
		pageSize: DefaultPageSize,
		data:     make([]byte, DefaultPageSize*DefaultPages),
		done:     make(chan Result, 4),
	}
	for _, o := range opts {
		o(e)
	}
	for i := range e.data {
		e.data[i] = 0xFF
	}
	return e
}

// OpenFile returns a flash backed by path. A missing file starts blank.
func OpenFile(path string, opts ...Option) (*Emulated, error) {
	e := NewEmulated(opts...)
	e.path = path

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Printf("nvm: %s does not exist, starting blank", path)
		return e, nil
	case err != nil:
		return nil, fmt.Errorf("nvm: read %s: %w", path, err)
	}
	copy(e.data, b)
	return e, nil
}

// Protect makes [addr, addr+size) read-only.
func (e *Emulated) Protect(addr uint32, size int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.protect = append(e.protect, span{addr, addr + uint32(size)})
}

// FailNext makes the next command complete with o.
// CommandAborted programs only the first half of a write.
func (e *Emulated) FailNext(o Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failNext = &o
}

// Done implements Flash.
func (e *Emulated) Done() <-chan Result { return e.done }

// Base returns the first address.
func (e *Emulated) Base() uint32 { return e.base }

// PageSize returns the erase unit.
func (e *Emulated) PageSize() int { return e.pageSize }

// ErasePage implements Flash.
func (e *Emulated) ErasePage(addr uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	off, err := e.offset(addr, 1)
	if err != nil {
		return err
	}
	start := off - off%e.pageSize
	pageAddr := e.base + uint32(start)

	if o, ok := e.takeFailure(); ok {
		if o == CommandAborted {
			half := start + e.pageSize/2
			fill(e.data[start:half], 0xFF)
			return e.complete(Result{Outcome: o, Address: e.base + uint32(half)})
		}
		return e.complete(Result{Outcome: o, Address: pageAddr})
	}
	if e.protected(pageAddr, e.pageSize) {
		return e.complete(Result{Outcome: ProtectionError, Address: pageAddr})
	}
	fill(e.data[start:start+e.pageSize], 0xFF)
	return e.complete(Result{Outcome: Success, Address: pageAddr})
}

// Write implements Flash.
func (e *Emulated) Write(buf []byte, addr uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if addr%4 != 0 || len(buf)%4 != 0 {
		return ErrAlignment
	}
	off, err := e.offset(addr, len(buf))
	if err != nil {
		return err
	}

	n := len(buf)
	if o, ok := e.takeFailure(); ok {
		if o != CommandAborted {
			return e.complete(Result{Outcome: o, Address: addr})
		}
		n = len(buf) / 2
		program(e.data[off:off+n], buf[:n])
		return e.complete(Result{Outcome: o, Address: addr + uint32(n)})
	}
	if e.protected(addr, n) {
		return e.complete(Result{Outcome: ProtectionError, Address: addr})
	}
	for i, b := range buf {
		if e.data[off+i]&b != b {
			return e.complete(Result{Outcome: SignOrEraseError, Address: addr + uint32(i)})
		}
	}
	program(e.data[off:off+n], buf)
	return e.complete(Result{Outcome: Success, Address: addr})
}

// ReadAt implements Flash.
func (e *Emulated) ReadAt(buf []byte, addr uint32) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	off, err := e.offset(addr, len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, e.data[off:]), nil
}

func (e *Emulated) offset(addr uint32, size int) (int, error) {
	if addr < e.base || int(addr-e.base)+size > len(e.data) {
		return 0, fmt.Errorf("%w: 0x%05x+%d", ErrBounds, addr, size)
	}
	return int(addr - e.base), nil
}

func (e *Emulated) takeFailure() (Outcome, bool) {
	if e.failNext == nil {
		return Success, false
	}
	o := *e.failNext
	e.failNext = nil
	return o, true
}

func (e *Emulated) protected(addr uint32, size int) bool {
	end := addr + uint32(size)
	for _, p := range e.protect {
		if addr < p.to && p.from < end {
			return true
		}
	}
	return false
}

// complete persists the image and posts the completion. Called with mu held.
func (e *Emulated) complete(r Result) error {
	if e.path != "" {
		if err := os.WriteFile(e.path, e.data, 0o644); err != nil {
			log.Printf("nvm: failed to persist %s: %v", e.path, err)
		}
	}
	select {
	case e.done <- r:
	default:
		log.Printf("nvm: completion dropped: %+v", r)
	}
	return nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

func program(dst, src []byte) {
	for i := range src {
		dst[i] &= src[i]
	}
}
