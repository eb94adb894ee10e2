package calib

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/itohio/tcloop/pkg/fault"
	"github.com/itohio/tcloop/pkg/nvm"
)

// DefaultCommandTimeout bounds the wait for one flash completion.
const DefaultCommandTimeout = 2 * time.Second

// StorageError reports a flash command that completed with anything but
// Success.
type StorageError struct {
	Op     string
	Result nvm.Result
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("calib: %s: %v at 0x%05x", e.Op, e.Result.Outcome, e.Result.Address)
}

func (e *StorageError) Code() fault.Code { return e.Result.Outcome.Code() }
func (e *StorageError) Unwrap() error    { return e.Result.Outcome.Code() }

// Store persists the calibration record at a fixed flash address.
type Store struct {
	flash     nvm.Flash
	addr      uint32
	timeout   time.Duration
	persisted bool
}

// NewStore returns a store for the record at addr.
func NewStore(flash nvm.Flash, addr uint32) *Store {
	return &Store{flash: flash, addr: addr, timeout: DefaultCommandTimeout}
}

// SetCommandTimeout changes the completion wait.
func (s *Store) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Address returns the record location.
func (s *Store) Address() uint32 { return s.addr }

// Persisted reports whether the last Save committed and verified.
func (s *Store) Persisted() bool { return s.persisted }

// Save erases the page, writes rec and reads it back. There is no retry:
// a failed outcome is returned as *StorageError and Persisted stays false.
func (s *Store) Save(ctx context.Context, rec Record) error {
	s.persisted = false
	if err := rec.Validate(); err != nil {
		return err
	}
	buf, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	s.drain()

	if err := s.flash.ErasePage(s.addr); err != nil {
		return fmt.Errorf("calib: erase: %w", err)
	}
	if err := s.await(ctx, "erase"); err != nil {
		return err
	}
	if err := s.flash.Write(buf, s.addr); err != nil {
		return fmt.Errorf("calib: write: %w", err)
	}
	if err := s.await(ctx, "write"); err != nil {
		return err
	}

	got, err := s.Load()
	if err != nil {
		return fmt.Errorf("calib: verify: %w", err)
	}
	if got != rec {
		return fmt.Errorf("calib: verify: %w: read back %+v", ErrInvalidRecord, got)
	}
	s.persisted = true
	log.Printf("calib: saved %+v at 0x%05x", rec, s.addr)
	return nil
}

// Load reads and validates the stored record without modifying flash.
func (s *Store) Load() (Record, error) {
	buf := make([]byte, RecordSize)
	if _, err := s.flash.ReadAt(buf, s.addr); err != nil {
		return Record{}, fmt.Errorf("calib: read: %w", err)
	}
	var rec Record
	if err := rec.UnmarshalBinary(buf); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Store) await(ctx context.Context, op string) error {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return &fault.E{C: fault.Aborted, Op: "calib", Msg: op, Err: ctx.Err()}
	case <-timer.C:
		return &fault.E{C: fault.Timeout, Op: "calib", Msg: op + ": no flash completion"}
	case r := <-s.flash.Done():
		if r.Outcome != nvm.Success {
			return &StorageError{Op: op, Result: r}
		}
		return nil
	}
}

// drain discards completions left over from commands issued elsewhere.
func (s *Store) drain() {
	for {
		select {
		case r := <-s.flash.Done():
			log.Printf("calib: discarding stale flash completion %+v", r)
		default:
			return
		}
	}
}
