package nvm

import (
	"path/filepath"
	"testing"

	"github.com/itohio/tcloop/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, f Flash) Result {
	t.Helper()
	select {
	case r := <-f.Done():
		return r
	default:
		t.Fatal("no completion posted")
		return Result{}
	}
}

func read(t *testing.T, f Flash, addr uint32, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := f.ReadAt(b, addr)
	require.NoError(t, err)
	return b
}

func TestEmulated_EraseWriteRead(t *testing.T) {
	e := NewEmulated()
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, read(t, e, DefaultBase, 4))

	require.NoError(t, e.Write([]byte{1, 2, 3, 4}, DefaultBase))
	assert.Equal(t, Result{Outcome: Success, Address: DefaultBase}, next(t, e))
	assert.Equal(t, []byte{1, 2, 3, 4}, read(t, e, DefaultBase, 4))

	// Programming cannot set bits.
	require.NoError(t, e.Write([]byte{0xFF, 2, 3, 4}, DefaultBase))
	r := next(t, e)
	assert.Equal(t, SignOrEraseError, r.Outcome)
	assert.Equal(t, fault.StorageSignErase, fault.Of(r.Err()))

	require.NoError(t, e.ErasePage(DefaultBase+10))
	assert.Equal(t, Result{Outcome: Success, Address: DefaultBase}, next(t, e))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, read(t, e, DefaultBase, 4))
}

func TestEmulated_Validation(t *testing.T) {
	e := NewEmulated()
	assert.ErrorIs(t, e.Write([]byte{1, 2, 3}, DefaultBase), ErrAlignment)
	assert.ErrorIs(t, e.Write([]byte{1, 2, 3, 4}, DefaultBase+2), ErrAlignment)
	assert.ErrorIs(t, e.ErasePage(0), ErrBounds)
	_, err := e.ReadAt(make([]byte, 8), DefaultBase+DefaultPageSize*DefaultPages-4)
	assert.ErrorIs(t, err, ErrBounds)
	assert.Len(t, e.Done(), 0, "rejected commands post nothing")
}

func TestEmulated_Protection(t *testing.T) {
	e := NewEmulated()
	e.Protect(DefaultBase, 16)

	require.NoError(t, e.Write([]byte{0, 0, 0, 0}, DefaultBase+8))
	r := next(t, e)
	assert.Equal(t, ProtectionError, r.Outcome)
	assert.Equal(t, fault.StorageProtection, fault.Of(r.Err()))

	require.NoError(t, e.ErasePage(DefaultBase))
	assert.Equal(t, ProtectionError, next(t, e).Outcome)

	// Second page is not protected.
	require.NoError(t, e.ErasePage(DefaultBase+DefaultPageSize))
	assert.Equal(t, Success, next(t, e).Outcome)
}

func TestEmulated_AbortedWriteIsPartial(t *testing.T) {
	e := NewEmulated()
	e.FailNext(CommandAborted)

	require.NoError(t, e.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8}, DefaultBase))
	r := next(t, e)
	assert.Equal(t, CommandAborted, r.Outcome)
	assert.Equal(t, DefaultBase+4, r.Address)
	assert.Equal(t, fault.StorageAborted, fault.Of(r.Err()))
	assert.Equal(t, []byte{1, 2, 3, 4, 0xFF, 0xFF, 0xFF, 0xFF}, read(t, e, DefaultBase, 8))

	// Failure applies to one command only.
	require.NoError(t, e.ErasePage(DefaultBase))
	assert.Equal(t, Success, next(t, e).Outcome)
}

func TestEmulated_FilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")

	e, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, e.Write([]byte{0xDE, 0xAD, 0xBE, 0xEF}, DefaultBase+16))
	require.Equal(t, Success, next(t, e).Outcome)

	again, err := OpenFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, read(t, again, DefaultBase+16, 4))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, read(t, again, DefaultBase, 4))
}

func TestOutcome(t *testing.T) {
	assert.NoError(t, Result{Outcome: Success}.Err())
	assert.Equal(t, "command aborted", CommandAborted.String())
	assert.Equal(t, fault.OK, Success.Code())
	assert.Contains(t, Result{Outcome: ProtectionError, Address: 0x1F000}.Err().Error(), "0x1f000")
}
