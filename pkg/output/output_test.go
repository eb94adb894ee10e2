package output

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newController(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	c, err := NewController(DefaultSpan(), calib.DefaultRecord(), opts...)
	require.NoError(t, err)
	return c
}

func TestSpan_Current(t *testing.T) {
	s := DefaultSpan()
	assert.InDelta(t, 4, s.Current(-200), 1e-5)
	assert.InDelta(t, 20, s.Current(350), 1e-5)
	assert.InDelta(t, 12, s.Current(75), 1e-5)
	assert.InDelta(t, 4+16*200.0/550, s.Current(0), 1e-4)

	assert.Error(t, Span{LowCelsius: 1, HighCelsius: 1, LowMilliamps: 4, HighMilliamps: 20}.Validate())
	assert.Error(t, Span{LowCelsius: 0, HighCelsius: 1, LowMilliamps: 20, HighMilliamps: 4}.Validate())
}

func TestSpan_ValidateNonFinite(t *testing.T) {
	s := DefaultSpan()
	s.HighCelsius = math32.NaN()
	assert.Error(t, s.Validate())

	s = DefaultSpan()
	s.HighMilliamps = math32.Inf(1)
	assert.Error(t, s.Validate())

	_, err := NewController(s, calib.DefaultRecord())
	assert.Error(t, err)
}

func TestController_Endpoints(t *testing.T) {
	c := newController(t)

	low := c.Command(-200)
	assert.Equal(t, calib.Default4mA, low.Code)
	assert.InDelta(t, 4, low.Milliamps, 1e-5)

	high := c.Command(350)
	assert.Equal(t, calib.Default20mA, high.Code)
	assert.InDelta(t, 20, high.Milliamps, 1e-5)

	// (2422-594)/16 codes per mA.
	assert.InDelta(t, 114.25, c.Step(), 1e-5)
	assert.Equal(t, uint32(594+8*114.25), c.Code(12))
}

func TestController_InverseMonotonic(t *testing.T) {
	c := newController(t)

	prev := c.Command(-200).Code
	for temp := float32(-199); temp <= 350; temp++ {
		code := c.Command(temp).Code
		assert.LessOrEqual(t, code, prev, "duty must not rise with temperature at %v", temp)
		prev = code
	}
}

func TestController_Extrapolates(t *testing.T) {
	c := newController(t)

	hot := c.Command(400)
	assert.Less(t, hot.Code, calib.Default20mA)
	assert.False(t, hot.Clamped)
	assert.Greater(t, hot.Milliamps, float32(20))

	// Far enough out to hit the register limits.
	assert.Equal(t, uint32(0), c.Command(2000).Code)
	assert.True(t, c.Command(2000).Clamped)
	assert.Equal(t, DefaultTop, c.Command(-5000).Code)
}

func TestController_ClampToSpan(t *testing.T) {
	c := newController(t, WithClampToSpan(true))

	assert.Equal(t, calib.Default20mA, c.Command(400).Code)
	assert.True(t, c.Command(400).Clamped)
	assert.Equal(t, calib.Default4mA, c.Command(-250).Code)
	assert.False(t, c.Command(20).Clamped)
}

func TestController_SetRecord(t *testing.T) {
	c := newController(t)
	require.NoError(t, c.SetRecord(calib.Record{Code4mA: 3000, Code20mA: 1000}))
	assert.Equal(t, uint32(3000), c.Command(-200).Code)
	assert.Equal(t, uint32(1000), c.Command(350).Code)
	assert.InDelta(t, 12, c.Milliamps(2000), 1e-4)

	assert.Error(t, c.SetRecord(calib.Record{Code4mA: 100, Code20mA: 200}))
	assert.Error(t, c.SetRecord(calib.Record{Code4mA: DefaultTop + 1, Code20mA: 200}))
	assert.Equal(t, uint32(3000), c.Record().Code4mA, "rejected record leaves the active one")

	_, err := NewController(DefaultSpan(), calib.DefaultRecord(), WithTop(1000))
	assert.Error(t, err)
}

type fakeRegister struct {
	codes []uint32
	fail  bool
}

func (r *fakeRegister) Program(code uint32) error {
	if r.fail {
		return errors.New("timer busy")
	}
	r.codes = append(r.codes, code)
	return nil
}

func TestLatch(t *testing.T) {
	reg := &fakeRegister{}
	l, err := NewLatch(reg, 2422)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2422}, reg.codes)

	l.OnCycle()
	assert.Len(t, reg.codes, 1, "nothing pending")

	l.Store(1000)
	l.Store(1200)
	code, pending := l.Pending()
	assert.True(t, pending)
	assert.Equal(t, uint32(1200), code)
	assert.Equal(t, uint32(2422), l.Active(), "register changes only at the boundary")

	l.OnCycle()
	assert.Equal(t, []uint32{2422, 1200}, reg.codes)
	assert.Equal(t, uint32(1200), l.Active())
	_, pending = l.Pending()
	assert.False(t, pending)
	assert.Equal(t, uint64(1), l.Updates())
	assert.NoError(t, l.TakeError())
}

func TestLatch_ProgramFailure(t *testing.T) {
	reg := &fakeRegister{}
	l, err := NewLatch(reg, 2422)
	require.NoError(t, err)

	reg.fail = true
	l.Store(800)
	l.OnCycle()
	assert.Equal(t, uint32(2422), l.Active())

	err = l.TakeError()
	require.Error(t, err)
	assert.Equal(t, fault.OutputTiming, fault.Of(err))
	assert.NoError(t, l.TakeError())

	_, err = NewLatch(reg, 1)
	assert.Error(t, err)
	_, err = NewLatch(nil, 1)
	assert.Error(t, err)
}
