package loop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/fault"
	"github.com/itohio/tcloop/pkg/lookup"
	"github.com/itohio/tcloop/pkg/output"
	"github.com/itohio/tcloop/pkg/thermo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopFrontend struct{}

func (nopFrontend) Select(adc.Channel) error { return nil }

type register struct {
	mu    sync.Mutex
	codes []uint32
	fail  bool
}

func (r *register) Program(code uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("busy")
	}
	r.codes = append(r.codes, code)
	return nil
}

type collector struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *collector) Report(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newInstrument(t *testing.T, r Reporter) (*Instrument, *register) {
	t.Helper()
	s, err := adc.New(nopFrontend{}, 4)
	require.NoError(t, err)
	p, err := thermo.New(thermo.DefaultScale(), lookup.Default(lookup.PT1000))
	require.NoError(t, err)
	c, err := output.NewController(output.DefaultSpan(), calib.DefaultRecord())
	require.NoError(t, err)
	reg := &register{}
	l, err := output.NewLatch(reg, calib.Default4mA)
	require.NoError(t, err)
	in, err := New(s, p, c, l, r)
	require.NoError(t, err)
	return in, reg
}

// rtdCode returns the converter code of a PT1000 at celsius.
func rtdCode(celsius float32) int32 {
	ratio := lookup.RTDResistance(lookup.PT1000, celsius) / thermo.DefaultScale().SeriesResistance
	return int32(ratio * thermo.DefaultScale().FullScale)
}

func feed(s *adc.Sampler, tc, rtd int32, status adc.Status) {
	for i := 0; i < s.BatchSize(); i++ {
		s.OnConversion(tc, status)
	}
	for i := 0; i < s.BatchSize(); i++ {
		s.OnConversion(rtd, 0)
	}
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestInstrument_Step(t *testing.T) {
	col := &collector{}
	in, _ := newInstrument(t, col)

	_, ok := in.Step()
	assert.False(t, ok, "nothing ready")

	feed(in.Sampler(), 0, rtdCode(25), 0)
	ev, ok := in.Step()
	require.True(t, ok)

	assert.Equal(t, uint64(1), ev.Seq)
	assert.InDelta(t, 25, ev.Measurement.Celsius, 0.1)
	assert.InDelta(t, 4+225*16.0/550, ev.Command.Milliamps, 0.01)
	assert.InDelta(t, 1674, ev.Command.Code, 2)
	assert.Equal(t, calib.DefaultRecord(), ev.Record)
	assert.Empty(t, ev.Errors)
	assert.Equal(t, Flags(0), ev.Flags)

	_, ok = in.Sampler().Take()
	assert.False(t, ok, "buffers released after the cycle")

	latest, ok := in.Latest()
	require.True(t, ok)
	assert.Equal(t, ev, latest)
	assert.Equal(t, 1, col.count())
}

func TestInstrument_OutputUpdatesAtCycleBoundary(t *testing.T) {
	s, err := adc.New(nopFrontend{}, 2)
	require.NoError(t, err)
	p, err := thermo.New(thermo.DefaultScale(), lookup.Default(0))
	require.NoError(t, err)
	c, err := output.NewController(output.DefaultSpan(), calib.DefaultRecord())
	require.NoError(t, err)
	reg := &register{}
	l, err := output.NewLatch(reg, calib.Default4mA)
	require.NoError(t, err)
	in, err := New(s, p, c, l, nil)
	require.NoError(t, err)

	feed(s, 0, rtdCode(100), 0)
	ev, ok := in.Step()
	require.True(t, ok)

	assert.Equal(t, []uint32{calib.Default4mA}, reg.codes)
	l.OnCycle()
	assert.Equal(t, []uint32{calib.Default4mA, ev.Command.Code}, reg.codes)
}

func TestInstrument_FaultsDoNotStopTheLoop(t *testing.T) {
	col := &collector{err: errors.New("sink down")}
	in, reg := newInstrument(t, col)

	// Open thermocouple: pegged converter with its error bit set.
	feed(in.Sampler(), 1<<28-1, rtdCode(25), adc.StatusError)
	ev, ok := in.Step()
	require.True(t, ok)

	assert.True(t, ev.Flags.Has(FlagOverRange|FlagSensor))
	require.Len(t, ev.Errors, 2)
	assert.Equal(t, fault.LookupRange, fault.Of(ev.Errors[0]))
	assert.Equal(t, fault.SensorOverRange, fault.Of(ev.Errors[1]))
	assert.InDelta(t, lookup.MaxCelsius, ev.Measurement.Celsius, 1e-3)
	assert.Equal(t, calib.Default20mA, ev.Command.Code, "saturated temperature still drives the output")

	// The next cycle reports the output failure, then recovers.
	reg.mu.Lock()
	reg.fail = true
	reg.mu.Unlock()
	in.latch.OnCycle()

	feed(in.Sampler(), 0, rtdCode(25), 0)
	ev, ok = in.Step()
	require.True(t, ok)
	assert.True(t, ev.Flags.Has(FlagOutput))
	assert.False(t, ev.Flags.Has(FlagSensor), "sensor error cleared after being read once")
	assert.Equal(t, fault.OutputTiming, fault.Of(ev.Errors[0]))
	assert.Equal(t, 2, col.count())
}

func TestInstrument_Hold(t *testing.T) {
	in, _ := newInstrument(t, nil)
	in.Hold(true)
	assert.True(t, in.Held())
	in.latch.Store(1234)

	feed(in.Sampler(), 0, rtdCode(25), 0)
	ev, ok := in.Step()
	require.True(t, ok)
	assert.True(t, ev.Flags.Has(FlagHeld))
	code, _ := in.latch.Pending()
	assert.Equal(t, uint32(1234), code, "held output left to its owner")

	in.Hold(false)
	feed(in.Sampler(), 0, rtdCode(25), 0)
	ev, ok = in.Step()
	require.True(t, ok)
	assert.False(t, ev.Flags.Has(FlagHeld))
	code, _ = in.latch.Pending()
	assert.Equal(t, ev.Command.Code, code)
}

func TestInstrument_SetRecord(t *testing.T) {
	in, _ := newInstrument(t, nil)
	rec := calib.Record{Code4mA: 3000, Code20mA: 1000}
	require.NoError(t, in.SetRecord(rec))
	assert.Equal(t, rec, in.Record())

	feed(in.Sampler(), 0, rtdCode(25), 0)
	ev, ok := in.Step()
	require.True(t, ok)
	assert.Equal(t, rec, ev.Record)

	assert.Error(t, in.SetRecord(calib.Record{Code4mA: 1, Code20mA: 2}))
}

func TestInstrument_Run(t *testing.T) {
	col := &collector{}
	in, _ := newInstrument(t, col)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	for i := 0; i < 3; i++ {
		feed(in.Sampler(), 0, rtdCode(20+float32(i)), 0)
		require.Eventually(t, func() bool { return col.count() == i+1 }, time.Second, time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	for i, e := range col.events {
		assert.Equal(t, uint64(i+1), e.Seq, "events arrive in order")
		assert.InDelta(t, 20+float64(i), e.Measurement.Celsius, 0.1)
	}
}
