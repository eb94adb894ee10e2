package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/config"
	"github.com/itohio/tcloop/pkg/fault"
	"github.com/itohio/tcloop/pkg/lookup"
	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/nvm"
	"github.com/itohio/tcloop/pkg/output"
	"github.com/itohio/tcloop/pkg/thermo"
)

func quietConfig(process, ambient float32) Config {
	cfg := DefaultConfig()
	cfg.ProcessCelsius = process
	cfg.AmbientCelsius = ambient
	cfg.NoiseMicroV = 0
	return cfg
}

// cycle runs one full batch pair through a sampler fed by c.
func cycle(t *testing.T, c *Converter, now time.Time) thermo.Measurement {
	t.Helper()
	s, err := adc.New(c, 4)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		s.OnConversion(c.Convert(now))
	}
	cy, ok := s.Take()
	require.True(t, ok)
	defer s.Release()

	p, err := thermo.New(thermo.DefaultScale(), lookup.Default(lookup.PT1000))
	require.NoError(t, err)
	m, err := p.Process(cy)
	require.NoError(t, err)
	return m
}

func TestConverter_RoundTrip(t *testing.T) {
	for _, tc := range []struct{ process, ambient float32 }{
		{100, 25},
		{-150, 20},
		{300, 40},
		{25, 25},
	} {
		c := NewConverter(quietConfig(tc.process, tc.ambient), thermo.DefaultScale())
		m := cycle(t, c, time.Now())
		assert.InDelta(t, tc.ambient, m.RTDCelsius, 0.1)
		assert.InDelta(t, tc.process, m.Celsius, 0.2)
	}
}

func TestConverter_Select(t *testing.T) {
	c := NewConverter(quietConfig(100, 25), thermo.DefaultScale())
	_, err := adc.New(c, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.Selects())

	require.NoError(t, c.Select(adc.RTD))
	rtd, status := c.Convert(time.Now())
	assert.Zero(t, status)
	assert.Greater(t, rtd, int32(0))
}

func TestConverter_Ramp(t *testing.T) {
	cfg := quietConfig(100, 25)
	cfg.RampCelsiusPerS = 2
	c := NewConverter(cfg, thermo.DefaultScale())
	c.SetProcess(50)
	assert.InDelta(t, 70, c.Process(time.Now().Add(10*time.Second)), 0.1)
}

func TestConverter_Disconnect(t *testing.T) {
	c := NewConverter(quietConfig(100, 25), thermo.DefaultScale())
	c.SetDisconnected(true)
	code, status := c.Convert(time.Now())
	assert.Equal(t, adc.StatusError, status)
	assert.Equal(t, int32(thermo.DefaultScale().FullScale-1), code)

	c.SetDisconnected(false)
	_, status = c.Convert(time.Now())
	assert.Zero(t, status)

	cfg := quietConfig(100, 25)
	cfg.DisconnectAfter = time.Second
	c = NewConverter(cfg, thermo.DefaultScale())
	_, status = c.Convert(time.Now().Add(2 * time.Second))
	assert.Equal(t, adc.StatusError, status)
}

func TestSaturate(t *testing.T) {
	code, status := saturate(1e12)
	assert.Equal(t, adc.StatusError, status)
	assert.Equal(t, int32(2147483647), code)
	code, status = saturate(-1e12)
	assert.Equal(t, adc.StatusError, status)
	assert.Equal(t, int32(-2147483648), code)
	code, status = saturate(-2.6)
	assert.Zero(t, status)
	assert.Equal(t, int32(-3), code)
}

func TestPWM(t *testing.T) {
	p := NewPWM(100)
	l, err := output.NewLatch(p, 40)
	require.NoError(t, err)
	assert.Equal(t, uint32(40), p.Duty())

	l.Store(500)
	l.OnCycle()
	assert.Equal(t, uint32(100), p.Duty(), "clamped to top")

	p.Stall(true)
	l.Store(10)
	l.OnCycle()
	err = l.TakeError()
	require.Error(t, err)
	assert.Equal(t, fault.OutputTiming, fault.Of(err))
	assert.Equal(t, uint64(2), p.Writes())
}

type events struct {
	mu  sync.Mutex
	evs []loop.Event
}

func (e *events) Report(ev loop.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evs = append(e.evs, ev)
	return nil
}

func (e *events) snapshot() []loop.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]loop.Event(nil), e.evs...)
}

func TestRig_Run(t *testing.T) {
	cfg := config.Default()
	cfg.Sampler.BatchSize = 2
	cfg.Sim.NoiseMicroV = 0
	cfg.Sim.ConversionRate = time.Millisecond
	cfg.Output.FrequencyHz = 1000

	col := &events{}
	rig, err := NewRig(cfg, calib.DefaultRecord(), col)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.Run(ctx) }()

	require.Eventually(t, func() bool { return len(col.snapshot()) >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	evs := col.snapshot()
	last := evs[len(evs)-1]
	assert.InDelta(t, 100, last.Measurement.Celsius, 0.5)
	assert.Empty(t, last.Errors)
	assert.Greater(t, rig.PWM.Writes(), uint64(1))
	assert.NotZero(t, rig.Latch.Updates())
}

func TestRig_Calibrate(t *testing.T) {
	cfg := config.Default()
	rig, err := NewRig(cfg, calib.DefaultRecord(), &events{})
	require.NoError(t, err)

	flash := nvm.NewEmulated(nvm.WithGeometry(cfg.Storage.Address, cfg.Storage.PageSize, 1))
	store := calib.NewStore(flash, cfg.Storage.Address)

	keys := make(chan byte, 8)
	for _, k := range []byte{'1', '1', '\r', '0', '\r'} {
		keys <- k
	}
	proc := &calib.Procedure{Keys: keys, Top: cfg.Output.Top, Timeout: time.Second, Logf: t.Logf}

	rec, err := rig.Calibrate(context.Background(), proc, store)
	require.NoError(t, err)
	want := calib.Record{Code4mA: calib.Default4mA + 1, Code20mA: calib.Default20mA - 2}
	assert.Equal(t, want, rec)
	assert.Equal(t, want, rig.Instrument.Record())
	assert.False(t, rig.Instrument.Held())

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, want, stored)
}

func TestRig_CalibrateStartsFromDefaults(t *testing.T) {
	cfg := config.Default()
	active := calib.Record{Code4mA: 600, Code20mA: 2500}
	rig, err := NewRig(cfg, active, &events{})
	require.NoError(t, err)

	keys := make(chan byte, 2)
	keys <- '\r'
	keys <- '\r'
	proc := &calib.Procedure{Keys: keys, Top: cfg.Output.Top, Timeout: time.Second, Logf: t.Logf}

	rec, err := rig.Calibrate(context.Background(), proc, nil)
	require.NoError(t, err)
	assert.Equal(t, calib.DefaultRecord(), rec)
	assert.Equal(t, calib.DefaultRecord(), rig.Instrument.Record())
}

func TestRig_CalibrateCancelled(t *testing.T) {
	cfg := config.Default()
	rig, err := NewRig(cfg, calib.DefaultRecord(), &events{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc := &calib.Procedure{Keys: make(chan byte), Top: cfg.Output.Top, Logf: t.Logf}

	rec, err := rig.Calibrate(ctx, proc, nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotSaved)
	assert.Equal(t, calib.DefaultRecord(), rec)
	assert.False(t, rig.Instrument.Held())
}
