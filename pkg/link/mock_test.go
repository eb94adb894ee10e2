package link

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/config"
	"github.com/itohio/tcloop/pkg/loop"
)

func fastConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Sampler.BatchSize = 2
	cfg.Sim.NoiseMicroV = 0
	cfg.Sim.ConversionRate = time.Millisecond
	cfg.Output.FrequencyHz = 1000
	cfg.Calibration.Timeout = 5 * time.Second
	cfg.Storage.File = filepath.Join(t.TempDir(), "flash.bin")
	return cfg
}

// waitMessage reads messages until one contains want.
func waitMessage(t *testing.T, m *Mock, want string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-m.Messages():
			if strings.Contains(msg, want) {
				return msg
			}
		case <-deadline:
			t.Fatalf("no message containing %q", want)
		}
	}
}

func TestMock_Frames(t *testing.T) {
	m := NewMock(fastConfig(t))
	assert.Error(t, m.SendKey('1'), "not connected")
	require.NoError(t, m.Connect())
	defer m.Close()
	assert.True(t, m.IsConnected())
	assert.Error(t, m.Connect(), "already connected")

	select {
	case f := <-m.Frames():
		assert.InDelta(t, 100, f.Celsius(), 0.5)
		assert.InDelta(t, 1097.35, f.Ohms(), 0.5, "PT1000 at 25 °C")
		assert.False(t, f.Flags.Has(loop.FlagHeld))
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}
}

func TestMock_Calibrate(t *testing.T) {
	cfg := fastConfig(t)
	m := NewMock(cfg)
	require.NoError(t, m.Connect())

	require.NoError(t, m.SendKey(calib.KeyCalibrate))
	waitMessage(t, m, "calibrate to 20mA")
	for _, k := range []byte{'1', '1', '\r'} {
		require.NoError(t, m.SendKey(k))
	}
	waitMessage(t, m, "calibrate to 4mA")
	for _, k := range []byte{'0', '\r'} {
		require.NoError(t, m.SendKey(k))
	}
	waitMessage(t, m, "Calibration active")

	want := calib.Record{Code4mA: calib.Default4mA + 1, Code20mA: calib.Default20mA - 2}
	assert.Equal(t, want, m.Rig().Instrument.Record())
	assert.Eventually(t, func() bool { return !m.Rig().Instrument.Held() }, time.Second, time.Millisecond)
	require.NoError(t, m.Close())

	// The record survives a restart through the flash image.
	m = NewMock(cfg)
	require.NoError(t, m.Connect())
	defer m.Close()
	assert.Equal(t, want, m.Rig().Instrument.Record())
}

func TestMock_IgnoresKeysOutsideCalibration(t *testing.T) {
	m := NewMock(fastConfig(t))
	require.NoError(t, m.Connect())
	defer m.Close()

	require.NoError(t, m.SendKey('1'))
	require.NoError(t, m.SendKey('\r'))
	assert.Equal(t, calib.DefaultRecord(), m.Rig().Instrument.Record())
}

func TestMock_GracefulShutdown(t *testing.T) {
	m := NewMock(fastConfig(t))
	require.NoError(t, m.Connect())

	frames := m.Frames()
	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range frames {
			received++
			if received == 3 {
				m.Close()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Frames channel did not close within timeout")
	}
	assert.GreaterOrEqual(t, received, 3)
	assert.False(t, m.IsConnected())
	assert.NoError(t, m.Close())
}
