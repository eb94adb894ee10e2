package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/config"
	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/nvm"
	"github.com/itohio/tcloop/pkg/sim"
	"github.com/itohio/tcloop/pkg/wire"
)

// Mock runs a complete instrument on simulated hardware and speaks the same
// console protocol as the firmware.
type Mock struct {
	cfg *config.Config

	frames   chan wire.Frame
	messages chan string
	keys     chan byte

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	wg        sync.WaitGroup

	rig         *sim.Rig
	store       *calib.Store
	calibrating atomic.Bool
}

// NewMock creates a simulated device. A nil cfg uses config.Default.
func NewMock(cfg *config.Config) *Mock {
	if cfg == nil {
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Mock{
		cfg:      cfg,
		frames:   make(chan wire.Frame, DefaultBufferSize),
		messages: make(chan string, DefaultBufferSize),
		keys:     make(chan byte, 16),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Connect loads the stored calibration, if any, and starts the simulation.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	flash, err := m.openFlash()
	if err != nil {
		return err
	}
	m.store = calib.NewStore(flash, m.cfg.Storage.Address)

	rec := m.cfg.DefaultRecord()
	if stored, err := m.store.Load(); err == nil {
		rec = stored
	} else if !errors.Is(err, calib.ErrBlankRecord) {
		m.say("Stored calibration rejected: %v", err)
	}

	rig, err := sim.NewRig(m.cfg, rec, loop.ReporterFunc(m.publish))
	if err != nil {
		return err
	}
	m.rig = rig
	m.connected = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		rig.Run(m.ctx)
	}()

	return nil
}

func (m *Mock) openFlash() (nvm.Flash, error) {
	opts := []nvm.Option{
		nvm.WithGeometry(m.cfg.Storage.Address, m.cfg.Storage.PageSize, 1),
	}
	if m.cfg.Storage.File == "" {
		return nvm.NewEmulated(opts...), nil
	}
	return nvm.OpenFile(m.cfg.Storage.File, opts...)
}

// Close stops the simulation and closes the frame and message channels.
func (m *Mock) Close() error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.cancel()
	m.connected = false
	m.mu.Unlock()

	m.wg.Wait()
	close(m.frames)
	close(m.messages)
	return nil
}

// Frames returns the channel of measurement frames.
func (m *Mock) Frames() <-chan wire.Frame { return m.frames }

// Messages returns operator prompts.
func (m *Mock) Messages() <-chan string { return m.messages }

// IsConnected returns whether the simulation is running.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// Rig exposes the simulated hardware. It is nil before Connect.
func (m *Mock) Rig() *sim.Rig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rig
}

// SendKey feeds the console. calib.KeyCalibrate starts the interactive
// procedure; other keys go to a running procedure and are ignored otherwise.
func (m *Mock) SendKey(key byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.connected {
		return fmt.Errorf("not connected")
	}

	if m.calibrating.Load() {
		select {
		case m.keys <- key:
		default:
			return fmt.Errorf("key %q dropped, console busy", key)
		}
		return nil
	}
	if key == calib.KeyCalibrate && m.calibrating.CompareAndSwap(false, true) {
		for len(m.keys) > 0 {
			<-m.keys
		}
		m.wg.Add(1)
		go m.calibrate()
	}
	return nil
}

func (m *Mock) calibrate() {
	defer m.wg.Done()
	defer m.calibrating.Store(false)

	proc := &calib.Procedure{
		Keys:    m.keys,
		Top:     m.cfg.Output.Top,
		Timeout: m.cfg.Calibration.Timeout,
		Logf:    m.say,
	}
	rec, err := m.rig.Calibrate(m.ctx, proc, m.store)
	switch {
	case errors.Is(err, sim.ErrNotSaved):
		m.say("%v", err)
	case err != nil:
		m.say("Calibration failed, keeping the active record: %v", err)
		return
	}
	m.say("Calibration active: 4 mA = %d, 20 mA = %d", rec.Code4mA, rec.Code20mA)
}

func (m *Mock) publish(e loop.Event) error {
	select {
	case m.frames <- wire.FromEvent(e):
	case <-m.ctx.Done():
	default:
	}
	return nil
}

func (m *Mock) say(format string, args ...any) {
	select {
	case m.messages <- fmt.Sprintf(format, args...):
	case <-m.ctx.Done():
	default:
	}
}
