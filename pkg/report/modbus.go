package report

import (
	"errors"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/mathx"
)

// Holding register layout written by Modbus, relative to the base address.
const (
	RegTempHigh   = iota // final temperature, m°C, int32 high word
	RegTempLow           // final temperature, m°C, int32 low word
	RegMicroamps         // loop current, µA
	RegDuty              // duty code
	RegFlags             // loop.Flags
	RegRTDDeciOhm        // RTD resistance, 0.1 Ω
	RegSeqHigh           // cycle counter high word
	RegSeqLow            // cycle counter low word
	RegCount
)

// EncodeRegisters converts an event to the holding register block.
func EncodeRegisters(e loop.Event) []uint16 {
	regs := make([]uint16, RegCount)

	mc := fixed32(e.Measurement.Celsius, 1e3)
	regs[RegTempHigh] = uint16(uint32(mc) >> 16)
	regs[RegTempLow] = uint16(uint32(mc))
	regs[RegMicroamps] = uint16(mathx.Clamp(fixed32(e.Command.Milliamps, 1e3), 0, 0xFFFF))
	regs[RegDuty] = uint16(mathx.Clamp(e.Command.Code, 0, 0xFFFF))
	regs[RegFlags] = uint16(e.Flags)
	regs[RegRTDDeciOhm] = uint16(mathx.Clamp(fixed32(e.Measurement.RTDOhms, 10), 0, 0xFFFF))
	regs[RegSeqHigh] = uint16(e.Seq >> 16)
	regs[RegSeqLow] = uint16(e.Seq)

	return regs
}

func fixed32(v, scale float32) int32 {
	f := v * scale
	if f >= 0 {
		return int32(f + 0.5)
	}
	return int32(f - 0.5)
}

// registerWriter is the part of modbus.Client the publisher uses.
type registerWriter interface {
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// Modbus publishes each event into a holding register block of a Modbus
// TCP server.
type Modbus struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  registerWriter
	address uint16
}

// ModbusConfig configures the publisher.
type ModbusConfig struct {
	Endpoint string
	UnitID   uint8
	Address  uint16
	Timeout  time.Duration
}

// NewModbus connects to cfg.Endpoint.
func NewModbus(cfg ModbusConfig) (*Modbus, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("report modbus: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	if err := h.Connect(); err != nil {
		return nil, err
	}

	return &Modbus{
		handler: h,
		client:  modbus.NewClient(h),
		address: cfg.Address,
	}, nil
}

// Report implements loop.Reporter.
func (m *Modbus) Report(e loop.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	regs := EncodeRegisters(e)
	_, err := m.client.WriteMultipleRegisters(m.address, uint16(len(regs)), packRegisters(regs))
	return err
}

// Close closes the TCP connection.
func (m *Modbus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handler == nil {
		return nil
	}
	return m.handler.Close()
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}
