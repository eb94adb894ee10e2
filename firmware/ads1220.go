//go:build rp2040

package main

import (
	"machine"

	"github.com/itohio/tcloop/pkg/adc"
)

const (
	cmdReset = 0x06
	cmdStart = 0x08
	cmdWreg  = 0x40

	// Register 0 input multiplexers.
	muxThermocouple = 0x0 << 4 // AIN0/AIN1
	muxRTD          = 0x5 << 4 // AIN2/AIN3, ratiometric to REFP0/REFN0

	gain32 = 0x5 << 1

	// Register 1: 20 SPS normal mode, continuous conversion.
	reg1 = 0x04
	// Register 2: external reference REFP0/REFN0, IDAC off.
	reg2 = 0x40
	// Register 3: IDAC1 on AIN3 for the RTD excitation.
	reg3 = 0x80

	codeMax = 0x7FFFFF
	codeMin = -0x800000
)

// converter drives an ADS1220 and forwards every conversion to a sampler.
type converter struct {
	spi  *machine.SPI
	cs   machine.Pin
	drdy machine.Pin

	ready chan struct{}
}

func newConverter(spi *machine.SPI, cs, drdy machine.Pin) *converter {
	return &converter{
		spi:   spi,
		cs:    cs,
		drdy:  drdy,
		ready: make(chan struct{}, 1),
	}
}

func (c *converter) configure() error {
	c.cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	c.cs.High()
	c.drdy.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	if err := c.command(cmdReset); err != nil {
		return err
	}
	if err := c.writeRegisters(0, muxThermocouple|gain32, reg1, reg2, reg3); err != nil {
		return err
	}
	return c.drdy.SetInterrupt(machine.PinFalling, func(machine.Pin) {
		select {
		case c.ready <- struct{}{}:
		default:
		}
	})
}

// Select implements adc.Frontend. Writing the mux restarts the conversion.
func (c *converter) Select(ch adc.Channel) error {
	mux := byte(muxThermocouple)
	if ch == adc.RTD {
		mux = muxRTD
	}
	return c.writeRegisters(0, mux|gain32)
}

// run reads each conversion after DRDY and hands it to s.
func (c *converter) run(s *adc.Sampler) {
	if err := c.command(cmdStart); err != nil {
		println("adc:", err.Error())
	}
	var buf [3]byte
	for range c.ready {
		c.cs.Low()
		err := c.spi.Tx(nil, buf[:])
		c.cs.High()
		if err != nil {
			println("adc:", err.Error())
			continue
		}
		code, status := decode(buf)
		s.OnConversion(code<<ADC_CODE_SHIFT, status)
	}
}

// decode sign-extends a 24-bit code. A railed code is reported as an input
// over-range.
func decode(b [3]byte) (int32, adc.Status) {
	code := int32(uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8) >> 8
	var status adc.Status
	if code >= codeMax || code <= codeMin {
		status |= adc.StatusError
	}
	return code, status
}

func (c *converter) command(cmd byte) error {
	c.cs.Low()
	_, err := c.spi.Transfer(cmd)
	c.cs.High()
	return err
}

func (c *converter) writeRegisters(first byte, values ...byte) error {
	c.cs.Low()
	defer c.cs.High()
	if _, err := c.spi.Transfer(cmdWreg | first<<2 | byte(len(values)-1)); err != nil {
		return err
	}
	return c.spi.Tx(values, nil)
}
