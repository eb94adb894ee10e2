//go:build rp2040

//go:generate tinygo flash -target=pico

package main

import (
	"context"
	"fmt"
	"machine"
	"sync/atomic"
	"time"

	"github.com/itohio/tcloop/pkg/adc"
	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/lookup"
	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/output"
	"github.com/itohio/tcloop/pkg/thermo"
	"github.com/itohio/tcloop/pkg/wire"
)

var (
	serial = machine.Serial

	// Operator keys while calibrating
	keys        = make(chan byte, 16)
	calibrating atomic.Bool
)

func main() {
	serial.Configure(machine.UARTConfig{BaudRate: UART_BAUD_RATE})
	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	machine.SPI0.Configure(machine.SPIConfig{
		Frequency: ADC_SPI_FREQUENCY,
		SCK:       PIN_ADC_SCK,
		SDO:       PIN_ADC_SDO,
		SDI:       PIN_ADC_SDI,
		Mode:      1,
	})
	conv := newConverter(machine.SPI0, PIN_ADC_CS, PIN_ADC_DRDY)
	must("adc", conv.configure())

	sampler, err := adc.New(conv, BATCH_SIZE)
	must("sampler", err)
	pipeline, err := thermo.New(thermo.DefaultScale(), lookup.Default(lookup.PT1000))
	must("pipeline", err)

	ctrl, err := output.NewController(output.DefaultSpan(), calib.DefaultRecord())
	must("controller", err)
	pwm, err := newLoopPWM(machine.PWM7, PIN_LOOP_PWM, OUTPUT_FREQUENCY_HZ, output.DefaultTop)
	must("pwm", err)
	latch, err := output.NewLatch(pwm, calib.Default4mA)
	must("latch", err)
	go runCycles(latch, time.Second/OUTPUT_FREQUENCY_HZ)

	store := calib.NewStore(newFlashStore(calib.DefaultAddress), calib.DefaultAddress)
	must("calibration", ctrl.SetRecord(resolveCalibration(latch, store)))

	in, err := loop.New(sampler, pipeline, ctrl, latch, wire.NewReporter(serial))
	must("loop", err)

	go conv.run(sampler)

	for {
		processSerial(in, latch, store)
		in.Step()
		PIN_LED.Set(in.Held())

		time.Sleep(100 * time.Microsecond)
	}
}

func processSerial(in *loop.Instrument, latch *output.Latch, store *calib.Store) {
	for serial.Buffered() > 0 {
		data, err := serial.ReadByte()
		if err != nil {
			break
		}

		if calibrating.Load() {
			select {
			case keys <- data:
			default:
			}
			continue
		}
		if data == calib.KeyCalibrate && calibrating.CompareAndSwap(false, true) {
			for len(keys) > 0 {
				<-keys
			}
			go calibrate(in, latch, store)
		}
	}
}

// resolveCalibration picks the startup record per CALIBRATION_MODE. In
// interactive mode the console feeds the procedure until both endpoints
// are latched.
func resolveCalibration(latch *output.Latch, store *calib.Store) calib.Record {
	calibrating.Store(true)
	defer calibrating.Store(false)

	done := make(chan struct{})
	stopped := make(chan struct{})
	defer func() {
		close(done)
		<-stopped
	}()
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
			}
			forwardKeys()
			time.Sleep(time.Millisecond)
		}
	}()

	proc := &calib.Procedure{
		Output:   latch,
		Keys:     keys,
		Defaults: calib.DefaultRecord(),
		Top:      output.DefaultTop,
		Logf:     logf,
	}
	rec, err := calib.Resolve(context.Background(), CALIBRATION_MODE, calib.Sources{Procedure: proc, Store: store})
	if err != nil {
		println("calibration:", err.Error())
	}
	return rec
}

// forwardKeys moves buffered console bytes to the procedure.
func forwardKeys() {
	for serial.Buffered() > 0 {
		data, err := serial.ReadByte()
		if err != nil {
			return
		}
		select {
		case keys <- data:
		default:
		}
	}
}

// calibrate trims both endpoints with the output held, then stores and
// activates the result.
func calibrate(in *loop.Instrument, latch *output.Latch, store *calib.Store) {
	defer calibrating.Store(false)

	in.Hold(true)
	defer in.Hold(false)

	proc := &calib.Procedure{
		Output:   latch,
		Keys:     keys,
		Defaults: calib.DefaultRecord(),
		Top:      output.DefaultTop,
		Logf:     logf,
	}
	ctx := context.Background()
	rec, err := proc.Run(ctx)
	if err != nil {
		logf("Calibration failed, keeping the active record: %v", err)
		return
	}
	if err := in.SetRecord(rec); err != nil {
		logf("Calibration rejected: %v", err)
		return
	}
	if err := store.Save(ctx, rec); err != nil {
		logf("Calibration not saved: %v", err)
	}
	logf("Calibration active: 4 mA = %d, 20 mA = %d", rec.Code4mA, rec.Code20mA)
}

func logf(format string, args ...any) {
	print(fmt.Sprintf(format, args...))
	print("\n")
}

// must halts with a message; the watchdog is not armed so the board stays
// up for the console.
func must(what string, err error) {
	if err == nil {
		return
	}
	for {
		println(what+":", err.Error())
		time.Sleep(time.Second)
	}
}
