//go:build rp2040

package main

import (
	"machine"

	"github.com/itohio/tcloop/pkg/calib"
)

const (
	// Converter: ADS1220 on SPI0, 24-bit codes shifted up to the 28-bit
	// scale the pipeline expects.
	PIN_ADC_SCK  = machine.GP2
	PIN_ADC_SDO  = machine.GP3 // MCU TX
	PIN_ADC_SDI  = machine.GP4 // MCU RX
	PIN_ADC_CS   = machine.GP5
	PIN_ADC_DRDY = machine.GP6

	ADC_SPI_FREQUENCY = 1_000_000
	ADC_CODE_SHIFT    = 4

	// Output: PWM into the loop driver filter.
	PIN_LOOP_PWM = machine.GP15 // slice 7, channel B

	// Status LED, on while the output is held for calibration.
	PIN_LED = machine.LED

	// Startup calibration source: ModeDefault, ModeInteractive or ModeStored.
	CALIBRATION_MODE = calib.ModeStored

	// Batch of conversions per channel per cycle
	BATCH_SIZE = 8

	// Output cycle frequency (Hz)
	OUTPUT_FREQUENCY_HZ = 240

	// Serial configuration
	// One frame is at most ~50 bytes: "unix_micros,tc_uV,rtd_mohm,temp_mC,duty,flags\n".
	// At ~20 cycles/s that is 1,000 bytes/s; 115200 baud gives >10x headroom.
	UART_BAUD_RATE = 115200
)
