package main

import (
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/tcloop/pkg/calib"
	"github.com/itohio/tcloop/pkg/loop"
	"github.com/itohio/tcloop/pkg/trend"
)

// calibrationButtons drive the transmitter's two-point procedure.
type calibrationButtons struct {
	start *widget.Button
	more  *widget.Button
	less  *widget.Button
	latch *widget.Button
	held  bool
}

func createCalibrationButtons(state *appState) fyne.CanvasObject {
	b := &state.calibration
	b.start = widget.NewButtonWithIcon("Calibrate", theme.SettingsIcon(), func() {
		sendKey(state, calib.KeyCalibrate)
	})
	b.more = widget.NewButtonWithIcon("", theme.MoveUpIcon(), func() {
		sendKey(state, calib.KeyMoreCurrent)
	})
	b.less = widget.NewButtonWithIcon("", theme.MoveDownIcon(), func() {
		sendKey(state, calib.KeyLessCurrent)
	})
	b.latch = widget.NewButtonWithIcon("", theme.ConfirmIcon(), func() {
		sendKey(state, '\r')
	})
	b.disable()
	return container.NewHBox(b.start, b.more, b.less, b.latch)
}

func (b *calibrationButtons) enable() {
	b.start.Enable()
	b.more.Enable()
	b.less.Enable()
	b.latch.Enable()
}

func (b *calibrationButtons) disable() {
	b.start.Disable()
	b.more.Disable()
	b.less.Disable()
	b.latch.Disable()
	b.setHeld(false)
}

// setHeld highlights the calibrate button while the output is held.
func (b *calibrationButtons) setHeld(held bool) {
	if b.held == held {
		return
	}
	b.held = held
	if held {
		b.start.Importance = widget.HighImportance
	} else {
		b.start.Importance = widget.MediumImportance
	}
	b.start.Refresh()
}

func sendKey(state *appState, key byte) {
	if state.device == nil || !state.device.IsConnected() {
		return
	}
	if err := state.device.SendKey(key); err != nil {
		dialog.ShowError(fmt.Errorf("failed to send %q: %w", key, err), state.window)
	}
}

// updateHeldFromSamples tracks the held flag of the newest sample.
func updateHeldFromSamples(state *appState, samples []trend.Sample) {
	if len(samples) == 0 {
		return
	}
	held := samples[len(samples)-1].Flags&loop.FlagHeld != 0
	fyne.Do(func() {
		state.calibration.setHeld(held)
	})
}
