package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/tcloop/pkg/link"
	"github.com/itohio/tcloop/pkg/trend"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createOutputTab(state),
		createTrendTab(state),
		createSimTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// saveConfig validates and writes the configuration.
func saveConfig(state *appState) bool {
	if err := state.cfg.Validate(); err != nil {
		dialog.ShowError(err, state.window)
		return false
	}
	if err := state.cfg.Save(state.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), state.window)
		return false
	}
	return true
}

// reconnect restarts a live measurement chain so new settings take effect.
func reconnect(state *appState) {
	if state.device == nil || !state.device.IsConnected() {
		return
	}
	handleConnect(state)
	handleConnect(state)
}

func createSerialTab(state *appState) *container.TabItem {
	ports, err := link.Ports()
	portOptions := []string{}
	portMap := make(map[string]string)

	if err == nil {
		for _, port := range ports {
			displayName := port.Name
			if port.Description != "" && port.Description != port.Name {
				displayName = fmt.Sprintf("%s (%s)", port.Name, port.Description)
			}
			portOptions = append(portOptions, displayName)
			portMap[displayName] = port.Name
		}
	}

	currentPort := state.cfg.Serial.Port
	currentDisplay := currentPort
	found := false
	for _, opt := range portOptions {
		if portMap[opt] == currentPort {
			currentDisplay = opt
			found = true
			break
		}
	}
	if !found && currentPort != "" {
		portOptions = append(portOptions, currentPort)
		portMap[currentPort] = currentPort
	}

	portSelect := widget.NewSelect(portOptions, nil)
	if currentDisplay != "" {
		portSelect.SetSelected(currentDisplay)
	}

	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.Baud))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud Rate", Widget: baudEntry},
		},
		OnSubmit: func() {
			changed := false
			if portSelect.Selected != "" {
				selected := portMap[portSelect.Selected]
				if selected == "" {
					selected = portSelect.Selected
				}
				changed = selected != state.cfg.Serial.Port
				state.cfg.Serial.Port = selected
			}
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil && baud != state.cfg.Serial.Baud {
				state.cfg.Serial.Baud = baud
				changed = true
			}
			if !saveConfig(state) {
				return
			}
			if changed && !state.useMock {
				reconnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

func createOutputTab(state *appState) *container.TabItem {
	lowEntry := widget.NewEntry()
	lowEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Output.LowCelsius))

	highEntry := widget.NewEntry()
	highEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Output.HighCelsius))

	clampCheck := widget.NewCheck("", nil)
	clampCheck.SetChecked(state.cfg.Output.ClampToSpan)

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Span Low (°C)", Widget: lowEntry},
			{Text: "Span High (°C)", Widget: highEntry},
			{Text: "Clamp to Span", Widget: clampCheck},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseFloat(lowEntry.Text, 64); err == nil {
				state.cfg.Output.LowCelsius = v
			}
			if v, err := strconv.ParseFloat(highEntry.Text, 64); err == nil {
				state.cfg.Output.HighCelsius = v
			}
			state.cfg.Output.ClampToSpan = clampCheck.Checked
			if saveConfig(state) {
				reconnect(state)
			}
		},
	}

	return container.NewTabItem("Output", form)
}

func createTrendTab(state *appState) *container.TabItem {
	windowEntry := widget.NewEntry()
	windowEntry.SetText(state.cfg.Trend.Window.String())

	averageEntry := widget.NewEntry()
	averageEntry.SetText(strconv.Itoa(state.cfg.Trend.AverageSamples))

	rateEntry := widget.NewEntry()
	rateEntry.SetText(fmt.Sprintf("%.2f", state.cfg.Trend.RateLimit))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Window", Widget: windowEntry},
			{Text: "Average Samples (0=disabled)", Widget: averageEntry},
			{Text: "Rate Limit (°C/s, 0=off)", Widget: rateEntry},
		},
		OnSubmit: func() {
			if d, err := time.ParseDuration(windowEntry.Text); err == nil {
				state.cfg.Trend.Window = d
			}
			if n, err := strconv.Atoi(averageEntry.Text); err == nil {
				state.cfg.Trend.AverageSamples = n
			}
			if r, err := strconv.ParseFloat(rateEntry.Text, 64); err == nil {
				state.cfg.Trend.RateLimit = r
			}
			if !saveConfig(state) {
				return
			}
			// The trend keeps its window, so swap it and rewire the chain.
			closeMeasurementChain(state.chain)
			state.chain = nil
			wasConnected := state.device != nil
			state.device = nil
			state.history = trend.New(state.cfg.Trend.Window, state.cfg.Trend.RateLimit)
			state.history.OnUpdate(state.onUpdate)
			if wasConnected {
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Trend", form)
}

func createSimTab(state *appState) *container.TabItem {
	processEntry := widget.NewEntry()
	processEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Sim.ProcessCelsius))

	ambientEntry := widget.NewEntry()
	ambientEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Sim.AmbientCelsius))

	rampEntry := widget.NewEntry()
	rampEntry.SetText(fmt.Sprintf("%.3f", state.cfg.Sim.RampCelsiusPerS))

	noiseEntry := widget.NewEntry()
	noiseEntry.SetText(fmt.Sprintf("%.1f", state.cfg.Sim.NoiseMicroV))

	disconnectEntry := widget.NewEntry()
	disconnectEntry.SetText(state.cfg.Sim.DisconnectAfter.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Process (°C)", Widget: processEntry},
			{Text: "Ambient (°C)", Widget: ambientEntry},
			{Text: "Ramp (°C/s)", Widget: rampEntry},
			{Text: "Noise (µV)", Widget: noiseEntry},
			{Text: "Disconnect After (0=never)", Widget: disconnectEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseFloat(processEntry.Text, 64); err == nil {
				state.cfg.Sim.ProcessCelsius = v
			}
			if v, err := strconv.ParseFloat(ambientEntry.Text, 64); err == nil {
				state.cfg.Sim.AmbientCelsius = v
			}
			if v, err := strconv.ParseFloat(rampEntry.Text, 64); err == nil {
				state.cfg.Sim.RampCelsiusPerS = v
			}
			if v, err := strconv.ParseFloat(noiseEntry.Text, 64); err == nil {
				state.cfg.Sim.NoiseMicroV = v
			}
			if d, err := time.ParseDuration(disconnectEntry.Text); err == nil {
				state.cfg.Sim.DisconnectAfter = d
			}
			if !saveConfig(state) {
				return
			}
			if m, ok := state.device.(*link.Mock); ok && m.IsConnected() {
				m.Rig().Converter.SetProcess(float32(state.cfg.Sim.ProcessCelsius))
				m.Rig().Converter.SetAmbient(float32(state.cfg.Sim.AmbientCelsius))
			}
		},
	}

	return container.NewTabItem("Simulator", form)
}
