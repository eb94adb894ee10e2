package main

import (
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/itohio/tcloop/pkg/config"
	"github.com/itohio/tcloop/pkg/link"
	"github.com/itohio/tcloop/pkg/scope"
	"github.com/itohio/tcloop/pkg/trend"
)

func main() {
	var (
		portFlag           = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag         = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag           = flag.Bool("mock", false, "Use simulated transmitter instead of serial port")
		averageSamplesFlag = flag.Int("average-samples", -1, "Number of samples to average (0 = disabled, overrides config)")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *averageSamplesFlag >= 0 {
		cfg.Trend.AverageSamples = *averageSamplesFlag
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	application := app.NewWithID("com.itohio.tcmon")

	window := application.NewWindow("Thermocouple Transmitter")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		history:    trend.New(cfg.Trend.Window, cfg.Trend.RateLimit),
		window:     window,
		useMock:    *mockFlag,
	}
	state.history.OnUpdate(state.onUpdate)

	toolbar := createToolbar(state)

	state.scopeWidget = scope.New(cfg.Trend.Window, cfg.Trend.MaxPoints)

	state.status = widget.NewLabel("Disconnected")
	state.status.Truncation = fyne.TextTruncateEllipsis

	window.SetContent(container.NewBorder(
		toolbar,
		state.status,
		nil,
		nil,
		state.scopeWidget,
	))
	window.SetOnClosed(func() {
		closeMeasurementChain(state.chain)
	})
	window.ShowAndRun()
}

// measurementChain tracks the goroutines fed by one connection.
type measurementChain struct {
	device       link.Device
	trendDone    chan struct{} // closed when the trend goroutine exits
	messagesDone chan struct{} // closed when the console goroutine exits
}

// appState holds the application state.
type appState struct {
	cfg         *config.Config
	configPath  string
	device      link.Device
	history     *trend.Trend
	scopeWidget *scope.ScopeWidget
	status      *widget.Label
	window      fyne.Window
	connectBtn  *widget.Button
	calibration calibrationButtons
	useMock     bool
	chain       *measurementChain

	lastUpdateTime time.Time
	updateMu       sync.Mutex
}

// createToolbar creates the toolbar with connect, settings and calibration
// controls.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	state.connectBtn = connectBtn

	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})

	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(connectBtn, settingsBtn),
		createCalibrationButtons(state),
		nil,
	)
}

// onUpdate pushes trend buffers to the scope at most every 16 ms.
func (state *appState) onUpdate(samples []trend.Sample, rates []float64, excursions []trend.Excursion) {
	const updateInterval = 16 * time.Millisecond

	state.updateMu.Lock()
	now := time.Now()
	if now.Sub(state.lastUpdateTime) < updateInterval {
		state.updateMu.Unlock()
		return
	}
	state.lastUpdateTime = now
	state.updateMu.Unlock()

	updateHeldFromSamples(state, samples)
	fyne.Do(func() {
		state.scopeWidget.UpdateData(samples, rates, excursions)
	})
}

// closeMeasurementChain closes the device and waits for its consumers to
// drain.
func closeMeasurementChain(chain *measurementChain) {
	if chain == nil {
		return
	}
	if chain.device != nil {
		if err := chain.device.Close(); err != nil {
			log.Printf("close device: %v", err)
		}
	}
	if chain.trendDone != nil {
		<-chain.trendDone
	}
	if chain.messagesDone != nil {
		<-chain.messagesDone
	}
}

func newDevice(state *appState) link.Device {
	if state.useMock {
		return link.NewMock(state.cfg)
	}
	return link.New(state.cfg.Serial.Port, state.cfg.Serial.Baud, link.DefaultBufferSize)
}

// handleConnect toggles the connection.
func handleConnect(state *appState) {
	if state.device != nil && state.device.IsConnected() {
		closeMeasurementChain(state.chain)
		state.chain = nil
		state.device = nil
		state.calibration.disable()
		state.status.SetText("Disconnected")
		return
	}

	device := newDevice(state)
	if err := device.Connect(); err != nil {
		target := state.cfg.Serial.Port
		if state.useMock {
			target = "simulated transmitter"
		}
		dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", target, err), state.window)
		return
	}
	state.device = device
	if state.useMock {
		state.status.SetText("Connected to simulated transmitter")
	} else {
		state.status.SetText("Connected to " + state.cfg.Serial.Port)
	}
	state.calibration.enable()

	state.history.Reset()
	state.history.ResetShutdown()

	span := state.cfg.Span()
	convert := trend.NewConverter(span, 500)
	if n := state.cfg.Trend.AverageSamples; n > 0 {
		convert = trend.NewAveragingConverter(span, n, 500)
	}
	samples := convert(device.Frames())

	trendDone := make(chan struct{})
	go func() {
		defer close(trendDone)
		state.history.ProcessSamples(samples)
	}()

	messagesDone := make(chan struct{})
	go func() {
		defer close(messagesDone)
		for msg := range device.Messages() {
			fyne.Do(func() {
				state.status.SetText(msg)
			})
		}
	}()

	state.chain = &measurementChain{
		device:       device,
		trendDone:    trendDone,
		messagesDone: messagesDone,
	}
}
