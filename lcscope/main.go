package main

import (
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/loadcell"
	"github.com/itohio/gobuddy/pkg/logger"
	"github.com/itohio/gobuddy/pkg/sample"
	"github.com/itohio/gobuddy/pkg/scope"
	"github.com/itohio/gobuddy/pkg/sensor"
	"github.com/itohio/gobuddy/pkg/trace"
	"go.uber.org/zap"
)

// updateInterval throttles scope redraws to about 60 FPS.
const updateInterval = 16 * time.Millisecond

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyACM0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use the simulated sensor instead of the serial port")
	)
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}

	application := app.NewWithID("com.itohio.lcscope")
	window := application.NewWindow("Load Cell Scope")
	window.Resize(fyne.NewSize(1200, 800))
	window.CenterOnScreen()

	state := &appState{
		cfg:        cfg,
		configPath: *configFlag,
		log:        logger.Named("lcscope"),
		loadcell:   loadcell.New(&cfg.Loadcell),
		trace:      trace.New(&cfg.Trace),
		window:     window,
		useMock:    *mockFlag,
	}
	state.scopeWidget = scope.New(cfg)
	state.status = widget.NewLabel("disconnected")

	// Registered once; the trace outlives every chain.
	state.trace.OnUpdate(state.onTraceUpdate)

	content := container.NewBorder(createToolbar(state), state.status, nil, nil, state.scopeWidget)
	window.SetContent(content)
	window.SetOnClosed(func() { closeChain(state.chain) })
	window.ShowAndRun()
}

// chain tracks the components of the sample pipeline for graceful shutdown.
type chain struct {
	device     sensor.Device
	samples    <-chan sample.Sample
	traceDone  chan struct{} // closed when the trace goroutine exits
	rawSamples <-chan sensor.RawSample
}

// appState holds the application state.
type appState struct {
	cfg         *config.Config
	configPath  string
	log         *zap.SugaredLogger
	loadcell    *loadcell.Loadcell
	trace       *trace.Trace
	scopeWidget *scope.ScopeWidget
	window      fyne.Window
	status      *widget.Label
	buttons     toolbarButtons
	useMock     bool
	chain       *chain

	lastUpdateTime time.Time
	updateMu       sync.Mutex
}

func (s *appState) connected() bool {
	return s.chain != nil && s.chain.device.IsConnected()
}

// onTraceUpdate runs on the trace goroutine.
func (s *appState) onTraceUpdate(samples []sample.Sample, spans []trace.Span) {
	s.updateMu.Lock()
	now := time.Now()
	if now.Sub(s.lastUpdateTime) < updateInterval {
		s.updateMu.Unlock()
		return
	}
	s.lastUpdateTime = now
	s.updateMu.Unlock()

	status := s.statusText()
	fyne.Do(func() {
		s.scopeWidget.UpdateData(samples, spans)
		s.status.SetText(status)
	})
}

func (s *appState) statusText() string {
	if err := s.loadcell.Err(); err != nil {
		return err.Error()
	}
	counts := s.trace.Counts()
	return fmt.Sprintf("load %.1fg  z %.1fg  xy %.1fg  offset %d  interval %.1fµs  samples %d  filament %d  lost %d",
		s.loadcell.TaredZLoad(), s.loadcell.FilteredZLoad(), s.loadcell.FilteredXYLoad(),
		s.loadcell.Offset(), s.loadcell.SamplingInterval(),
		counts.Loadcell, counts.Filament, counts.Undefined)
}

// closeChain closes the device and waits for the pipeline to drain.
func closeChain(c *chain) {
	if c == nil {
		return
	}
	if err := c.device.Close(); err != nil {
		logger.Named("lcscope").Warnw("close failed", "error", err)
	}
	<-c.traceDone
}

// handleConnect toggles the connection.
func handleConnect(state *appState) {
	if state.connected() {
		closeChain(state.chain)
		state.chain = nil
		state.buttons.setConnected(false)
		state.status.SetText("disconnected")
		return
	}

	var device sensor.Device
	if state.useMock {
		device = sensor.NewMock(state.cfg)
	} else {
		device = sensor.New(&state.cfg.Serial, 0)
	}
	if err := device.Connect(); err != nil {
		dialog.ShowError(fmt.Errorf("failed to connect to %s: %w", state.cfg.Serial.Port, err), state.window)
		return
	}

	state.trace.ResetShutdown()
	state.loadcell.Clear()

	raw := device.Samples()
	samples := sample.NewConverter(state.loadcell, 0)(raw)
	traceDone := make(chan struct{})
	go func() {
		defer close(traceDone)
		state.trace.ProcessSamples(samples)
	}()

	state.chain = &chain{
		device:     device,
		rawSamples: raw,
		samples:    samples,
		traceDone:  traceDone,
	}
	state.buttons.setConnected(true)
	state.applyModes()
}

// applyModes pushes the toolbar switches to a freshly connected device.
func (s *appState) applyModes() {
	if err := s.chain.device.SetHighPrecision(s.loadcell.HighPrecisionEnabled()); err != nil {
		s.log.Warnw("high precision", "error", err)
	}
	if err := s.chain.device.SetXYEndstop(s.loadcell.XYEndstopEnabled()); err != nil {
		s.log.Warnw("xy endstop", "error", err)
	}
}
