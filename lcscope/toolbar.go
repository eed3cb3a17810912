package main

import (
	"context"
	"fmt"
	"io"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/gobuddy/pkg/loadcell"
	"github.com/itohio/gobuddy/pkg/scope"
	"go.uber.org/multierr"
)

// toolbarButtons are enabled only while connected.
type toolbarButtons struct {
	tare          *widget.Button
	tareDynamic   *widget.Button
	highPrecision *widget.Check
	xyEndstop     *widget.Check
}

func (b toolbarButtons) setConnected(connected bool) {
	for _, w := range []fyne.Disableable{b.tare, b.tareDynamic, b.highPrecision, b.xyEndstop} {
		if connected {
			w.Enable()
		} else {
			w.Disable()
		}
	}
}

// createToolbar creates the connect, settings, export, tare and mode controls.
func createToolbar(state *appState) fyne.CanvasObject {
	connectBtn := widget.NewButtonWithIcon("", theme.LoginIcon(), func() {
		handleConnect(state)
	})
	settingsBtn := widget.NewButtonWithIcon("", theme.SettingsIcon(), func() {
		showSettingsDialog(state)
	})
	exportBtn := widget.NewButtonWithIcon("", theme.DocumentSaveIcon(), func() {
		handleExport(state)
	})
	clearBtn := widget.NewButtonWithIcon("", theme.ContentClearIcon(), func() {
		state.trace.Reset()
		state.loadcell.Clear()
	})

	state.buttons = toolbarButtons{
		tare: widget.NewButton("Tare", func() {
			handleTare(state, loadcell.TareStatic)
		}),
		tareDynamic: widget.NewButton("Tare (continuous)", func() {
			handleTare(state, loadcell.TareContinuous)
		}),
		highPrecision: widget.NewCheck("High precision", func(on bool) {
			handleHighPrecision(state, on)
		}),
		xyEndstop: widget.NewCheck("XY endstop", func(on bool) {
			handleXYEndstop(state, on)
		}),
	}
	state.buttons.setConnected(false)

	channels := widget.NewCheckGroup([]string{"Load", "Z", "XY"}, func(selected []string) {
		var ch scope.Channels
		for _, name := range selected {
			switch name {
			case "Load":
				ch.Load = true
			case "Z":
				ch.Z = true
			case "XY":
				ch.XY = true
			}
		}
		state.scopeWidget.SetChannels(ch)
	})
	channels.Horizontal = true
	channels.SetSelected([]string{"Load", "Z"})

	b := state.buttons
	return container.NewBorder(
		nil,
		nil,
		container.NewHBox(connectBtn, settingsBtn, exportBtn, clearBtn, b.tare, b.tareDynamic),
		container.NewHBox(b.highPrecision, b.xyEndstop, channels),
		nil,
	)
}

// handleTare runs a tare off the UI goroutine and reports failures.
func handleTare(state *appState, mode loadcell.TareMode) {
	go func() {
		timeout := state.cfg.Loadcell.TareTimeout
		ctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
		defer cancel()
		offset, err := state.loadcell.Tare(ctx, mode)
		if err != nil {
			fyne.Do(func() {
				dialog.ShowError(err, state.window)
			})
			return
		}
		state.log.Infow("tare", "mode", mode.String(), "offset", offset)
	}()
}

func handleHighPrecision(state *appState, on bool) {
	if on == state.loadcell.HighPrecisionEnabled() {
		return
	}
	if on {
		state.loadcell.EnableHighPrecision()
	} else {
		state.loadcell.DisableHighPrecision()
	}
	if state.connected() {
		if err := state.chain.device.SetHighPrecision(on); err != nil {
			dialog.ShowError(fmt.Errorf("failed to switch high precision: %w", err), state.window)
		}
	}
}

func handleXYEndstop(state *appState, on bool) {
	state.loadcell.EnableXYEndstop(on)
	if state.connected() {
		if err := state.chain.device.SetXYEndstop(on); err != nil {
			dialog.ShowError(fmt.Errorf("failed to switch XY endstop: %w", err), state.window)
		}
	}
}

// handleExport saves the current window as CSV.
func handleExport(state *appState) {
	save := dialog.NewFileSave(func(w fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, state.window)
			return
		}
		if w == nil {
			return
		}
		if err := writeAndClose(w, state.trace.WriteCSV); err != nil {
			dialog.ShowError(fmt.Errorf("failed to export: %w", err), state.window)
		}
	}, state.window)
	save.SetFileName(fmt.Sprintf("loadcell-%s.csv", state.trace.Session()))
	save.Show()
}

func writeAndClose(w io.WriteCloser, write func(io.Writer) error) error {
	return multierr.Append(write(w), w.Close())
}
