package main

import (
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/itohio/gobuddy/pkg/loadcell"
	"github.com/itohio/gobuddy/pkg/sensor"
	"github.com/itohio/gobuddy/pkg/trace"
)

// showSettingsDialog displays a settings dialog with tabs for all configuration options.
func showSettingsDialog(state *appState) {
	tabs := container.NewAppTabs(
		createSerialTab(state),
		createLoadcellTab(state),
		createTraceTab(state),
		createMockTab(state),
	)

	content := container.NewBorder(nil, nil, nil, nil, tabs)
	content.Resize(fyne.NewSize(600, 500))

	d := dialog.NewCustom("Settings", "Close", content, state.window)
	d.Resize(fyne.NewSize(600, 500))
	d.Show()
}

// save validates and writes the configuration.
func (s *appState) save() bool {
	if err := s.cfg.Validate(); err != nil {
		dialog.ShowError(err, s.window)
		return false
	}
	if err := s.cfg.Save(s.configPath); err != nil {
		dialog.ShowError(fmt.Errorf("failed to save config: %w", err), s.window)
		return false
	}
	return true
}

func floatEntry(v float64, format string) *widget.Entry {
	e := widget.NewEntry()
	e.SetText(fmt.Sprintf(format, v))
	return e
}

func parseFloat(e *widget.Entry, dst *float64) {
	if v, err := strconv.ParseFloat(e.Text, 64); err == nil {
		*dst = v
	}
}

func parseDuration(e *widget.Entry, dst *time.Duration) {
	if v, err := time.ParseDuration(e.Text); err == nil {
		*dst = v
	}
}

// createSerialTab creates the Serial configuration tab.
func createSerialTab(state *appState) *container.TabItem {
	ports, err := sensor.Ports()
	options := []string{}
	if err == nil {
		for _, port := range ports {
			options = append(options, port.Name)
		}
	} else {
		state.log.Warnw("list ports", "error", err)
	}

	current := state.cfg.Serial.Port
	found := false
	for _, opt := range options {
		if opt == current {
			found = true
			break
		}
	}
	if !found && current != "" {
		options = append(options, current)
	}

	portSelect := widget.NewSelect(options, nil)
	if current != "" {
		portSelect.SetSelected(current)
	}
	baudEntry := widget.NewEntry()
	baudEntry.SetText(strconv.Itoa(state.cfg.Serial.Baud))

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Serial Port", Widget: portSelect},
			{Text: "Baud", Widget: baudEntry},
		},
		OnSubmit: func() {
			changed := false
			if portSelect.Selected != "" && portSelect.Selected != state.cfg.Serial.Port {
				state.cfg.Serial.Port = portSelect.Selected
				changed = true
			}
			if baud, err := strconv.Atoi(baudEntry.Text); err == nil && baud != state.cfg.Serial.Baud {
				state.cfg.Serial.Baud = baud
				changed = true
			}
			if !state.save() {
				return
			}

			// Reconnect with the new port settings.
			if changed && state.connected() && !state.useMock {
				handleConnect(state)
				handleConnect(state)
			}
		},
	}

	return container.NewTabItem("Serial", form)
}

// createLoadcellTab edits calibration and endstop thresholds. Changes apply immediately.
func createLoadcellTab(state *appState) *container.TabItem {
	c := &state.cfg.Loadcell
	scaleEntry := floatEntry(c.Scale, "%.6f")
	staticEntry := floatEntry(c.ThresholdStatic, "%.1f")
	continuousEntry := floatEntry(c.ThresholdContinuous, "%.1f")
	hysteresisEntry := floatEntry(c.Hysteresis, "%.1f")
	tareTimeoutEntry := widget.NewEntry()
	tareTimeoutEntry.SetText(c.TareTimeout.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Scale (g/count)", Widget: scaleEntry},
			{Text: "Static threshold (g)", Widget: staticEntry},
			{Text: "Continuous threshold (g)", Widget: continuousEntry},
			{Text: "Hysteresis (g)", Widget: hysteresisEntry},
			{Text: "Tare timeout", Widget: tareTimeoutEntry},
		},
		OnSubmit: func() {
			parseFloat(scaleEntry, &c.Scale)
			parseFloat(staticEntry, &c.ThresholdStatic)
			parseFloat(continuousEntry, &c.ThresholdContinuous)
			parseFloat(hysteresisEntry, &c.Hysteresis)
			parseDuration(tareTimeoutEntry, &c.TareTimeout)
			if !state.save() {
				return
			}

			lc := state.loadcell
			lc.SetScale(float32(c.Scale))
			lc.SetThreshold(loadcell.TareStatic, float32(c.ThresholdStatic))
			lc.SetThreshold(loadcell.TareContinuous, float32(c.ThresholdContinuous))
			lc.SetHysteresis(float32(c.Hysteresis))
		},
	}

	return container.NewTabItem("Load cell", form)
}

// createTraceTab edits the history window. A new trace is started on submit.
func createTraceTab(state *appState) *container.TabItem {
	c := &state.cfg.Trace
	windowEntry := floatEntry(c.WindowSeconds, "%.1f")
	minTriggerEntry := floatEntry(c.MinTriggerDuration, "%.3f")

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Window (seconds)", Widget: windowEntry},
			{Text: "Min trigger duration (s)", Widget: minTriggerEntry},
		},
		OnSubmit: func() {
			parseFloat(windowEntry, &c.WindowSeconds)
			parseFloat(minTriggerEntry, &c.MinTriggerDuration)
			if !state.save() {
				return
			}
			if state.connected() {
				dialog.ShowInformation("Trace", "Reconnect to apply the new window.", state.window)
				return
			}
			state.trace = trace.New(c)
			state.trace.OnUpdate(state.onTraceUpdate)
		},
	}

	return container.NewTabItem("Trace", form)
}

// createMockTab creates the Mock device configuration tab.
func createMockTab(state *appState) *container.TabItem {
	c := &state.cfg.Mock
	offsetEntry := widget.NewEntry()
	offsetEntry.SetText(strconv.Itoa(int(c.Offset)))
	noiseEntry := floatEntry(c.Noise, "%.1f")
	pressLoadEntry := floatEntry(c.PressLoad, "%.1f")
	pressDurationEntry := widget.NewEntry()
	pressDurationEntry.SetText(c.PressDuration.String())
	pressPeriodEntry := widget.NewEntry()
	pressPeriodEntry.SetText(c.PressPeriod.String())

	form := &widget.Form{
		Items: []*widget.FormItem{
			{Text: "Offset (counts)", Widget: offsetEntry},
			{Text: "Noise (counts)", Widget: noiseEntry},
			{Text: "Press load (g)", Widget: pressLoadEntry},
			{Text: "Press duration", Widget: pressDurationEntry},
			{Text: "Press period", Widget: pressPeriodEntry},
		},
		OnSubmit: func() {
			if v, err := strconv.ParseInt(offsetEntry.Text, 10, 32); err == nil {
				c.Offset = int32(v)
			}
			parseFloat(noiseEntry, &c.Noise)
			parseFloat(pressLoadEntry, &c.PressLoad)
			parseDuration(pressDurationEntry, &c.PressDuration)
			parseDuration(pressPeriodEntry, &c.PressPeriod)
			state.save()
		},
	}

	return container.NewTabItem("Mock", form)
}
