// Package sensor connects the host tools to a load cell source: the firmware
// over a serial link, or a mock that runs the ADC driver against a simulated chip.
package sensor

// Device is a load cell sample source (real or mocked).
type Device interface {
	Connect() error
	Close() error
	Samples() <-chan RawSample
	SetHighPrecision(enable bool) error
	SetXYEndstop(enable bool) error
	IsConnected() bool
}

var (
	_ Device = (*Serial)(nil)
	_ Device = (*Mock)(nil)
)
