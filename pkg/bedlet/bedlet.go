// Package bedlet is the register contract of the modular heated bed. The bed
// has BedletCount independently heated zones; each register block holds one
// 16-bit value per zone and is always transferred whole.
package bedlet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	BedletCount = 16
	// Grid size of the bed.
	MaxX = 4
	MaxY = 4

	// TemperatureScale converts °C to register units (0.1 °C).
	TemperatureScale = 10
)

// Register block addresses.
const (
	MeasuredTempAddr    uint16 = 0x8000 // input registers, 0.1 °C
	FaultStatusAddr     uint16 = 0x8010 // input registers, Fault bits
	MeasuredCurrentAddr uint16 = 0x8020 // input registers, mA
	TargetTempAddr      uint16 = 0xA000 // holding registers, 0.1 °C
)

var ErrShortRead = errors.New("bedlet: short register block")

// Block is one register value per bedlet.
type Block [BedletCount]uint16

// Encode returns the block in Modbus byte order.
func (b *Block) Encode() []byte {
	out := make([]byte, 2*BedletCount)
	for i, v := range b {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}

// DecodeBlock parses a block in Modbus byte order.
func DecodeBlock(data []byte) (Block, error) {
	var b Block
	if len(data) < 2*BedletCount {
		return b, fmt.Errorf("%w: %d bytes", ErrShortRead, len(data))
	}
	for i := range b {
		b[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return b, nil
}

// Celsius returns slot i of a temperature block in °C.
func (b *Block) Celsius(i int) float64 { return float64(b[i]) / TemperatureScale }

// SetCelsius stores a temperature in slot i, clamped to the register range.
func (b *Block) SetCelsius(i int, c float64) {
	b[i] = uint16(min(max(c*TemperatureScale+0.5, 0), 0xFFFF))
}

// Index maps a bed grid position to its bedlet slot. Column 0 is left, row 0 is the back.
func Index(column, row int) int {
	if column < 0 || column >= MaxX || row < 0 || row >= MaxY {
		panic(fmt.Sprintf("bedlet: position %d,%d outside the %dx%d grid", column, row, MaxX, MaxY))
	}
	board := [MaxY][MaxX]int{
		{7, 8, 9, 10},
		{6, 5, 12, 11},
		{3, 4, 13, 14},
		{2, 1, 16, 15},
	}
	return board[row][column] - 1
}

// Fault is the per-bedlet fault status.
type Fault uint16

const (
	HeaterDisconnected Fault = 1 << iota
	HeaterShortCircuit
	TemperatureBelowMinimum
	TemperatureAboveMaximum
	TemperatureDropDetected
	TemperaturePeakDetected
	PreheatError
	TestHeatingError
)

var faultNames = []string{
	"heater-disconnected",
	"heater-short-circuit",
	"temperature-below-minimum",
	"temperature-above-maximum",
	"temperature-drop",
	"temperature-peak",
	"preheat",
	"test-heating",
}

func (f Fault) String() string {
	if f == 0 {
		return "ok"
	}
	var names []string
	for i, name := range faultNames {
		if f&(1<<i) != 0 {
			names = append(names, name)
			f &^= 1 << i
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint16(f)))
	}
	return strings.Join(names, "|")
}

// Faults converts a fault status block.
func Faults(b Block) [BedletCount]Fault {
	var out [BedletCount]Fault
	for i, v := range b {
		out[i] = Fault(v)
	}
	return out
}

// Client transfers whole register blocks to and from the bed.
type Client interface {
	WriteTargets(targets Block) error
	ReadTargets() (Block, error)
	ReadMeasured() (Block, error)
	ReadFaults() ([BedletCount]Fault, error)
	ReadCurrents() (Block, error)
	Close() error
}
