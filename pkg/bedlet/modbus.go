package bedlet

import (
	"fmt"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/logger"
)

// Registers is the part of a Modbus client the bed needs.
type Registers interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

// ModbusClient talks to the bed over Modbus RTU.
type ModbusClient struct {
	regs    Registers
	handler *modbus.RTUClientHandler
	log     *zap.SugaredLogger
}

// Dial opens the serial port described by cfg.
func Dial(cfg *config.BedletConfig) (*ModbusClient, error) {
	h := modbus.NewRTUClientHandler(cfg.Port)
	h.BaudRate = cfg.Baud
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.SlaveId = byte(cfg.SlaveID)
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("failed to open bed port %s: %w", cfg.Port, err)
	}
	c := NewModbusClient(modbus.NewClient(h))
	c.handler = h
	c.log.Infow("connected", "port", cfg.Port, "slave", cfg.SlaveID)
	return c, nil
}

// NewModbusClient wraps an existing register client.
func NewModbusClient(regs Registers) *ModbusClient {
	return &ModbusClient{regs: regs, log: logger.Named("bedlet")}
}

func (c *ModbusClient) read(name string, address uint16, holding bool) (Block, error) {
	var (
		data []byte
		err  error
	)
	if holding {
		data, err = c.regs.ReadHoldingRegisters(address, BedletCount)
	} else {
		data, err = c.regs.ReadInputRegisters(address, BedletCount)
	}
	if err != nil {
		return Block{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	b, err := DecodeBlock(data)
	if err != nil {
		return Block{}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return b, nil
}

func (c *ModbusClient) WriteTargets(targets Block) error {
	if _, err := c.regs.WriteMultipleRegisters(TargetTempAddr, BedletCount, targets.Encode()); err != nil {
		return fmt.Errorf("failed to write targets: %w", err)
	}
	return nil
}

func (c *ModbusClient) ReadTargets() (Block, error) {
	return c.read("targets", TargetTempAddr, true)
}

func (c *ModbusClient) ReadMeasured() (Block, error) {
	return c.read("temperatures", MeasuredTempAddr, false)
}

func (c *ModbusClient) ReadFaults() ([BedletCount]Fault, error) {
	b, err := c.read("faults", FaultStatusAddr, false)
	if err != nil {
		return [BedletCount]Fault{}, err
	}
	faults := Faults(b)
	for i, f := range faults {
		if f != 0 {
			c.log.Warnw("bedlet fault", "bedlet", i, "fault", f.String())
		}
	}
	return faults, nil
}

func (c *ModbusClient) ReadCurrents() (Block, error) {
	return c.read("currents", MeasuredCurrentAddr, false)
}

func (c *ModbusClient) Close() error {
	if c.handler == nil {
		return nil
	}
	return c.handler.Close()
}
