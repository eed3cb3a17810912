package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/logger"
	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate is the firmware UART rate.
	DefaultBaudRate = 115200
	// DefaultBufferSize is the default size for the samples channel buffer.
	DefaultBufferSize = 1024
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial is the bench link to the firmware.
type Serial struct {
	port     string
	baudRate int
	bufSize  int
	log      *zap.SugaredLogger

	conn      io.ReadWriteCloser
	samples   chan RawSample
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	readErr   error
	connected bool
	dropped   int
}

// New creates a serial device for cfg. A zero buffer size selects DefaultBufferSize.
func New(cfg *config.SerialConfig, bufSize int) *Serial {
	baudRate := cfg.Baud
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Serial{
		port:     cfg.Port,
		baudRate: baudRate,
		bufSize:  bufSize,
		log:      logger.Named("sensor"),
		samples:  make(chan RawSample),
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port and starts reading samples.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	d.start(port)
	d.log.Infow("connected", "port", d.port, "baud", d.baudRate)
	return nil
}

// start runs the reader over conn. The caller holds mu.
func (d *Serial) start(conn io.ReadWriteCloser) {
	ctx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.cancel = cancel
	d.done = make(chan struct{})
	d.samples = make(chan RawSample, d.bufSize)
	d.readErr = nil
	d.connected = true
	go d.readSamples(ctx, conn, d.samples, d.done)
}

// Close closes the port, stops the reader and closes the samples channel.
// Errors from the port and from the reader are both reported.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}

	d.cancel()
	err := d.conn.Close()
	<-d.done
	err = multierr.Append(err, d.readErr)

	d.conn = nil
	d.connected = false
	d.log.Infow("disconnected", "port", d.port, "dropped", d.dropped)
	return err
}

// Samples returns the channel of the current connection.
func (d *Serial) Samples() <-chan RawSample {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.samples
}

// SetHighPrecision switches the firmware to load cell only sampling.
func (d *Serial) SetHighPrecision(enable bool) error {
	return d.send(highPrecisionCommand(enable))
}

// SetXYEndstop forwards the XY endstop switch to the firmware.
func (d *Serial) SetXYEndstop(enable bool) error {
	return d.send(xyEndstopCommand(enable))
}

func (d *Serial) send(cmd string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.connected {
		return ErrNotConnected
	}
	if _, err := io.WriteString(d.conn, cmd); err != nil {
		return fmt.Errorf("failed to send command %q: %w", strings.TrimSpace(cmd), err)
	}
	return nil
}

// IsConnected returns whether the device is currently connected.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected
}

// readSamples parses lines from r until it fails or ctx is canceled. It owns
// out and closes it on return.
func (d *Serial) readSamples(ctx context.Context, r io.Reader, out chan<- RawSample, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sample, err := parseLine(line)
		if err != nil {
			d.log.Debugw("bad line", "line", line, "error", err)
			continue
		}
		sample.Received = time.Now()

		select {
		case out <- sample:
		case <-ctx.Done():
			return
		default:
			d.dropped++
			if d.dropped == 1 {
				d.log.Warnw("samples channel full, dropping samples")
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
		d.readErr = fmt.Errorf("failed to read from %s: %w", d.port, err)
		d.log.Errorw("read failed", "error", err)
	}
}
