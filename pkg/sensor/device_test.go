package sensor

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn feeds the reader from a pipe and records writes.
type pipeConn struct {
	*io.PipeReader
	mu      sync.Mutex
	written bytes.Buffer
}

func (c *pipeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.Write(p)
}

func (c *pipeConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

func newPipeSerial(t *testing.T) (*Serial, *pipeConn, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	conn := &pipeConn{PipeReader: pr}
	d := New(&config.SerialConfig{Port: "test"}, 16)
	d.mu.Lock()
	d.start(conn)
	d.mu.Unlock()
	return d, conn, pw
}

func TestNew_Defaults(t *testing.T) {
	d := New(&config.SerialConfig{Port: "/dev/null"}, 0)
	assert.Equal(t, DefaultBaudRate, d.baudRate)
	assert.Equal(t, DefaultBufferSize, d.bufSize)
	assert.False(t, d.IsConnected())
	assert.NoError(t, d.Close())
}

func TestSerial_CommandsRequireConnection(t *testing.T) {
	d := New(&config.SerialConfig{Port: "/dev/null"}, 0)
	assert.ErrorIs(t, d.SetHighPrecision(true), ErrNotConnected)
	assert.ErrorIs(t, d.SetXYEndstop(true), ErrNotConnected)
}

func TestSerial_ReadsSamples(t *testing.T) {
	d, conn, pw := newPipeSerial(t)
	samples := d.Samples()

	go func() {
		_, _ = io.WriteString(pw, "# hx717 ready\n\n100,1,-5\ngarbage\n200,2,2500\n300,1,-2147483648\n")
	}()

	var got []RawSample
	for len(got) < 3 {
		select {
		case s := <-samples:
			got = append(got, s)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for samples")
		}
	}
	assert.Equal(t, uint32(100), got[0].TimestampUs)
	assert.Equal(t, int32(-5), got[0].Raw)
	assert.False(t, got[0].Received.IsZero())
	assert.Equal(t, int32(2500), got[1].Raw)
	assert.True(t, got[2].Undefined())

	require.NoError(t, d.SetHighPrecision(true))
	require.NoError(t, d.SetXYEndstop(false))
	assert.Equal(t, "P1\nX0\n", conn.Written())

	require.NoError(t, d.Close())
	_, ok := <-samples
	assert.False(t, ok, "samples channel should be closed")
	assert.False(t, d.IsConnected())
	assert.ErrorIs(t, d.SetHighPrecision(false), ErrNotConnected)
}

func TestSerial_ReaderEOF(t *testing.T) {
	d, _, pw := newPipeSerial(t)
	samples := d.Samples()

	go func() {
		_, _ = io.WriteString(pw, "1,1,1\n")
		_ = pw.Close()
	}()

	count := 0
	for range samples {
		count++
	}
	assert.Equal(t, 1, count)
	assert.NoError(t, d.Close())
}
