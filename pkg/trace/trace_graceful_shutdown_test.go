package trace

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/itohio/gobuddy/pkg/sample"
	"github.com/stretchr/testify/assert"
)

// TestTrace_GracefulShutdown tests that no callbacks are sent after the input
// channel closes until ResetShutdown is called.
func TestTrace_GracefulShutdown(t *testing.T) {
	tr := New(testConfig())

	var calls atomic.Int32
	tr.OnUpdate(func([]sample.Sample, []Span) { calls.Add(1) })

	input := make(chan sample.Sample, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.ProcessSamples(input)
	}()

	input <- lc(0, 1, false)
	input <- lc(1, 2, false)
	close(input)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ProcessSamples did not return after input closed")
	}
	assert.Equal(t, int32(2), calls.Load())

	// A sample added directly after shutdown is recorded but not announced.
	assert.False(t, tr.add(lc(2, 3, false)))
	assert.Len(t, tr.Samples(), 3)

	tr.ResetShutdown()
	input2 := make(chan sample.Sample, 1)
	input2 <- lc(3, 4, false)
	close(input2)
	tr.ProcessSamples(input2)
	assert.Equal(t, int32(3), calls.Load())
}
