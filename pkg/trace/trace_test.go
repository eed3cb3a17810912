package trace

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/hx717"
	"github.com/itohio/gobuddy/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dt = 3125 * time.Microsecond

func testConfig() *config.TraceConfig {
	return &config.TraceConfig{WindowSeconds: 1, MinTriggerDuration: 0.01}
}

func lc(i int, load float32, endstop bool) sample.Sample {
	return sample.Sample{
		Time:    time.Duration(i) * dt,
		Channel: hx717.ChannelAGain128,
		Load:    load,
		Endstop: endstop,
	}
}

func TestNew(t *testing.T) {
	tr := New(testConfig())
	assert.Empty(t, tr.Samples())
	assert.Empty(t, tr.Spans())
	assert.NotEqual(t, uuid.Nil, tr.Session())
	assert.Equal(t, time.Second, tr.window)
	assert.Equal(t, 10*time.Millisecond, tr.minTrigger)
}

func TestAdd_CountsAndFilters(t *testing.T) {
	tr := New(testConfig())
	tr.add(lc(0, 1, false))
	tr.add(sample.Sample{Time: dt, Channel: hx717.ChannelBGain8, Raw: 2500})
	tr.add(sample.Sample{Time: 2 * dt, Channel: hx717.ChannelAGain128, Undefined: true})
	tr.add(lc(3, 2, false))

	assert.Equal(t, Counts{Loadcell: 2, Filament: 1, Undefined: 1}, tr.Counts())
	samples := tr.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, float32(2), samples[1].Load)
}

func TestAdd_WindowPrunes(t *testing.T) {
	tr := New(testConfig())
	for i := range 640 {
		tr.add(lc(i, float32(i), false))
	}
	samples := tr.Samples()
	// 1 s at 3.125 ms per sample.
	assert.Len(t, samples, 321)
	assert.Equal(t, 639*dt, samples[len(samples)-1].Time)
	assert.GreaterOrEqual(t, samples[0].Time, 639*dt-time.Second)
}

func TestSpans(t *testing.T) {
	tr := New(testConfig())
	i := 0
	push := func(n int, load float32, endstop bool) {
		for range n {
			tr.add(lc(i, load, endstop))
			i++
		}
	}

	push(10, 0, false)
	push(2, -150, true) // 3.1 ms, shorter than the minimum
	push(10, 0, false)
	push(20, -200, true)
	push(5, 0, false)

	spans := tr.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, 22*dt, spans[0].Start)
	assert.Equal(t, 41*dt, spans[0].End)
	assert.Equal(t, float32(200), spans[0].Peak)
	assert.False(t, spans[0].Open)
	assert.False(t, spans[0].XY)

	push(8, -300, true)
	spans = tr.Spans()
	require.Len(t, spans, 2)
	assert.True(t, spans[1].Open)
	assert.Equal(t, float32(300), spans[1].Peak)
	assert.Equal(t, 7*dt, spans[1].Duration())
}

func TestSpans_XY(t *testing.T) {
	tr := New(testConfig())
	for i := range 20 {
		s := lc(i, 0, false)
		s.XY = 55
		s.XYEndstop = i >= 5 && i < 15
		tr.add(s)
	}
	spans := tr.Spans()
	require.Len(t, spans, 1)
	assert.True(t, spans[0].XY)
	assert.Equal(t, float32(55), spans[0].Peak)
	assert.Equal(t, 9*dt, spans[0].Duration())
}

func TestSpans_PrunedWithWindow(t *testing.T) {
	tr := New(testConfig())
	for i := range 10 {
		tr.add(lc(i, -200, true))
	}
	for i := 10; i < 400; i++ {
		tr.add(lc(i, 0, false))
	}
	assert.Empty(t, tr.Spans())
}

func TestReset(t *testing.T) {
	tr := New(testConfig())
	first := tr.Session()
	for i := range 10 {
		tr.add(lc(i, -200, true))
	}
	tr.Reset()
	assert.NotEqual(t, first, tr.Session())
	assert.Empty(t, tr.Samples())
	assert.Empty(t, tr.Spans())
	assert.Equal(t, Counts{}, tr.Counts())
}

func TestWriteCSV(t *testing.T) {
	tr := New(testConfig())
	tr.add(lc(0, 1.5, false))
	tr.add(sample.Sample{Time: dt, Channel: hx717.ChannelAGain128, Raw: -7, Load: -130.25, Z: -2, XY: 1, Endstop: true})

	var buf bytes.Buffer
	require.NoError(t, tr.WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "# session "+tr.Session().String(), lines[0])
	assert.Equal(t, "time_s,raw,load_g,z_g,xy_g,endstop,xy_endstop", lines[1])
	assert.Equal(t, "0.000000,0,1.500,0.000,0.000,false,false", lines[2])
	assert.Equal(t, "0.003125,-7,-130.250,-2.000,1.000,true,false", lines[3])
}

func TestOnUpdate(t *testing.T) {
	tr := New(testConfig())

	var mu sync.Mutex
	calls := 0
	var last []sample.Sample
	tr.OnUpdate(func(samples []sample.Sample, spans []Span) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		last = samples
	})

	input := make(chan sample.Sample, 10)
	for i := range 3 {
		input <- lc(i, float32(i), false)
	}
	input <- sample.Sample{Time: 3 * dt, Channel: hx717.ChannelBGain8}
	close(input)
	tr.ProcessSamples(input)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls, "filament samples do not notify")
	assert.Len(t, last, 3)
}
