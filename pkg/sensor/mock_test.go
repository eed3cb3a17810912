package sensor

import (
	"testing"
	"time"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/hx717"
	"github.com/itohio/gobuddy/pkg/hxmux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietMock() *Mock {
	cfg := config.Default()
	cfg.Mock.Noise = 0
	return NewMock(cfg)
}

func collect(m *Mock, untilUs uint32) (loadcell, filament, undefined []RawSample) {
	m.Run(untilUs, func(s RawSample) {
		switch {
		case s.Undefined():
			undefined = append(undefined, s)
		case s.Channel == hxmux.LoadcellChannel:
			loadcell = append(loadcell, s)
		default:
			filament = append(filament, s)
		}
	})
	return
}

func TestMock_Load(t *testing.T) {
	m := quietMock()
	assert.Zero(t, m.Load(0))
	assert.InDelta(t, 400, m.Load(150*time.Millisecond), 1e-9)
	assert.InDelta(t, 400, m.Load(3150*time.Millisecond), 1e-9)
	assert.Zero(t, m.Load(time.Second))

	m.cfg.Mock.PressPeriod = 0
	assert.Zero(t, m.Load(150*time.Millisecond))
}

func TestMock_RunInterleavesChannels(t *testing.T) {
	m := quietMock()
	loadcell, filament, undefined := collect(m, 1_000_000)

	// The first conversion after power up is discarded.
	require.Len(t, undefined, 1)
	assert.Greater(t, len(loadcell), 250)
	assert.Greater(t, len(filament), 15)
	assert.Less(t, len(filament), 30)

	for _, s := range filament {
		assert.Equal(t, hx717.ChannelBGain8, s.Channel)
		assert.Equal(t, m.cfg.Mock.FilamentRaw, s.Raw)
	}
	for i := 1; i < len(loadcell); i++ {
		assert.Greater(t, loadcell[i].TimestampUs, loadcell[i-1].TimestampUs)
	}

	stats := m.Mux().Stats()
	assert.Equal(t, uint32(len(loadcell)), stats.Samples)
	assert.Equal(t, uint32(len(filament)), stats.Filament)
	assert.Equal(t, uint32(1), stats.Reinits)
}

func TestMock_PressLowersRaw(t *testing.T) {
	m := quietMock()
	loadcell, _, _ := collect(m, 1_000_000)

	offset := m.cfg.Mock.Offset
	minRaw := offset
	for _, s := range loadcell {
		if s.TimestampUs < 300_000 {
			minRaw = min(minRaw, s.Raw)
		} else {
			assert.Equal(t, offset, s.Raw, "no load outside the press at %d", s.TimestampUs)
		}
	}
	// 400 g at 0.0192 g/count is about 20833 counts.
	assert.InDelta(t, float64(offset-20833), float64(minRaw), 300)
}

func TestMock_SetLoad(t *testing.T) {
	m := quietMock()
	m.SetLoad(func(time.Duration) float64 { return 192 })

	lc, _, _ := collect(m, 100000)
	require.NotEmpty(t, lc)
	for _, s := range lc {
		assert.InDelta(t, 110000, s.Raw, 1)
	}

	m.SetLoad(nil)
	assert.InDelta(t, 400, m.load(150*time.Millisecond), 1e-9)
}

func TestMock_HighPrecisionSkipsFilament(t *testing.T) {
	m := quietMock()
	m.highPrecision.Store(true)
	loadcell, filament, _ := collect(m, 500_000)

	assert.Empty(t, filament)
	assert.Greater(t, len(loadcell), 150)
}

func TestMock_CommandsRequireConnection(t *testing.T) {
	m := quietMock()
	assert.ErrorIs(t, m.SetHighPrecision(true), ErrNotConnected)
	assert.ErrorIs(t, m.SetXYEndstop(true), ErrNotConnected)
	assert.NoError(t, m.Close())
}

func TestMock_GracefulShutdown(t *testing.T) {
	m := quietMock()
	require.NoError(t, m.Connect())
	assert.Error(t, m.Connect())
	require.NoError(t, m.SetHighPrecision(true))

	samples := m.Samples()
	received := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range samples {
			received++
			if received == 3 {
				_ = m.Close()
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("samples channel did not close within timeout")
	}

	assert.GreaterOrEqual(t, received, 3)
	assert.False(t, m.IsConnected())
	_, ok := <-samples
	assert.False(t, ok, "channel should be closed")
}
