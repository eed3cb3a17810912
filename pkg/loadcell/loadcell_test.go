package loadcell

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/gobuddy/pkg/config"
	"github.com/itohio/gobuddy/pkg/hx717"
)

func newTestLoadcell() *Loadcell {
	cfg := config.Default()
	return New(&cfg.Loadcell)
}

// feed runs the sample path in the background until the returned stop is called.
func feed(l *Loadcell, raw func(i int) int32) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			l.ProcessSample(raw(i), uint32(i)*3125)
			time.Sleep(50 * time.Microsecond)
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func TestTare_StaticZeroesConstantLoad(t *testing.T) {
	for _, raw := range []int32{0, 120000, -45000, 8000000} {
		l := newTestLoadcell()
		stop := feed(l, func(int) int32 { return raw })

		offset, err := l.Tare(context.Background(), TareStatic)
		require.NoError(t, err)
		assert.Equal(t, float32(raw), offset)
		assert.Equal(t, raw, l.Offset())
		require.Eventually(t, func() bool { return l.TaredZLoad() == 0 }, time.Second, time.Millisecond)
		stop()

		assert.False(t, l.Endstop())
	}
}

func TestTare_Continuous(t *testing.T) {
	l := newTestLoadcell()
	stop := feed(l, func(i int) int32 { return 50000 + int32(i%3) })
	defer stop()

	z, err := l.Tare(context.Background(), TareContinuous)
	require.NoError(t, err)
	assert.Equal(t, TareContinuous, l.TareMode())
	assert.Zero(t, l.Offset(), "no offset is captured")
	assert.False(t, math32.IsNaN(z))
	assert.Less(t, math32.Abs(z), float32(40), "settled band-pass output of a constant load")
	assert.GreaterOrEqual(t, l.Stats().Samples, uint32(ZFilter.SettlingTime))
}

func TestTare_ContinuousKeepsStaticOffset(t *testing.T) {
	l := newTestLoadcell()
	stop := feed(l, func(int) int32 { return 70000 })
	defer stop()

	_, err := l.Tare(context.Background(), TareStatic)
	require.NoError(t, err)
	_, err = l.Tare(context.Background(), TareContinuous)
	require.NoError(t, err)
	assert.Equal(t, int32(70000), l.Offset())
}

func TestClear_ResetsTare(t *testing.T) {
	l := newTestLoadcell()
	stop := feed(l, func(int) int32 { return 100000 })
	defer stop()

	_, err := l.Tare(context.Background(), TareStatic)
	require.NoError(t, err)
	_, err = l.Tare(context.Background(), TareContinuous)
	require.NoError(t, err)
	require.Equal(t, int32(100000), l.Offset())
	require.Equal(t, TareContinuous, l.TareMode())

	l.Clear()
	assert.Zero(t, l.Offset())
	assert.Equal(t, TareStatic, l.TareMode())
	assert.Zero(t, l.tareCount.Load())
	assert.Zero(t, l.tareSum.Load())

	// Later samples do not bring the old reference back.
	n := l.Stats().Samples
	require.Eventually(t, func() bool { return l.Stats().Samples > n+2 }, time.Second, time.Millisecond)
	assert.Zero(t, l.Offset())
	assert.InDelta(t, 100000*l.Scale(), l.TaredZLoad(), 1e-3)
}

func TestClear_AbortsPendingTare(t *testing.T) {
	l := newTestLoadcell()
	done := make(chan error, 1)
	go func() {
		_, err := l.Tare(context.Background(), TareStatic)
		done <- err
	}()
	require.Eventually(t, func() bool { return l.tareCount.Load() > 0 }, time.Second, time.Millisecond)

	l.Clear()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTareCleared)
	case <-time.After(time.Second):
		require.Fail(t, "tare still waiting after Clear")
	}
	assert.Zero(t, l.Offset())
}

func TestTare_AbandonedDoesNotResume(t *testing.T) {
	cfg := config.Default()
	cfg.Loadcell.TareTimeout = 20 * time.Millisecond
	l := New(&cfg.Loadcell)

	_, err := l.Tare(context.Background(), TareStatic)
	require.ErrorIs(t, err, ErrTareTimeout)
	for i := range 3 * cfg.Loadcell.StaticTareSamples {
		l.Process(5000, uint32(i))
	}
	assert.Zero(t, l.tareCount.Load())
	assert.Zero(t, l.Offset(), "a timed out tare never completes")
}

func TestTare_Errors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		cfg := config.Default()
		cfg.Loadcell.TareTimeout = 20 * time.Millisecond
		l := New(&cfg.Loadcell)
		_, err := l.Tare(context.Background(), TareStatic)
		assert.ErrorIs(t, err, ErrTareTimeout)
	})

	t.Run("canceled", func(t *testing.T) {
		l := newTestLoadcell()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := l.Tare(ctx, TareStatic)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("fault", func(t *testing.T) {
		l := newTestLoadcell()
		for i := 0; i <= l.cfg.UndefinedInitMax; i++ {
			l.UndefinedSample()
		}
		_, err := l.Tare(context.Background(), TareStatic)
		assert.ErrorIs(t, err, ErrSensorFault)
	})
}

func TestEndstop_StaticHysteresis(t *testing.T) {
	l := newTestLoadcell()
	l.SetScale(1)
	l.SetThreshold(TareStatic, 125)
	l.SetHysteresis(20)

	steps := []struct {
		raw  int32
		want bool
	}{
		{100, false},
		{124, false},
		{130, true},
		{110, true},
		{105, true},
		{100, false},
		{-126, true},
		{-104, false},
	}
	for i, s := range steps {
		r := l.Process(s.raw, uint32(i))
		assert.Equal(t, s.want, r.Endstop, "step %d raw %d", i, s.raw)
		assert.Equal(t, s.want, l.Endstop())
	}
}

func TestEndstop_TriggersAboveThreshold(t *testing.T) {
	assert.False(t, hysteresisTrigger(false, 125, 125, 20))
	assert.False(t, hysteresisTrigger(false, -125, 125, 20))
	assert.True(t, hysteresisTrigger(false, 125.5, 125, 20))
	assert.True(t, hysteresisTrigger(true, 105, 125, 20))
	assert.False(t, hysteresisTrigger(true, 104.5, 125, 20))

	l := newTestLoadcell()
	l.SetScale(1)
	l.SetThreshold(TareStatic, 125)
	assert.False(t, l.Process(125, 0).Endstop, "a load equal to the threshold does not trigger")
	assert.True(t, l.Process(126, 1).Endstop)
}

func TestEndstop_ContinuousWaitsForSettling(t *testing.T) {
	l := newTestLoadcell()
	l.SetScale(1)
	l.SetThreshold(TareContinuous, 40)
	l.tareMode.Store(int32(TareContinuous))

	// A 2000 count step rings well above the threshold while the filter settles.
	r := l.Process(2000, 0)
	assert.Greater(t, math32.Abs(r.Z), float32(40))
	assert.False(t, r.Endstop)

	for i := 1; i < 400; i++ {
		r = l.Process(2000, uint32(i))
	}
	assert.False(t, r.Endstop, "constant load is rejected by the band-pass")
}

func TestXYEndstop(t *testing.T) {
	l := newTestLoadcell()
	l.SetScale(1)

	for i := 0; i < 200; i++ {
		assert.False(t, l.Process(int32(5000*(i%2)), uint32(i)).XYEndstop)
	}

	l.EnableXYEndstop(true)
	assert.True(t, l.XYEndstopEnabled())
	var triggered bool
	for i := 0; i < 20; i++ {
		triggered = triggered || l.Process(int32(20000*(i%4/2)), uint32(200+i)).XYEndstop
	}
	assert.True(t, triggered)

	l.EnableXYEndstop(false)
	assert.False(t, l.XYEndstop())
}

func TestFault_Escalation(t *testing.T) {
	l := newTestLoadcell()

	for i := 0; i < l.cfg.UndefinedInitMax; i++ {
		l.UndefinedSample()
	}
	require.NoError(t, l.Err())
	l.UndefinedSample()
	assert.ErrorIs(t, l.Err(), ErrSensorFault)
	assert.True(t, math32.IsNaN(l.TaredZLoad()))
	assert.Equal(t, uint32(1), l.Stats().Faults)

	l.Clear()
	require.NoError(t, l.Err())

	l.Process(1000, 1)
	assert.False(t, math32.IsNaN(l.TaredZLoad()))
	for i := 0; i < l.cfg.UndefinedSampleMax; i++ {
		l.Process(hx717.UndefinedValue, 2)
	}
	l.Process(1000, 3)
	for i := 0; i < l.cfg.UndefinedSampleMax; i++ {
		l.UndefinedSample()
	}
	require.NoError(t, l.Err(), "a valid sample resets the run of undefined samples")

	l.UndefinedSample()
	assert.ErrorIs(t, l.Err(), ErrSensorFault)
	assert.Equal(t, uint32(2*l.cfg.UndefinedSampleMax+1+l.cfg.UndefinedInitMax+1), l.Stats().Undefined)
}

func TestWaitBarrier(t *testing.T) {
	l := newTestLoadcell()
	l.Process(100, 1000)
	require.NoError(t, l.WaitBarrier(context.Background(), 900))
	require.NoError(t, l.WaitBarrier(context.Background(), 1000))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.WaitBarrier(ctx, 2000), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- l.WaitBarrier(context.Background(), 2000) }()
	time.Sleep(5 * time.Millisecond)
	l.Process(100, 2500)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("barrier not released")
	}
}

func TestWaitBarrier_Wraparound(t *testing.T) {
	l := newTestLoadcell()
	l.Process(100, 0xFFFFFF00)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.True(t, errors.Is(l.WaitBarrier(ctx, 0x10), context.DeadlineExceeded))

	l.Process(100, 0x20)
	assert.NoError(t, l.WaitBarrier(context.Background(), 0x10))
	assert.NoError(t, l.WaitBarrier(context.Background(), 0xFFFFFFF0))
}

func TestWaitBarrier_Fault(t *testing.T) {
	l := newTestLoadcell()
	for i := 0; i <= l.cfg.UndefinedInitMax; i++ {
		l.UndefinedSample()
	}
	assert.ErrorIs(t, l.WaitBarrier(context.Background(), 1), ErrSensorFault)
}

func TestHighPrecision(t *testing.T) {
	l := newTestLoadcell()
	l.Process(1000, 0)

	l.EnableHighPrecision()
	assert.True(t, l.HighPrecisionEnabled())
	assert.Panics(t, l.EnableHighPrecision)

	// Enabling restarts the filters.
	l.Process(1000, 1)
	assert.Equal(t, 1, l.zFilter.Samples())

	l.DisableHighPrecision()
	assert.False(t, l.HighPrecisionEnabled())
	assert.Panics(t, l.DisableHighPrecision)
}

func TestSetters(t *testing.T) {
	l := newTestLoadcell()
	l.SetScale(0.5)
	l.SetThreshold(TareStatic, 200)
	l.SetThreshold(TareContinuous, 60)
	l.SetHysteresis(15)

	assert.Equal(t, float32(0.5), l.Scale())
	assert.Equal(t, float32(200), l.Threshold(TareStatic))
	assert.Equal(t, float32(60), l.Threshold(TareContinuous))
	assert.Equal(t, float32(15), l.Hysteresis())
	assert.Equal(t, float32(50), l.Process(100, 0).Load)
	assert.Equal(t, "continuous", TareContinuous.String())
}

func TestAnalysisFeed(t *testing.T) {
	l := newTestLoadcell()
	z := float32(1)
	l.SetZPosition(func() float32 { return z })

	l.Process(100, 0)
	assert.Zero(t, l.Analysis().Len())

	l.EnableAnalysis(true)
	for i := 0; i < 10; i++ {
		l.Process(100, uint32(i))
	}
	assert.Equal(t, 10, l.Analysis().Len())

	l.SetSamplingInterval(3125)
	assert.Equal(t, float32(3125), l.SamplingInterval())
	assert.InDelta(t, 0.003125, l.Analysis().SamplingInterval(), 1e-12)

	// NaN keeps the last measurement for analysis.
	l.SetSamplingInterval(math32.NaN())
	assert.InDelta(t, 0.003125, l.Analysis().SamplingInterval(), 1e-12)
}
