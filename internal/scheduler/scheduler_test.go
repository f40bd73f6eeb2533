package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestVirtual_AfterFuncFiresOnce(t *testing.T) {
	v := NewVirtual(epoch)
	fired := 0
	v.AfterFunc(time.Second, func() { fired++ })

	v.Advance(999 * time.Millisecond)
	assert.Equal(t, 0, fired)

	v.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)

	v.Advance(time.Hour)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, v.Pending())
}

func TestVirtual_EveryFiresPerPeriod(t *testing.T) {
	v := NewVirtual(epoch)
	var ticks []time.Time
	tm := v.Every(100*time.Millisecond, func() { ticks = append(ticks, v.Now()) })

	v.Advance(350 * time.Millisecond)
	require.Len(t, ticks, 3)
	assert.Equal(t, epoch.Add(100*time.Millisecond), ticks[0])
	assert.Equal(t, epoch.Add(300*time.Millisecond), ticks[2])
	assert.Equal(t, epoch.Add(350*time.Millisecond), v.Now())

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	v.Advance(time.Second)
	assert.Len(t, ticks, 3)
}

func TestVirtual_StopFromCallback(t *testing.T) {
	v := NewVirtual(epoch)
	count := 0
	var tm Timer
	tm = v.Every(10*time.Millisecond, func() {
		count++
		if count == 2 {
			tm.Stop()
		}
	})

	v.Advance(time.Second)
	assert.Equal(t, 2, count)
	assert.Equal(t, 0, v.Pending())
}

func TestVirtual_SameInstantRunsInScheduleOrder(t *testing.T) {
	v := NewVirtual(epoch)
	var order []string
	v.AfterFunc(time.Second, func() { order = append(order, "a") })
	v.AfterFunc(time.Second, func() { order = append(order, "b") })
	v.AfterFunc(500*time.Millisecond, func() { order = append(order, "c") })

	v.Advance(time.Second)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestVirtual_CallbackSchedulesWithinWindow(t *testing.T) {
	v := NewVirtual(epoch)
	fired := false
	v.AfterFunc(time.Second, func() {
		v.AfterFunc(time.Second, func() { fired = true })
	})

	v.Advance(2 * time.Second)
	assert.True(t, fired)
}

func TestClock_EveryStopsGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	mock := clock.NewMock()
	s := New(mock)
	var ticks atomic.Int32
	tm := s.Every(time.Second, func() { ticks.Add(1) })

	// Give the ticker goroutine a chance to block on its channel.
	time.Sleep(5 * time.Millisecond)
	mock.Add(time.Second)
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, time.Millisecond)

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	mock.Add(time.Second)
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, int32(1), ticks.Load())
}

func TestClock_AfterFunc(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	var fired atomic.Bool
	s.AfterFunc(time.Minute, func() { fired.Store(true) })

	mock.Add(time.Minute)
	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
	assert.Equal(t, mock.Now(), s.Now())
}

func TestNew_DefaultsToWallClock(t *testing.T) {
	s := New(nil)
	assert.WithinDuration(t, time.Now(), s.Now(), time.Second)
}
