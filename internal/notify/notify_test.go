package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/masumiguard/internal/scheduler"
)

func newTestCenter() (*Center, *scheduler.Virtual) {
	v := scheduler.NewVirtual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewCenter(v), v
}

func TestNotify_ShowsAndExpires(t *testing.T) {
	c, v := newTestCenter()

	n := c.Notify("Analysis #1 complete! Risk: Low", KindSuccess)
	assert.Equal(t, v.Now().Add(DefaultTTL), n.ExpiresAt)

	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "Analysis #1 complete! Risk: Low", cur.Message)
	assert.Equal(t, KindSuccess, cur.Kind)

	v.Advance(DefaultTTL - time.Millisecond)
	_, ok = c.Current()
	assert.True(t, ok, "still visible just before expiry")

	v.Advance(time.Millisecond)
	_, ok = c.Current()
	assert.False(t, ok, "cleared at expiry")
}

func TestNotify_ReplacementResetsExpiry(t *testing.T) {
	c, v := newTestCenter()

	c.Notify("first", KindInfo)
	v.Advance(2 * time.Second)
	c.Notify("second", KindError)

	// The first notification's clear would have fired here.
	v.Advance(2 * time.Second)
	cur, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, "second", cur.Message)

	v.Advance(time.Second)
	_, ok = c.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, v.Pending())
}

func TestNotify_ListenersSeeShownAndCleared(t *testing.T) {
	c, v := newTestCenter()
	var events []Event
	c.Subscribe(func(e Event) { events = append(events, e) })

	c.Notify("a", KindAchievement)
	c.Notify("b", KindSuccess)
	v.Advance(DefaultTTL)

	require.Len(t, events, 3)
	assert.Equal(t, EventShown, events[0].Type)
	assert.Equal(t, "a", events[0].Notification.Message)
	assert.Equal(t, EventShown, events[1].Type)
	assert.Equal(t, EventCleared, events[2].Type)
	assert.Equal(t, "b", events[2].Notification.Message)
}

func TestNotify_WithTTL(t *testing.T) {
	v := scheduler.NewVirtual(time.Unix(0, 0))
	c := NewCenter(v, WithTTL(500*time.Millisecond))

	c.Notify("short", KindInfo)
	v.Advance(500 * time.Millisecond)
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestClose_CancelsExpiry(t *testing.T) {
	c, v := newTestCenter()
	c.Notify("sticky", KindInfo)
	c.Close()

	assert.Equal(t, 0, v.Pending())
	_, ok := c.Current()
	assert.True(t, ok)
}
