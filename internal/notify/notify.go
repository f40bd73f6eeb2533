// Package notify implements the console's single-slot toast queue.
//
// Only one notification is visible at a time. A new notification replaces
// the current one and restarts the expiry window.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/masumiguard/internal/metrics"
	"github.com/mbd888/masumiguard/internal/scheduler"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 3 * time.Second

// Kind classifies a notification for presentation.
type Kind string

const (
	KindSuccess     Kind = "success"
	KindError       Kind = "error"
	KindAchievement Kind = "achievement"
	KindInfo        Kind = "info"
)

// Notification is an ephemeral user-facing message.
type Notification struct {
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	ShownAt   time.Time `json:"shownAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// EventType distinguishes listener callbacks.
type EventType string

const (
	EventShown   EventType = "notification_shown"
	EventCleared EventType = "notification_cleared"
)

// Event is delivered to listeners when the slot changes.
type Event struct {
	Type         EventType    `json:"type"`
	Notification Notification `json:"notification"`
}

// Listener receives slot changes. Listeners run outside the center's lock
// and must not block.
type Listener func(Event)

// Center owns the notification slot.
type Center struct {
	mu        sync.Mutex
	sched     scheduler.Scheduler
	ttl       time.Duration
	current   *Notification
	expiry    scheduler.Timer
	seq       uint64
	listeners []Listener
	logger    *slog.Logger
}

// Option configures a Center.
type Option func(*Center)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Center) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Center) {
		c.logger = logger
	}
}

// NewCenter creates a notification center scheduling expiry on sched.
func NewCenter(sched scheduler.Scheduler, opts ...Option) *Center {
	c := &Center{
		sched:  sched,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers a listener for slot changes.
func (c *Center) Subscribe(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Notify shows a notification, replacing any current one, and schedules its
// removal after the TTL. A pending removal of the previous notification is
// cancelled.
func (c *Center) Notify(message string, kind Kind) Notification {
	c.mu.Lock()
	if c.expiry != nil {
		c.expiry.Stop()
	}
	c.seq++
	seq := c.seq
	now := c.sched.Now()
	n := Notification{
		Message:   message,
		Kind:      kind,
		ShownAt:   now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.current = &n
	c.expiry = c.sched.AfterFunc(c.ttl, func() { c.expire(seq) })
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	metrics.NotificationsTotal.WithLabelValues(string(kind)).Inc()
	c.logger.Debug("notification shown", "kind", kind, "message", message)
	for _, l := range listeners {
		l(Event{Type: EventShown, Notification: n})
	}
	return n
}

// Current returns the visible notification, if any.
func (c *Center) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

// Close cancels the pending expiry. The current notification stays readable.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry != nil {
		c.expiry.Stop()
		c.expiry = nil
	}
}

func (c *Center) expire(seq uint64) {
	c.mu.Lock()
	if seq != c.seq || c.current == nil {
		c.mu.Unlock()
		return
	}
	n := *c.current
	c.current = nil
	c.expiry = nil
	listeners := c.snapshotListeners()
	c.mu.Unlock()

	for _, l := range listeners {
		l(Event{Type: EventCleared, Notification: n})
	}
}

// snapshotListeners copies the listener list. Caller holds c.mu.
func (c *Center) snapshotListeners() []Listener {
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}
