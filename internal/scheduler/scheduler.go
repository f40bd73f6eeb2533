// Package scheduler provides the timer abstraction used by the console's
// cosmetic timelines (phase cycle, score animation, notification expiry).
//
// Production code runs on a Clock backed by github.com/benbjohnson/clock.
// Tests drive a Virtual scheduler by hand so timelines are deterministic and
// fast-forwarded instead of waiting on wall time.
package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It reports whether the call stopped a timer
	// that had not yet been stopped or fired for the last time.
	Stop() bool
}

// Scheduler schedules one-shot and periodic callbacks.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// Clock schedules callbacks on a clock.Clock.
type Clock struct {
	clk clock.Clock
}

// New creates a scheduler on clk. A nil clk uses the wall clock.
func New(clk clock.Clock) *Clock {
	if clk == nil {
		clk = clock.New()
	}
	return &Clock{clk: clk}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	return c.clk.Now()
}

// AfterFunc runs fn on its own goroutine once d has elapsed.
func (c *Clock) AfterFunc(d time.Duration, fn func()) Timer {
	return c.clk.AfterFunc(d, fn)
}

// Every runs fn every d until the returned timer is stopped. Ticks are
// delivered on a single goroutine, so fn never runs concurrently with itself.
func (c *Clock) Every(d time.Duration, fn func()) Timer {
	t := &ticker{
		ticker: c.clk.Ticker(d),
		done:   make(chan struct{}),
	}
	go t.run(fn)
	return t
}

type ticker struct {
	ticker *clock.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *ticker) run(fn func()) {
	defer t.ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		close(t.done)
		stopped = true
	})
	return stopped
}
