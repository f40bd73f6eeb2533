package scheduler

import (
	"sync"
	"time"
)

// Virtual is a manually advanced scheduler. Callbacks run synchronously on
// the goroutine calling Advance, in due-time order; callbacks due at the same
// instant run in scheduling order.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	order  uint64
	timers []*virtualTimer
}

type virtualTimer struct {
	v       *Virtual
	at      time.Time
	period  time.Duration
	order   uint64
	fn      func()
	stopped bool
}

// NewVirtual creates a virtual scheduler whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc schedules fn to run once the virtual clock passes d.
func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	return v.schedule(d, 0, fn)
}

// Every schedules fn every d of virtual time.
func (v *Virtual) Every(d time.Duration, fn func()) Timer {
	if d <= 0 {
		panic("scheduler: non-positive interval for Every")
	}
	return v.schedule(d, d, fn)
}

func (v *Virtual) schedule(d, period time.Duration, fn func()) *virtualTimer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.order++
	t := &virtualTimer{
		v:      v,
		at:     v.now.Add(d),
		period: period,
		order:  v.order,
		fn:     fn,
	}
	v.timers = append(v.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every callback that falls due.
// Timers scheduled by callbacks fire too if they fall within the window.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		next := v.nextDue(target)
		if next == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		v.now = next.at
		if next.period > 0 {
			v.order++
			next.at = next.at.Add(next.period)
			next.order = v.order
		} else {
			next.stopped = true
			v.remove(next)
		}
		fn := next.fn
		v.mu.Unlock()

		fn()
	}
}

// Pending returns the number of live timers.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// nextDue returns the earliest timer due at or before target. Caller holds v.mu.
func (v *Virtual) nextDue(target time.Time) *virtualTimer {
	var next *virtualTimer
	for _, t := range v.timers {
		if t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.order < next.order) {
			next = t
		}
	}
	return next
}

// remove drops t from the live set. Caller holds v.mu.
func (v *Virtual) remove(t *virtualTimer) {
	for i, cur := range v.timers {
		if cur == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return
		}
	}
}

func (t *virtualTimer) Stop() bool {
	t.v.mu.Lock()
	defer t.v.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	t.v.remove(t)
	return true
}
