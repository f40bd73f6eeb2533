// Package health pings the console's dependencies: the scoring service, the
// attestation database and the progress store.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single ping when none is given.
const DefaultTimeout = 3 * time.Second

// Pinger is a dependency that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function such as (*sql.DB).PingContext to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Status is the outcome of one dependency ping.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type dependency struct {
	name    string
	pinger  Pinger
	timeout time.Duration
}

// Registry holds the dependencies pinged by the health endpoint.
type Registry struct {
	mu   sync.RWMutex
	deps []dependency
	now  func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{now: time.Now}
}

// Register adds a dependency. A non-positive timeout means DefaultTimeout.
// Registering an existing name replaces it in place.
func (r *Registry) Register(name string, p Pinger, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.deps {
		if r.deps[i].name == name {
			r.deps[i] = dependency{name: name, pinger: p, timeout: timeout}
			return
		}
	}
	r.deps = append(r.deps, dependency{name: name, pinger: p, timeout: timeout})
}

// Names returns the registered dependency names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.deps))
	for i, d := range r.deps {
		names[i] = d.name
	}
	return names
}

// CheckAll pings every dependency concurrently. Statuses come back in
// registration order; healthy is true only when every ping succeeded.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	deps := append([]dependency(nil), r.deps...)
	r.mu.RUnlock()

	statuses = make([]Status, len(deps))
	var g errgroup.Group
	for i, d := range deps {
		g.Go(func() error {
			statuses[i] = r.ping(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	healthy = true
	for _, st := range statuses {
		healthy = healthy && st.Healthy
	}
	return healthy, statuses
}

func (r *Registry) ping(ctx context.Context, d dependency) Status {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := r.now()
	err := d.pinger.Ping(ctx)
	st := Status{Name: d.name, Healthy: err == nil, LatencyMS: r.now().Sub(start).Milliseconds()}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		st.Detail = fmt.Sprintf("no answer within %s", d.timeout)
	default:
		st.Detail = err.Error()
	}
	return st
}
