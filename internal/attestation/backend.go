package attestation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mbd888/masumiguard/internal/idgen"
	"github.com/mbd888/masumiguard/internal/metrics"
	"github.com/mbd888/masumiguard/internal/retry"
)

// -----------------------------------------------------------------------------
// MemoryBackend
// -----------------------------------------------------------------------------

// MemoryBackend is a deterministic in-process ledger. Ids are sequential.
type MemoryBackend struct {
	mu      sync.Mutex
	seq     int64
	records []*Record
	failure error
}

// NewMemoryBackend creates an empty in-memory ledger.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// FailNext makes the next Write return err without recording anything.
func (b *MemoryBackend) FailNext(err error) {
	b.mu.Lock()
	b.failure = err
	b.mu.Unlock()
}

func (b *MemoryBackend) Write(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failure != nil {
		err := b.failure
		b.failure = nil
		return err
	}
	b.seq++
	rec.SimulatedTxID = SimulatedPrefix + sequentialID(b.seq)
	cp := *rec
	b.records = append(b.records, &cp)
	return nil
}

// Writes returns how many records were written.
func (b *MemoryBackend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Records returns copies of the written records in write order.
func (b *MemoryBackend) Records() []*Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Record, len(b.records))
	for i, r := range b.records {
		cp := *r
		out[i] = &cp
	}
	return out
}

func sequentialID(n int64) string {
	s := strconv.FormatInt(n, 36)
	if len(s) < simulatedIDLength {
		s = strings.Repeat("0", simulatedIDLength-len(s)) + s
	}
	return s
}

// -----------------------------------------------------------------------------
// LedgerBackend
// -----------------------------------------------------------------------------

// Defaults for LedgerBackend.
const (
	DefaultLedgerDelay   = 2 * time.Second
	DefaultWriteAttempts = 3
	DefaultRetryDelay    = 100 * time.Millisecond
)

// LedgerBackend simulates an on-chain write: it waits a fixed confirmation
// delay, then persists the record to a Store, retrying transient failures.
type LedgerBackend struct {
	store      Store
	clock      clock.Clock
	delay      time.Duration
	attempts   int
	retryDelay time.Duration
}

// LedgerOption configures a LedgerBackend.
type LedgerOption func(*LedgerBackend)

// WithClock sets the clock used for the confirmation delay and retry backoff.
func WithClock(clk clock.Clock) LedgerOption {
	return func(b *LedgerBackend) { b.clock = clk }
}

// WithDelay sets the simulated confirmation delay.
func WithDelay(d time.Duration) LedgerOption {
	return func(b *LedgerBackend) {
		if d >= 0 {
			b.delay = d
		}
	}
}

// WithRetry sets the attempt budget and base backoff for store writes.
func WithRetry(attempts int, baseDelay time.Duration) LedgerOption {
	return func(b *LedgerBackend) {
		b.attempts = attempts
		b.retryDelay = baseDelay
	}
}

// NewLedgerBackend creates a simulated ledger persisting to store.
func NewLedgerBackend(store Store, opts ...LedgerOption) *LedgerBackend {
	b := &LedgerBackend{
		store:      store,
		clock:      clock.New(),
		delay:      DefaultLedgerDelay,
		attempts:   DefaultWriteAttempts,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *LedgerBackend) Write(ctx context.Context, rec *Record) error {
	start := b.clock.Now()
	defer func() {
		metrics.AttestationWriteDuration.Observe(b.clock.Since(start).Seconds())
	}()

	if b.delay > 0 {
		timer := b.clock.Timer(b.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	rec.SimulatedTxID = idgen.WithPrefix(SimulatedPrefix, simulatedIDLength)
	return retry.DoWithClock(ctx, b.clock, b.attempts, b.retryDelay, func() error {
		err := b.store.Create(ctx, rec)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return retry.Permanent(err)
		}
		return err
	})
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Backend = (*LedgerBackend)(nil)
)
