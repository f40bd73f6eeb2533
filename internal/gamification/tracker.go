package gamification

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mbd888/masumiguard/internal/compliance"
	"github.com/mbd888/masumiguard/internal/metrics"
)

// Tracker owns the process-wide progress state. Every change writes the full
// document back to the store; write failures are logged and ignored.
type Tracker struct {
	mu     sync.Mutex
	store  Store
	key    string
	state  State
	logger *slog.Logger
}

// NewTracker creates a tracker starting from the zero state. Call Load to
// restore persisted progress.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  store,
		key:    DocumentKey,
		state:  ZeroState(),
		logger: logger,
	}
}

// Load reads the persisted document. A missing or corrupt document yields the
// zero state; Load never fails.
func (t *Tracker) Load(ctx context.Context) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = ZeroState()
	if t.store == nil {
		return t.state.Clone()
	}

	data, err := t.store.Get(ctx, t.key)
	switch {
	case errors.Is(err, ErrDocumentNotFound):
	case err != nil:
		t.logger.Warn("progress load failed, starting fresh", "key", t.key, "error", err)
	default:
		s, ok := Decode(data)
		if !ok {
			t.logger.Warn("progress document unparsable, starting fresh", "key", t.key)
		}
		t.state = s
	}
	return t.state.Clone()
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// RecordSuccess applies a successful analysis and persists the result.
func (t *Tracker) RecordSuccess(ctx context.Context, result compliance.AnalysisResult) (State, []AchievementID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, unlocked := ApplySuccess(t.state, result)
	t.state = next
	for _, id := range unlocked {
		metrics.AchievementsUnlockedTotal.WithLabelValues(string(id)).Inc()
		t.logger.Info("achievement unlocked", "achievement", id, "analysisCount", next.AnalysisCount)
	}
	t.save(ctx)
	return next.Clone(), unlocked
}

// RecordFailure resets the streak and persists the result.
func (t *Tracker) RecordFailure(ctx context.Context) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = ApplyFailure(t.state)
	t.save(ctx)
	return t.state.Clone()
}

// save writes the current state. Caller holds t.mu.
func (t *Tracker) save(ctx context.Context) {
	if t.store == nil {
		return
	}
	doc, err := Encode(t.state)
	if err == nil {
		err = t.store.Put(ctx, t.key, doc)
	}
	if err != nil {
		metrics.ProgressSaveFailuresTotal.Inc()
		t.logger.Warn("progress save failed", "key", t.key, "error", err)
	}
}
