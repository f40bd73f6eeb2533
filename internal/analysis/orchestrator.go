package analysis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mbd888/masumiguard/internal/compliance"
	"github.com/mbd888/masumiguard/internal/gamification"
	"github.com/mbd888/masumiguard/internal/logging"
	"github.com/mbd888/masumiguard/internal/metrics"
	"github.com/mbd888/masumiguard/internal/notify"
	"github.com/mbd888/masumiguard/internal/scheduler"
	"github.com/mbd888/masumiguard/internal/scoring"
	"github.com/mbd888/masumiguard/internal/traces"
)

// Orchestrator is the analysis state machine:
//
//	Idle → Submitting → Completing → Idle   (success)
//	Idle → Submitting → Failed → Idle       (failure)
//
// Completing and Failed are absorbed into Idle by Acknowledge. A new Analyze
// from Completing or Failed preempts the previous analysis.
//
// The phase-cycle and animation timers are never active together. Every exit
// from Submitting or Completing cancels them before returning, and callbacks
// from an earlier generation are ignored.
type Orchestrator struct {
	sched    scheduler.Scheduler
	scorer   Scorer
	progress Progress
	notifier Notifier
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	settling  bool // outcome known, progress and notifications not yet applied
	gen       uint64
	phase     int
	phaseTick scheduler.Timer
	animTick  scheduler.Timer
	animStep  int
	displayed int
	request   *compliance.AnalysisRequest
	result    *compliance.AnalysisResult
	errKind   scoring.Kind
	errMsg    string
	celebrate bool
	closed    bool
	listeners []Listener
}

// New creates an orchestrator in the Idle state.
func New(sched scheduler.Scheduler, scorer Scorer, progress Progress, notifier Notifier, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sched:    sched,
		scorer:   scorer,
		progress: progress,
		notifier: notifier,
		logger:   logger,
		state:    StateIdle,
	}
}

// Subscribe registers a listener for snapshot changes.
func (o *Orchestrator) Subscribe(l Listener) {
	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()
}

// Analyze runs one analysis to a settled outcome. It returns the result on
// success and the scoring error on failure; the error is also reflected in
// Snapshot. Progress is recorded and notifications are emitted before Analyze
// returns, and before Busy clears.
func (o *Orchestrator) Analyze(ctx context.Context, req compliance.AnalysisRequest) (*compliance.AnalysisResult, error) {
	req = req.Normalize()
	if err := validate(req); err != nil {
		metrics.AnalysesTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	if o.busyLocked() {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.stopTimersLocked()
	o.gen++
	gen := o.gen
	o.state = StateSubmitting
	o.request = &req
	o.result = nil
	o.errKind, o.errMsg = "", ""
	o.celebrate = false
	o.phase = 0
	o.animStep, o.displayed = 0, 0
	o.phaseTick = o.sched.Every(PhaseInterval, func() { o.advancePhase(gen) })
	emit := o.pendingLocked()
	o.mu.Unlock()
	emit()

	ctx, span := traces.StartSpan(ctx, "analysis.Analyze", traces.TxHash(req.TxHash), traces.WalletAddress(req.WalletAddress))
	defer span.End()
	logger := logging.LOr(ctx, o.logger)

	metrics.AnalysesInFlight.Inc()
	result, err := o.scorer.Analyze(ctx, req)
	metrics.AnalysesInFlight.Dec()
	if err == nil && result == nil {
		err = &scoring.Error{Kind: scoring.KindUnclassified, Detail: "Scoring service returned no result."}
	}

	if err != nil {
		return nil, o.fail(ctx, gen, err, logger)
	}
	return o.complete(ctx, gen, result, logger)
}

func (o *Orchestrator) complete(ctx context.Context, gen uint64, result *compliance.AnalysisResult, logger *slog.Logger) (*compliance.AnalysisResult, error) {
	result = result.Clone()
	result.Normalize()

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.stopTimersLocked()
	o.state = StateCompleting
	o.settling = true
	o.result = result
	// The service's echoed hash becomes the canonical request hash.
	if result.TxHash != "" {
		o.request.TxHash = result.TxHash
	}
	o.celebrate = result.RiskLevel == compliance.RiskLow
	o.animTick = o.sched.Every(AnimationDuration/AnimationSteps, func() { o.advanceAnimation(gen) })
	o.mu.Unlock()

	// Progress must reach the store even if the caller has gone away.
	state, unlocked := o.progress.RecordSuccess(context.WithoutCancel(ctx), *result)
	for _, id := range unlocked {
		o.notifier.Notify(gamification.Announcement(id), notify.KindAchievement)
	}
	o.notifier.Notify(SuccessNotice(state.AnalysisCount, result.RiskLevel), notify.KindSuccess)

	o.settle(gen)

	metrics.AnalysesTotal.WithLabelValues("success").Inc()
	logger.Info("analysis complete",
		"txHash", result.TxHash,
		"score", result.ComplianceScore,
		"risk", result.RiskLevel,
		"analysisCount", state.AnalysisCount,
		"unlocked", len(unlocked),
	)
	return result.Clone(), nil
}

func (o *Orchestrator) fail(ctx context.Context, gen uint64, err error, logger *slog.Logger) error {
	kind, msg := classify(err)

	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return ErrClosed
	}
	o.stopTimersLocked()
	o.state = StateFailed
	o.settling = true
	o.errKind, o.errMsg = kind, msg
	o.mu.Unlock()

	o.progress.RecordFailure(context.WithoutCancel(ctx))
	o.notifier.Notify(FailureNotice, notify.KindError)

	o.settle(gen)

	metrics.AnalysesTotal.WithLabelValues(string(kind)).Inc()
	logger.Warn("analysis failed", "kind", kind, "error", err)
	return err
}

// settle clears the settling flag once progress and notifications are applied.
func (o *Orchestrator) settle(gen uint64) {
	o.mu.Lock()
	if gen != o.gen {
		o.mu.Unlock()
		return
	}
	o.settling = false
	emit := o.pendingLocked()
	o.mu.Unlock()
	emit()
}

// Acknowledge returns a settled Completing or Failed orchestrator to Idle,
// keeping the last result for display. It is a no-op in other states.
func (o *Orchestrator) Acknowledge() {
	o.mu.Lock()
	if o.settling || (o.state != StateCompleting && o.state != StateFailed) {
		o.mu.Unlock()
		return
	}
	o.stopTimersLocked()
	o.state = StateIdle
	emit := o.pendingLocked()
	o.mu.Unlock()
	emit()
}

// Snapshot returns the current view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// IsBusy reports whether a new Analyze would be rejected with ErrBusy.
func (o *Orchestrator) IsBusy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busyLocked()
}

// Result returns the last successful result, if any.
func (o *Orchestrator) Result() (*compliance.AnalysisResult, uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.result == nil {
		return nil, o.gen, false
	}
	return o.result.Clone(), o.gen, true
}

// Close cancels all timers. A pending Analyze settles with ErrClosed and
// later calls fail with ErrClosed.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.stopTimersLocked()
	o.gen++
	o.settling = false
	if o.state == StateSubmitting {
		o.state = StateIdle
	}
}

func (o *Orchestrator) advancePhase(gen uint64) {
	o.mu.Lock()
	if gen != o.gen || o.state != StateSubmitting {
		o.mu.Unlock()
		return
	}
	o.phase = (o.phase + 1) % PhaseCount
	emit := o.pendingLocked()
	o.mu.Unlock()
	emit()
}

func (o *Orchestrator) advanceAnimation(gen uint64) {
	o.mu.Lock()
	if gen != o.gen || o.state != StateCompleting || o.animTick == nil || o.result == nil {
		o.mu.Unlock()
		return
	}
	o.animStep++
	o.displayed = DisplayedScore(o.result.ComplianceScore, o.animStep)
	if o.animStep >= AnimationSteps {
		o.animTick.Stop()
		o.animTick = nil
	}
	emit := o.pendingLocked()
	o.mu.Unlock()
	emit()
}

// stopTimersLocked cancels both timers and resets the phase. Caller holds o.mu.
func (o *Orchestrator) stopTimersLocked() {
	if o.phaseTick != nil {
		o.phaseTick.Stop()
		o.phaseTick = nil
	}
	if o.animTick != nil {
		o.animTick.Stop()
		o.animTick = nil
		if o.result != nil {
			o.displayed = o.result.ComplianceScore
		}
	}
	o.phase = 0
}

func (o *Orchestrator) busyLocked() bool {
	return o.state == StateSubmitting || o.settling
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	s := Snapshot{
		State:          o.state,
		Busy:           o.busyLocked(),
		PhaseIndex:     o.phase,
		DisplayedScore: o.displayed,
		Animating:      o.animTick != nil,
		Celebrate:      o.celebrate,
		Generation:     o.gen,
	}
	if o.state == StateSubmitting {
		s.Phase = Phases[o.phase]
	}
	if o.request != nil {
		req := *o.request
		s.Request = &req
	}
	if o.result != nil {
		s.Result = o.result.Clone()
	}
	if o.errKind != "" {
		s.ErrorKind = o.errKind
		s.ErrorMessage = o.errMsg
	}
	return s
}

// pendingLocked captures the current snapshot for delivery to listeners once
// the caller has released o.mu.
func (o *Orchestrator) pendingLocked() func() {
	if len(o.listeners) == 0 {
		return func() {}
	}
	snap := o.snapshotLocked()
	listeners := append([]Listener(nil), o.listeners...)
	return func() {
		for _, l := range listeners {
			l(snap)
		}
	}
}
