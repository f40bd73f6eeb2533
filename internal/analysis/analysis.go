// Package analysis drives a compliance analysis from submission to a settled
// result: it validates the request, runs the cosmetic phase cycle while the
// scoring call is pending, animates the score, and applies the outcome to
// progress tracking and notifications.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/masumiguard/internal/compliance"
	"github.com/mbd888/masumiguard/internal/gamification"
	"github.com/mbd888/masumiguard/internal/notify"
	"github.com/mbd888/masumiguard/internal/scoring"
)

const (
	// PhaseInterval is the period of the progress phase cycle.
	PhaseInterval = 800 * time.Millisecond
	// PhaseCount is the number of phases in the cycle.
	PhaseCount = 3

	// AnimationDuration is how long the score counter takes to reach the score.
	AnimationDuration = 1500 * time.Millisecond
	// AnimationSteps is the number of counter updates.
	AnimationSteps = 60

	// FailureNotice is the toast shown when an analysis fails.
	FailureNotice = "Analysis failed. Try again!"
)

// Phases are the labels of the progress phase cycle, by index.
var Phases = [PhaseCount]string{
	"Fetching on-chain data",
	"Running AI models",
	"Computing compliance score",
}

var (
	// ErrBusy is returned while a previous analysis is still being submitted.
	ErrBusy = errors.New("analysis: analysis already in progress")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("analysis: orchestrator closed")
)

// ValidationError reports a missing request field. It is returned before any
// state transition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("analysis: invalid %s: %s", e.Field, e.Message)
}

// State is the orchestrator state.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateCompleting State = "completing"
	StateFailed     State = "failed"
)

// Scorer obtains a compliance result for a request.
type Scorer interface {
	Analyze(ctx context.Context, req compliance.AnalysisRequest) (*compliance.AnalysisResult, error)
}

// Progress records analysis outcomes.
type Progress interface {
	RecordSuccess(ctx context.Context, result compliance.AnalysisResult) (gamification.State, []gamification.AchievementID)
	RecordFailure(ctx context.Context) gamification.State
}

// Notifier shows user-facing notifications.
type Notifier interface {
	Notify(message string, kind notify.Kind) notify.Notification
}

// Snapshot is a point-in-time view of the orchestrator.
type Snapshot struct {
	State          State                       `json:"state"`
	Busy           bool                        `json:"busy"`
	PhaseIndex     int                         `json:"phaseIndex"`
	Phase          string                      `json:"phase,omitempty"`
	DisplayedScore int                         `json:"displayedScore"`
	Animating      bool                        `json:"animating"`
	Request        *compliance.AnalysisRequest `json:"request,omitempty"`
	Result         *compliance.AnalysisResult  `json:"result,omitempty"`
	ErrorKind      scoring.Kind                `json:"errorKind,omitempty"`
	ErrorMessage   string                      `json:"errorMessage,omitempty"`
	Celebrate      bool                        `json:"celebrate"`
	Generation     uint64                      `json:"generation"`
}

// Listener observes snapshot changes. Listeners run outside the
// orchestrator's lock and must not block.
type Listener func(Snapshot)

// SuccessNotice is the toast shown after a successful analysis.
func SuccessNotice(count int, level compliance.RiskLevel) string {
	return fmt.Sprintf("Analysis #%d complete! Risk: %s", count, level)
}

// DisplayedScore is the counter value after step k of the score animation.
func DisplayedScore(score, step int) int {
	if step >= AnimationSteps {
		return score
	}
	if step <= 0 {
		return 0
	}
	return score * step / AnimationSteps
}

func validate(req compliance.AnalysisRequest) error {
	if req.TxHash == "" {
		return &ValidationError{Field: "txHash", Message: "transaction hash is required"}
	}
	if req.WalletAddress == "" {
		return &ValidationError{Field: "walletAddress", Message: "wallet address is required"}
	}
	return nil
}

// classify maps a scoring failure to its kind and inline message.
func classify(err error) (scoring.Kind, string) {
	var serr *scoring.Error
	if errors.As(err, &serr) {
		return serr.Kind, serr.UserMessage()
	}
	return scoring.KindUnclassified, (&scoring.Error{Kind: scoring.KindUnclassified, Detail: err.Error()}).UserMessage()
}
