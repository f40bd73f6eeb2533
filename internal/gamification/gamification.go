// Package gamification tracks analysis counts, success streaks and
// achievements.
//
// State transitions are pure functions over a versioned State value.
// Persistence is handled at the boundary by Tracker and a Store.
package gamification

import (
	"encoding/json"
	"slices"

	"github.com/mbd888/masumiguard/internal/compliance"
)

// DocumentKey is the key under which progress is persisted.
const DocumentKey = "masumiGuardStats"

// CurrentVersion is the document version written by this package.
const CurrentVersion = 1

// AchievementID identifies a catalog achievement.
type AchievementID string

const (
	PerfectScore AchievementID = "perfect-score"
	FiveAnalyses AchievementID = "five-analyses"
	TenAnalyses  AchievementID = "ten-analyses"
)

// Achievement is a one-time milestone. Unlocked is evaluated against the
// score of the analysis just completed and the updated analysis count.
type Achievement struct {
	ID           AchievementID
	Label        string
	Announcement string
	Unlocked     func(score, analysisCount int) bool
}

var catalog = []Achievement{
	{
		ID:           PerfectScore,
		Label:        "Perfect Score",
		Announcement: "Achievement unlocked: Perfect Score (90+)!",
		Unlocked:     func(score, _ int) bool { return score >= 90 },
	},
	{
		ID:           FiveAnalyses,
		Label:        "5 Analyses",
		Announcement: "Achievement unlocked: Five Analyses Complete!",
		Unlocked:     func(_, count int) bool { return count == 5 },
	},
	{
		ID:           TenAnalyses,
		Label:        "Compliance Master",
		Announcement: "Achievement unlocked: Compliance Master!",
		Unlocked:     func(_, count int) bool { return count == 10 },
	},
}

// Catalog returns the achievements in evaluation order.
func Catalog() []Achievement {
	return slices.Clone(catalog)
}

// Lookup returns the catalog entry for id.
func Lookup(id AchievementID) (Achievement, bool) {
	for _, a := range catalog {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// Label returns the display label for id, or the id itself if unknown.
func Label(id AchievementID) string {
	if a, ok := Lookup(id); ok {
		return a.Label
	}
	return string(id)
}

// Announcement returns the notification text for an unlocked achievement.
func Announcement(id AchievementID) string {
	if a, ok := Lookup(id); ok {
		return a.Announcement
	}
	return "Achievement unlocked: " + string(id) + "!"
}

// State is the persisted progress document.
type State struct {
	Version              int             `json:"version"`
	AnalysisCount        int             `json:"analysisCount"`
	ConsecutiveSuccesses int             `json:"consecutiveSuccesses"`
	Achievements         []AchievementID `json:"achievements"`
}

// ZeroState returns the state of a user with no history.
func ZeroState() State {
	return State{Version: CurrentVersion, Achievements: []AchievementID{}}
}

// Has reports whether id is unlocked.
func (s State) Has(id AchievementID) bool {
	return slices.Contains(s.Achievements, id)
}

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	c := s
	c.Achievements = slices.Clone(s.Achievements)
	if c.Achievements == nil {
		c.Achievements = []AchievementID{}
	}
	return c
}

// ApplySuccess records a successful analysis. It returns the new state and
// the achievements unlocked by this call, in catalog order.
func ApplySuccess(s State, result compliance.AnalysisResult) (State, []AchievementID) {
	next := s.Clone()
	next.Version = CurrentVersion
	next.AnalysisCount++
	next.ConsecutiveSuccesses++

	var unlocked []AchievementID
	for _, a := range catalog {
		if next.Has(a.ID) {
			continue
		}
		if a.Unlocked(result.ComplianceScore, next.AnalysisCount) {
			next.Achievements = append(next.Achievements, a.ID)
			unlocked = append(unlocked, a.ID)
		}
	}
	return next, unlocked
}

// ApplyFailure records a failed analysis: the streak resets, everything else
// is kept.
func ApplyFailure(s State) State {
	next := s.Clone()
	next.Version = CurrentVersion
	next.ConsecutiveSuccesses = 0
	return next
}

// Encode serializes s as a progress document.
func Encode(s State) ([]byte, error) {
	s = s.Clone()
	s.Version = CurrentVersion
	return json.Marshal(s)
}

// Decode parses a progress document. Unparsable input yields the zero state
// and ok=false. Negative counters are zeroed; unknown and duplicate
// achievement ids are dropped.
func Decode(data []byte) (s State, ok bool) {
	var raw State
	if err := json.Unmarshal(data, &raw); err != nil {
		return ZeroState(), false
	}

	s = ZeroState()
	s.AnalysisCount = max(raw.AnalysisCount, 0)
	s.ConsecutiveSuccesses = max(raw.ConsecutiveSuccesses, 0)
	for _, id := range raw.Achievements {
		if _, known := Lookup(id); !known || s.Has(id) {
			continue
		}
		s.Achievements = append(s.Achievements, id)
	}
	return s, true
}
