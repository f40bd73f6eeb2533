package gamification

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/masumiguard/internal/compliance"
)

func result(score int) compliance.AnalysisResult {
	return compliance.AnalysisResult{TxHash: "abc123", ComplianceScore: score, RiskLevel: compliance.RiskMedium}
}

func TestApplySuccess_FiveAnalysesUnlocksExactlyOnce(t *testing.T) {
	s := ZeroState()
	for i := 1; i <= 12; i++ {
		var unlocked []AchievementID
		s, unlocked = ApplySuccess(s, result(50))
		switch i {
		case 5:
			assert.Equal(t, []AchievementID{FiveAnalyses}, unlocked, "count %d", i)
		case 10:
			assert.Equal(t, []AchievementID{TenAnalyses}, unlocked, "count %d", i)
		default:
			assert.Empty(t, unlocked, "count %d", i)
		}
	}
	assert.Equal(t, 12, s.AnalysisCount)
	assert.Equal(t, []AchievementID{FiveAnalyses, TenAnalyses}, s.Achievements)
}

func TestApplySuccess_PerfectScore(t *testing.T) {
	s, unlocked := ApplySuccess(ZeroState(), result(89))
	assert.Empty(t, unlocked)

	s, unlocked = ApplySuccess(s, result(90))
	assert.Equal(t, []AchievementID{PerfectScore}, unlocked)

	_, unlocked = ApplySuccess(s, result(100))
	assert.Empty(t, unlocked, "already unlocked")
}

func TestApplySuccess_MultipleUnlocksInCatalogOrder(t *testing.T) {
	s := State{AnalysisCount: 4, Achievements: []AchievementID{}}
	_, unlocked := ApplySuccess(s, result(95))
	assert.Equal(t, []AchievementID{PerfectScore, FiveAnalyses}, unlocked)
}

func TestStreak(t *testing.T) {
	s := ZeroState()
	s, _ = ApplySuccess(s, result(10))
	s, _ = ApplySuccess(s, result(10))
	assert.Equal(t, 2, s.ConsecutiveSuccesses)

	s = ApplyFailure(s)
	assert.Equal(t, 0, s.ConsecutiveSuccesses)
	assert.Equal(t, 2, s.AnalysisCount)

	s = ApplyFailure(s)
	assert.Equal(t, 0, s.ConsecutiveSuccesses)

	s, _ = ApplySuccess(s, result(10))
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

func TestApplyFailure_KeepsAchievements(t *testing.T) {
	s, _ := ApplySuccess(ZeroState(), result(99))
	after := ApplyFailure(s)
	assert.Equal(t, s.Achievements, after.Achievements)
	assert.Equal(t, s.AnalysisCount, after.AnalysisCount)
}

func TestApplySuccess_DoesNotMutateInput(t *testing.T) {
	s := State{Achievements: make([]AchievementID, 0, 4)}
	next, _ := ApplySuccess(s, result(95))
	assert.Empty(t, s.Achievements)
	assert.Zero(t, s.AnalysisCount)
	assert.Len(t, next.Achievements, 1)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		want   State
		wantOK bool
	}{
		{
			name:   "versioned",
			doc:    `{"version":1,"analysisCount":7,"consecutiveSuccesses":3,"achievements":["perfect-score","five-analyses"]}`,
			want:   State{Version: 1, AnalysisCount: 7, ConsecutiveSuccesses: 3, Achievements: []AchievementID{PerfectScore, FiveAnalyses}},
			wantOK: true,
		},
		{
			name:   "legacy without version",
			doc:    `{"analysisCount":2,"consecutiveSuccesses":2,"achievements":[]}`,
			want:   State{Version: 1, AnalysisCount: 2, ConsecutiveSuccesses: 2, Achievements: []AchievementID{}},
			wantOK: true,
		},
		{
			name:   "sanitized",
			doc:    `{"analysisCount":-4,"consecutiveSuccesses":-1,"achievements":["bogus","ten-analyses","ten-analyses"]}`,
			want:   State{Version: 1, Achievements: []AchievementID{TenAnalyses}},
			wantOK: true,
		},
		{
			name: "corrupt",
			doc:  `{"analysisCount":`,
			want: ZeroState(),
		},
		{
			name: "wrong shape",
			doc:  `["perfect-score"]`,
			want: ZeroState(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode([]byte(tt.doc))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode_DocumentShape(t *testing.T) {
	doc, err := Encode(State{AnalysisCount: 1, ConsecutiveSuccesses: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"analysisCount":1,"consecutiveSuccesses":1,"achievements":[]}`, string(doc))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Perfect Score", Label(PerfectScore))
	assert.Equal(t, "5 Analyses", Label(FiveAnalyses))
	assert.Equal(t, "Compliance Master", Label(TenAnalyses))
	assert.Equal(t, "mystery", Label("mystery"))
}
