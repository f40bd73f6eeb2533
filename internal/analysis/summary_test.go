package analysis

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/mbd888/masumiguard/internal/compliance"
)

func TestSummary(t *testing.T) {
	at := time.Date(2025, 3, 1, 14, 5, 9, 0, time.UTC)
	res := &compliance.AnalysisResult{
		TxHash:          "0123456789abcdef0123456789abcdef",
		ComplianceScore: 42,
		RiskLevel:       compliance.RiskMedium,
		Issues:          []string{"Interaction with mixer", "High velocity"},
		Recommendations: []string{"Enhanced due diligence"},
	}

	want := strings.Join([]string{
		"Based on the analysis of transaction 0123456789abcdef..., this wallet has been assigned a compliance score of 42/100, categorizing it as Medium risk.",
		"",
		"Key Risk Factors Identified:",
		"1. Interaction with mixer",
		"2. High velocity",
		"",
		"Analysis Summary:",
		"The wallet shows some concerning patterns that warrant additional scrutiny. Enhanced due diligence is advised.",
		"",
		"Recommendations:",
		"1. Enhanced due diligence",
		"",
		"Generated by MasumiGuard AI Compliance Engine at Mar 1, 2025 2:05:09 PM UTC",
	}, "\n")
	assert.Equal(t, want, Summary(res, at))
}

func TestSummary_ShortHashAndNoIssues(t *testing.T) {
	res := &compliance.AnalysisResult{TxHash: "abc123", ComplianceScore: 95, RiskLevel: compliance.RiskLow}
	out := Summary(res, time.Unix(0, 0).UTC())

	assert.Contains(t, out, "transaction abc123...,")
	assert.Contains(t, out, "Key Risk Factors Identified:\nNone\n")
	assert.Contains(t, out, "Standard monitoring is recommended.")
}

func TestSummary_TruncatesHashByRune(t *testing.T) {
	res := &compliance.AnalysisResult{TxHash: strings.Repeat("€", 16) + "xyz", RiskLevel: compliance.RiskLow}
	out := Summary(res, time.Now())
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "transaction "+strings.Repeat("€", 16)+"...,")
	assert.NotContains(t, out, "xyz")
}

func TestSummary_UnknownLevelReadsAsHigh(t *testing.T) {
	res := &compliance.AnalysisResult{TxHash: "x", RiskLevel: "Severe"}
	assert.Contains(t, Summary(res, time.Unix(0, 0)), "immediate attention")
}

func TestSummary_Nil(t *testing.T) {
	assert.Empty(t, Summary(nil, time.Now()))
}
