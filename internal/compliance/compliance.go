// Package compliance defines the request and result types shared by the
// analysis, gamification and attestation layers.
//
// Scores are produced by an external scoring service. This package never
// computes them; it only normalizes what the service returns.
package compliance

import (
	"strings"
)

// RiskLevel is the scorer's categorical verdict.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// Valid reports whether l is one of the known levels.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// AnalysisRequest is the user input for one analysis.
type AnalysisRequest struct {
	TxHash        string `json:"txHash"`
	WalletAddress string `json:"walletAddress"`
}

// Normalize trims surrounding whitespace from both fields.
func (r AnalysisRequest) Normalize() AnalysisRequest {
	return AnalysisRequest{
		TxHash:        strings.TrimSpace(r.TxHash),
		WalletAddress: strings.TrimSpace(r.WalletAddress),
	}
}

// AnalysisResult is the scoring service's verdict for a request.
type AnalysisResult struct {
	TxHash          string    `json:"txHash"`
	ComplianceScore int       `json:"complianceScore"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	Issues          []string  `json:"issues"`
	Recommendations []string  `json:"recommendations"`
}

// Clone returns a deep copy so callers cannot mutate shared slices.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Issues = append([]string(nil), r.Issues...)
	cp.Recommendations = append([]string(nil), r.Recommendations...)
	return &cp
}

// Normalize clamps the score into [MinScore, MaxScore] and replaces nil
// lists with empty ones. The risk level is kept exactly as supplied.
func (r *AnalysisResult) Normalize() {
	r.ComplianceScore = ClampScore(r.ComplianceScore)
	if r.Issues == nil {
		r.Issues = []string{}
	}
	if r.Recommendations == nil {
		r.Recommendations = []string{}
	}
}

// ClampScore bounds a raw score to [MinScore, MaxScore].
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
