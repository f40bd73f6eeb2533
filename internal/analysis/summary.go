package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/masumiguard/internal/compliance"
)

const summaryTimeLayout = "Jan 2, 2006 3:04:05 PM MST"

var riskParagraphs = map[compliance.RiskLevel]string{
	compliance.RiskLow:    "The wallet demonstrates normal transaction patterns with minimal risk indicators. Standard monitoring is recommended.",
	compliance.RiskMedium: "The wallet shows some concerning patterns that warrant additional scrutiny. Enhanced due diligence is advised.",
	compliance.RiskHigh:   "The wallet exhibits multiple high-risk indicators requiring immediate attention and potential restrictions.",
}

const hashPrefixRunes = 16

// Summary renders a plain-text report of result generated at the given time.
// Unknown risk levels are described as high risk.
func Summary(result *compliance.AnalysisResult, at time.Time) string {
	if result == nil {
		return ""
	}

	hash := result.TxHash
	if r := []rune(hash); len(r) > hashPrefixRunes {
		hash = string(r[:hashPrefixRunes])
	}
	paragraph, ok := riskParagraphs[result.RiskLevel]
	if !ok {
		paragraph = riskParagraphs[compliance.RiskHigh]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Based on the analysis of transaction %s..., this wallet has been assigned a compliance score of %d/100, categorizing it as %s risk.\n\n",
		hash, result.ComplianceScore, result.RiskLevel)
	b.WriteString("Key Risk Factors Identified:\n")
	writeNumbered(&b, result.Issues)
	b.WriteString("\nAnalysis Summary:\n")
	b.WriteString(paragraph)
	b.WriteString("\n\nRecommendations:\n")
	writeNumbered(&b, result.Recommendations)
	fmt.Fprintf(&b, "\nGenerated by MasumiGuard AI Compliance Engine at %s", at.Format(summaryTimeLayout))
	return b.String()
}

func writeNumbered(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("None\n")
		return
	}
	for i, item := range items {
		fmt.Fprintf(b, "%d. %s\n", i+1, item)
	}
}
