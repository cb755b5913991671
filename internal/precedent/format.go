package precedent

import (
	"fmt"
	"strings"

	"github.com/alekb/botesq/internal/domain"
)

// FormatContext renders a precedent result as a prompt-injectable block.
// Zero cases render as an empty string so the arbitration prompt is not
// padded with an empty section.
func FormatContext(result domain.PrecedentResult) string {
	if len(result.Cases) == 0 {
		return ""
	}
	var b strings.Builder
	if result.CorpusSize > 0 {
		fmt.Fprintf(&b, "HISTORICAL PRECEDENT (from %d prior cases):\n", result.CorpusSize)
	} else {
		b.WriteString("HISTORICAL PRECEDENT:\n")
	}
	for i, c := range result.Cases {
		fmt.Fprintf(&b, "\nCase %d (relevance %d%%):\n", i+1, int(domain.Clamp01(c.RelevanceScore)*100+0.5))
		fmt.Fprintf(&b, "- Claim type: %s\n", c.ClaimType)
		fmt.Fprintf(&b, "- Summary: %s\n", c.Summary)
		fmt.Fprintf(&b, "- Ruling: %s\n", c.Ruling)
		fmt.Fprintf(&b, "- Reasoning: %s\n", c.Reasoning)
		if len(c.KeyFactors) > 0 {
			fmt.Fprintf(&b, "- Key factors: %s\n", strings.Join(c.KeyFactors, "; "))
		}
		if c.DecidedAt != nil {
			fmt.Fprintf(&b, "- Decided: %s\n", c.DecidedAt.Format("2006-01-02"))
		}
		if amount, ok := c.Metadata["disputed_amount"]; ok && amount != "" {
			fmt.Fprintf(&b, "- Disputed amount: %s\n", amount)
		}
		if arb, ok := c.Metadata["arbitrator"]; ok && arb != "" {
			fmt.Fprintf(&b, "- Arbitrator: %s\n", arb)
		}
	}
	return b.String()
}
