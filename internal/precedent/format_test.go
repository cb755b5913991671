package precedent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alekb/botesq/internal/domain"
)

func TestFormatContextEmpty(t *testing.T) {
	t.Parallel()
	if got := FormatContext(domain.PrecedentResult{Source: "none"}); got != "" {
		t.Fatalf("expected empty block for zero cases, got %q", got)
	}
}

func TestFormatContextRendersCases(t *testing.T) {
	t.Parallel()
	decided := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	block := FormatContext(domain.PrecedentResult{
		CorpusSize: 42,
		Cases: []domain.PrecedentCase{
			{
				CaseID:         "case-1",
				ClaimType:      "non_delivery",
				Summary:        "Service never delivered after payment.",
				Ruling:         domain.RulingClaimant,
				Reasoning:      "No evidence of any delivery attempt.",
				KeyFactors:     []string{"payment confirmed", "no delivery record"},
				RelevanceScore: 0.9,
				DecidedAt:      &decided,
				Metadata:       map[string]string{"disputed_amount": "250.00"},
			},
			{
				CaseID:         "case-2",
				ClaimType:      "quality",
				Summary:        "Deliverable below agreed standard.",
				Ruling:         domain.RulingSplit,
				Reasoning:      "Terms were ambiguous.",
				RelevanceScore: 1.7,
			},
		},
	})

	for _, want := range []string{
		"HISTORICAL PRECEDENT (from 42 prior cases):",
		"Case 1 (relevance 90%):",
		"Case 2 (relevance 100%):",
		"- Key factors: payment confirmed; no delivery record",
		"- Decided: 2025-11-02",
		"- Disputed amount: 250.00",
	} {
		if !strings.Contains(block, want) {
			t.Fatalf("block missing %q:\n%s", want, block)
		}
	}
}

func TestRegistryDefaultsToNoop(t *testing.T) {
	Reset()
	p := Active()
	if !p.Available(context.Background()) {
		t.Fatal("noop provider should report available")
	}
	result, err := p.FindRelevant(context.Background(), domain.Dispute{ClaimType: "quality"}, 3)
	if err != nil {
		t.Fatalf("find relevant: %v", err)
	}
	if len(result.Cases) != 0 || result.Source != "none" {
		t.Fatalf("unexpected noop result: %+v", result)
	}
}

func TestRegisterNilRestoresNoop(t *testing.T) {
	Register(nil)
	if _, ok := Active().(NoopProvider); !ok {
		t.Fatalf("expected NoopProvider after nil registration, got %T", Active())
	}
}
