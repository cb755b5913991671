package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
	"github.com/alekb/botesq/internal/precedent"
)

const arbitrationSystemPrompt = `You are an impartial arbitrator resolving disputes between autonomous agents.
Weigh the evidence and issue exactly one ruling:
- CLAIMANT: the claim is substantiated and the claimant prevails
- RESPONDENT: the claim is not substantiated and the respondent prevails
- SPLIT: both parties bear partial responsibility
- DISMISSED: the claim is frivolous, out of scope, or unsupported

Evaluate: clarity of the agreed terms, whether performance matched them,
credibility and completeness of submitted evidence, each party's trust-score
context, and proportionality of the claimed amount to the harm shown.

Respond with JSON only:
{"ruling": "...", "reasoning": "...", "confidence": 0.0, "key_factors": [], "mitigating_factors": [], "recommendation": "..."}`

// ArbitrateDispute runs the arbitration engine against a dispute, persists
// the ruling, and applies trust-score consequences. The ruling produced here
// is the sole input to the trust delta computation.
func (s *Service) ArbitrateDispute(ctx context.Context, actor Actor, disputeID string) (domain.DisputeRuling, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.DisputeRuling{}, domain.ErrUnauthorized
	}
	if s.disputes == nil {
		return domain.DisputeRuling{}, domain.ErrNotFound
	}
	dispute, err := s.disputes.GetByID(ctx, strings.TrimSpace(disputeID))
	if err != nil {
		return domain.DisputeRuling{}, err
	}
	now := s.nowFn()
	if !domain.ReadyForArbitration(dispute, now) {
		return domain.DisputeRuling{}, domain.ErrConflict
	}

	result, err := s.arbitrate(ctx, dispute)
	if err != nil {
		return domain.DisputeRuling{}, err
	}

	ruling := domain.DisputeRuling{
		RulingID:  "rul-" + uuid.NewString(),
		DisputeID: dispute.DisputeID,
		Result:    result,
		RuledAt:   s.nowFn(),
	}
	if s.trust != nil {
		ruling.TrustDelta = s.trust.ComputeDelta(result.Ruling, dispute.StatedValue, result.Details.Confidence)
	}
	if err := s.disputes.RecordRuling(ctx, ruling); err != nil {
		return domain.DisputeRuling{}, err
	}
	s.applyTrustConsequences(ctx, dispute, ruling)
	_ = s.recordAudit(ctx, "arbitration.ruled", actor.SubjectID, dispute.DisputeID, map[string]string{
		"ruling":    result.Ruling,
		"ruling_id": ruling.RulingID,
	})
	s.publishEvent(ctx, domain.EventDisputeRuled, map[string]any{
		"dispute_id": dispute.DisputeID,
		"ruling_id":  ruling.RulingID,
		"ruling":     result.Ruling,
		"confidence": result.Details.Confidence,
	}, dispute.DisputeID)
	return ruling, nil
}

func (s *Service) ListPendingArbitration(ctx context.Context, actor Actor) ([]domain.Dispute, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return nil, domain.ErrUnauthorized
	}
	if s.disputes == nil {
		return nil, nil
	}
	return s.disputes.ListPendingArbitration(ctx)
}

// arbitrate builds the case prompt, invokes the text-generation engine, and
// parses the structured ruling. Optional context fetches (calibration note,
// precedent) are best-effort; engine transport failures are not.
func (s *Service) arbitrate(ctx context.Context, dispute domain.Dispute) (domain.ArbitrationResult, error) {
	if s.generator == nil || !s.generator.Available() {
		return domain.ArbitrationResult{}, domain.ErrDependencyUnavailable
	}

	system := arbitrationSystemPrompt
	if s.calibration != nil {
		if note, err := s.calibration.CalibrationNote(ctx); err == nil && strings.TrimSpace(note) != "" {
			system += "\n\nCALIBRATION:\n" + strings.TrimSpace(note)
		} else if err != nil {
			slog.WarnContext(ctx, "calibration note unavailable", "module", "arbitration", "error", err)
		}
	}

	var cases []domain.PrecedentCase
	if s.precedent != nil && s.precedent.Available(ctx) {
		result, err := s.precedent.FindRelevant(ctx, dispute, s.cfg.MaxPrecedentCases)
		if err != nil {
			slog.WarnContext(ctx, "precedent lookup failed", "module", "arbitration", "dispute_id", dispute.DisputeID, "error", err)
		} else {
			cases = result.Cases
			if block := precedent.FormatContext(result); block != "" {
				system += "\n\n" + block
			}
		}
	}

	gen, err := s.generator.Generate(ctx, []ports.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: buildCaseNarrative(dispute)},
	}, ports.GenerateOptions{
		Temperature: s.cfg.ArbitrationTemp,
		MaxTokens:   s.cfg.ArbitrationTokens,
		Timeout:     s.cfg.GenerationTimeout,
	})
	if err != nil {
		return domain.ArbitrationResult{}, err
	}

	result := parseArbitrationResult(gen.Content)
	if len(cases) > 0 {
		citations := make([]domain.PrecedentCitation, 0, len(cases))
		for _, c := range cases {
			citations = append(citations, domain.PrecedentCitation{
				CaseID:         c.CaseID,
				RelevanceScore: domain.Clamp01(c.RelevanceScore),
				Source:         c.Metadata["source"],
			})
		}
		result.PrecedentCitations = citations
	}
	return result, nil
}

func buildCaseNarrative(d domain.Dispute) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TRANSACTION: %s\n", d.TransactionTitle)
	if d.TransactionDescription != "" {
		fmt.Fprintf(&b, "Description: %s\n", d.TransactionDescription)
	}
	if d.TransactionTerms != "" {
		fmt.Fprintf(&b, "Agreed terms: %s\n", d.TransactionTerms)
	}
	fmt.Fprintf(&b, "Stated value: %.2f\n", d.StatedValue)

	fmt.Fprintf(&b, "\nCLAIM (%s):\n%s\n", d.ClaimType, d.ClaimText)
	fmt.Fprintf(&b, "Claimant trust score: %.1f\n", d.ClaimantTrustScore)

	b.WriteString("\nRESPONSE:\n")
	if d.ResponseReceived && strings.TrimSpace(d.ResponseText) != "" {
		b.WriteString(d.ResponseText + "\n")
	} else {
		b.WriteString("The respondent has not yet responded.\n")
	}
	fmt.Fprintf(&b, "Respondent trust score: %.1f\n", d.RespondentTrustScore)

	b.WriteString("\nEVIDENCE:\n")
	if len(d.Evidence) == 0 {
		b.WriteString("No additional evidence submitted.\n")
	}
	for i, ev := range d.Evidence {
		fmt.Fprintf(&b, "%d. [%s / %s] %s: %s\n", i+1, ev.SubmitterRole, ev.EvidenceType, ev.Title, ev.Content)
	}
	return b.String()
}

type arbitrationWire struct {
	Ruling            string   `json:"ruling"`
	Reasoning         string   `json:"reasoning"`
	Confidence        float64  `json:"confidence"`
	KeyFactors        []string `json:"key_factors"`
	MitigatingFactors []string `json:"mitigating_factors"`
	Recommendation    string   `json:"recommendation"`
}

// parseArbitrationResult never fails: malformed engine output degrades to a
// conservative SPLIT at 0.5 confidence so a ruling is always produced.
func parseArbitrationResult(raw string) domain.ArbitrationResult {
	var wire arbitrationWire
	if err := json.Unmarshal([]byte(extractJSON(raw)), &wire); err != nil {
		return fallbackResult()
	}
	ruling := domain.NormalizeRuling(wire.Ruling)
	if ruling == "" {
		return fallbackResult()
	}
	return domain.ArbitrationResult{
		Ruling:    ruling,
		Reasoning: strings.TrimSpace(wire.Reasoning),
		Details: domain.ArbitrationDetails{
			Confidence:        domain.Clamp01(wire.Confidence),
			KeyFactors:        wire.KeyFactors,
			MitigatingFactors: wire.MitigatingFactors,
			Recommendation:    strings.TrimSpace(wire.Recommendation),
		},
	}
}

func fallbackResult() domain.ArbitrationResult {
	return domain.ArbitrationResult{
		Ruling:    domain.RulingSplit,
		Reasoning: "The arbitration engine was unable to make a clear determination from the submitted materials; responsibility is split pending human review.",
		Details: domain.ArbitrationDetails{
			Confidence:     0.5,
			Recommendation: "Escalate to a human arbitrator for confirmation.",
		},
	}
}

// extractJSON tolerates engines that wrap JSON in code fences or prose.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			return raw[start : end+1]
		}
	}
	return raw
}

func (s *Service) applyTrustConsequences(ctx context.Context, dispute domain.Dispute, ruling domain.DisputeRuling) {
	if s.trust == nil || ruling.TrustDelta == 0 {
		return
	}
	delta := ruling.TrustDelta
	switch ruling.Result.Ruling {
	case domain.RulingClaimant:
		s.applyDelta(ctx, dispute.ClaimantID, delta, "dispute won", ruling.RulingID)
		s.applyDelta(ctx, dispute.RespondentID, -delta, "dispute lost", ruling.RulingID)
		_ = s.trust.RecordOutcome(ctx, dispute.ClaimantID, true)
		_ = s.trust.RecordOutcome(ctx, dispute.RespondentID, false)
	case domain.RulingRespondent:
		s.applyDelta(ctx, dispute.RespondentID, delta, "dispute won", ruling.RulingID)
		s.applyDelta(ctx, dispute.ClaimantID, -delta, "dispute lost", ruling.RulingID)
		_ = s.trust.RecordOutcome(ctx, dispute.RespondentID, true)
		_ = s.trust.RecordOutcome(ctx, dispute.ClaimantID, false)
	}
}

func (s *Service) applyDelta(ctx context.Context, agentID string, delta float64, reason, rulingID string) {
	if err := s.trust.ApplyDelta(ctx, agentID, delta, reason, "ruling", rulingID); err != nil {
		slog.WarnContext(ctx, "trust delta not applied", "module", "arbitration", "agent_id", agentID, "error", err)
	}
}
