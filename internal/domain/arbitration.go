package domain

import (
	"strings"
	"time"
)

const (
	DisputeStatusFiled            = "FILED"
	DisputeStatusAwaitingResponse = "AWAITING_RESPONSE"
	DisputeStatusResponseReceived = "RESPONSE_RECEIVED"
	DisputeStatusInArbitration    = "IN_ARBITRATION"
	DisputeStatusRuled            = "RULED"
	DisputeStatusAccepted         = "ACCEPTED"
	DisputeStatusRejected         = "REJECTED"
	DisputeStatusEscalated        = "ESCALATED"
	DisputeStatusDecided          = "DECIDED"
	DisputeStatusClosed           = "CLOSED"
)

const (
	RulingClaimant   = "CLAIMANT"
	RulingRespondent = "RESPONDENT"
	RulingSplit      = "SPLIT"
	RulingDismissed  = "DISMISSED"
)

type DisputeEvidence struct {
	EvidenceID    string    `json:"evidence_id"`
	SubmitterRole string    `json:"submitter_role"`
	EvidenceType  string    `json:"evidence_type"`
	Title         string    `json:"title"`
	Content       string    `json:"content"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Dispute is owned by the dispute lifecycle collaborator; this service reads
// it as arbitration input and writes back a ruling.
type Dispute struct {
	DisputeID              string            `json:"dispute_id"`
	Status                 string            `json:"status"`
	ClaimType              string            `json:"claim_type"`
	ClaimText              string            `json:"claim_text"`
	ResponseText           string            `json:"response_text,omitempty"`
	ResponseReceived       bool              `json:"response_received"`
	ClaimantID             string            `json:"claimant_id"`
	RespondentID           string            `json:"respondent_id"`
	ClaimantComplete       bool              `json:"claimant_complete"`
	RespondentComplete     bool              `json:"respondent_complete"`
	TransactionTitle       string            `json:"transaction_title"`
	TransactionDescription string            `json:"transaction_description,omitempty"`
	TransactionTerms       string            `json:"transaction_terms,omitempty"`
	StatedValue            float64           `json:"stated_value"`
	ClaimantTrustScore     float64           `json:"claimant_trust_score"`
	RespondentTrustScore   float64           `json:"respondent_trust_score"`
	Evidence               []DisputeEvidence `json:"evidence,omitempty"`
	ResponseDeadline       *time.Time        `json:"response_deadline,omitempty"`
	GraceDeadline          *time.Time        `json:"grace_deadline,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

type ArbitrationDetails struct {
	Confidence        float64  `json:"confidence"`
	KeyFactors        []string `json:"key_factors"`
	MitigatingFactors []string `json:"mitigating_factors"`
	Recommendation    string   `json:"recommendation"`
}

type PrecedentCitation struct {
	CaseID         string  `json:"case_id"`
	RelevanceScore float64 `json:"relevance_score"`
	Source         string  `json:"source"`
}

type ArbitrationResult struct {
	Ruling             string              `json:"ruling"`
	Reasoning          string              `json:"reasoning"`
	Details            ArbitrationDetails  `json:"details"`
	PrecedentCitations []PrecedentCitation `json:"precedent_citations,omitempty"`
}

type DisputeRuling struct {
	RulingID   string            `json:"ruling_id"`
	DisputeID  string            `json:"dispute_id"`
	Result     ArbitrationResult `json:"result"`
	TrustDelta float64           `json:"trust_delta"`
	RuledAt    time.Time         `json:"ruled_at"`
}

func NormalizeRuling(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case RulingClaimant:
		return RulingClaimant
	case RulingRespondent:
		return RulingRespondent
	case RulingSplit:
		return RulingSplit
	case RulingDismissed:
		return RulingDismissed
	default:
		return ""
	}
}

func NormalizeClaimType(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Clamp01 bounds parser-supplied scores into [0,1]; upstream engines are not
// trusted to respect the range.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ReadyForArbitration reports whether a dispute has reached one of the three
// trigger conditions: both parties marked submission complete, the
// post-response grace period expired, or the response deadline lapsed
// unanswered. The engine runs with whatever evidence exists at trigger time.
func ReadyForArbitration(d Dispute, now time.Time) bool {
	switch d.Status {
	case DisputeStatusAwaitingResponse:
		return d.ResponseDeadline != nil && now.After(*d.ResponseDeadline)
	case DisputeStatusResponseReceived:
		if d.ClaimantComplete && d.RespondentComplete {
			return true
		}
		return d.GraceDeadline != nil && now.After(*d.GraceDeadline)
	case DisputeStatusInArbitration:
		return true
	default:
		return false
	}
}
