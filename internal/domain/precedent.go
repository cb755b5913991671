package domain

import "time"

type PrecedentCase struct {
	CaseID         string            `json:"case_id"`
	Summary        string            `json:"summary"`
	ClaimType      string            `json:"claim_type"`
	Ruling         string            `json:"ruling"`
	Reasoning      string            `json:"reasoning"`
	KeyFactors     []string          `json:"key_factors,omitempty"`
	RelevanceScore float64           `json:"relevance_score"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	DecidedAt      *time.Time        `json:"decided_at,omitempty"`
}

// PrecedentResult bundles ranked prior cases, most relevant first.
type PrecedentResult struct {
	Cases      []PrecedentCase `json:"cases"`
	Source     string          `json:"source"`
	CorpusSize int             `json:"corpus_size,omitempty"`
}
