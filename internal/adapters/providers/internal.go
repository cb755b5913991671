// Package providers implements the capability adapters the routing service
// dispatches to: the in-process engine and webhook-backed external
// providers, plus the TTL cache that hands adapters out.
package providers

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
)

const internalErrorRateCeiling = 0.10

// InternalAdapter fulfills service requests with the in-process
// text-generation engine. Synchronous only; health is a self-report from
// rolling counters.
type InternalAdapter struct {
	generator ports.TextGenerator

	requests    atomic.Uint64
	failures    atomic.Uint64
	inflight    atomic.Int64
	latencySum  atomic.Int64 // milliseconds
	maxCapacity int
	nowFn       func() time.Time
}

func NewInternalAdapter(generator ports.TextGenerator) *InternalAdapter {
	return &InternalAdapter{generator: generator, maxCapacity: 50, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (a *InternalAdapter) ProviderID() string   { return domain.InternalProviderID }
func (a *InternalAdapter) ProviderName() string { return "Internal AI Engine" }

func (a *InternalAdapter) GetCapabilities(context.Context) (domain.ProviderCapabilities, error) {
	return domain.ProviderCapabilities{
		ServiceTypes: []string{
			domain.ServiceTypeLegalQA,
			domain.ServiceTypeDocumentReview,
			domain.ServiceTypeConsultation,
			domain.ServiceTypeDocumentDraft,
		},
		Jurisdictions:          []string{"*"},
		MaxConcurrentRequests:  a.maxCapacity,
		AverageResponseMinutes: 1,
		SupportsUrgent:         true,
		SupportsAsync:          false,
	}, nil
}

func (a *InternalAdapter) CheckHealth(context.Context) domain.ProviderHealth {
	requests := a.requests.Load()
	failures := a.failures.Load()
	var errorRate float64
	var avgMs int64
	if requests > 0 {
		errorRate = float64(failures) / float64(requests)
		avgMs = a.latencySum.Load() / int64(requests)
	}
	return domain.ProviderHealth{
		Healthy:           errorRate <= internalErrorRateCeiling,
		CurrentLoad:       int(a.inflight.Load()),
		MaxCapacity:       a.maxCapacity,
		AverageResponseMs: avgMs,
		ErrorRate:         errorRate,
		LastChecked:       a.nowFn(),
	}
}

func (a *InternalAdapter) ProcessRequest(ctx context.Context, req domain.ServiceRequest) domain.ServiceResponse {
	start := a.nowFn()
	a.requests.Add(1)
	a.inflight.Add(1)
	defer a.inflight.Add(-1)

	resp := a.dispatch(ctx, req)
	resp.RequestID = req.RequestID
	resp.ProcessingTimeMs = a.nowFn().Sub(start).Milliseconds()
	a.latencySum.Add(resp.ProcessingTimeMs)
	if resp.Status == domain.ResponseStatusFailed && resp.Error != nil {
		switch resp.Error.Code {
		case domain.ErrCodeAnalysisFailed, domain.ErrCodeInternalError:
			a.failures.Add(1)
		}
	}
	if resp.Status != domain.ResponseStatusFailed {
		resp.CreditsUsed = domain.EstimateCredits(req.ServiceType, domain.IsUrgent(req.Content), domain.PageCount(req.Content))
	}
	return resp
}

func (a *InternalAdapter) dispatch(ctx context.Context, req domain.ServiceRequest) domain.ServiceResponse {
	if a.generator == nil || !a.generator.Available() {
		return failed(domain.ErrCodeInternalError, "text-generation engine not configured")
	}
	switch req.ServiceType {
	case domain.ServiceTypeLegalQA:
		return a.legalQA(ctx, req)
	case domain.ServiceTypeDocumentReview:
		return a.documentReview(ctx, req)
	case domain.ServiceTypeConsultation:
		return a.consultation(ctx, req)
	default:
		return a.generic(ctx, req)
	}
}

func (a *InternalAdapter) legalQA(ctx context.Context, req domain.ServiceRequest) domain.ServiceResponse {
	question := stringField(req.Content, "question")
	if question == "" {
		return failed(domain.ErrCodeMissingQuestion, "legal Q&A requests require a question")
	}
	prompt := question
	if j := stringField(req.Content, "jurisdiction"); j != "" {
		prompt += "\nJurisdiction: " + j
	}
	gen, err := a.generate(ctx,
		`You answer legal questions for autonomous agents. Respond with JSON: {"answer": "...", "confidence": 0.0, "caveats": []}`,
		prompt, 1500)
	if err != nil {
		return failed(domain.ErrCodeAnalysisFailed, "analysis failed: "+err.Error())
	}
	var wire struct {
		Answer     string   `json:"answer"`
		Confidence float64  `json:"confidence"`
		Caveats    []string `json:"caveats"`
	}
	if parseErr := json.Unmarshal([]byte(extractJSON(gen.Content)), &wire); parseErr != nil || wire.Answer == "" {
		wire.Answer = strings.TrimSpace(gen.Content)
		wire.Confidence = 0.4
	}
	confidence := domain.Clamp01(wire.Confidence)
	resp := domain.ServiceResponse{
		Status: domain.ResponseStatusCompleted,
		Content: map[string]any{
			"answer":     wire.Answer,
			"confidence": confidence,
			"caveats":    wire.Caveats,
		},
	}
	if confidence < 0.6 {
		resp.Status = domain.ResponseStatusRequiresEscalation
		resp.Escalation = &domain.Escalation{
			Reason:          "answer confidence below review threshold",
			SuggestedAction: "route to a human attorney for confirmation",
		}
	}
	return resp
}

func (a *InternalAdapter) documentReview(ctx context.Context, req domain.ServiceRequest) domain.ServiceResponse {
	docRef := stringField(req.Content, "document_ref")
	docText := stringField(req.Content, "document_text")
	if docRef == "" && docText == "" {
		return failed(domain.ErrCodeMissingDocument, "document review requests require a document")
	}
	body := docText
	if body == "" {
		body = "Document reference: " + docRef
	}
	gen, err := a.generate(ctx,
		`You review legal documents. Respond with JSON: {"summary": "...", "risks": [], "confidence": 0.0}`,
		body, 2000)
	if err != nil {
		return failed(domain.ErrCodeAnalysisFailed, "analysis failed: "+err.Error())
	}
	var wire struct {
		Summary    string   `json:"summary"`
		Risks      []string `json:"risks"`
		Confidence float64  `json:"confidence"`
	}
	if parseErr := json.Unmarshal([]byte(extractJSON(gen.Content)), &wire); parseErr != nil || wire.Summary == "" {
		// Malformed engine output degrades to a stub flagged for human review.
		return domain.ServiceResponse{
			Status: domain.ResponseStatusRequiresEscalation,
			Content: map[string]any{
				"summary":    "Automated review could not produce a structured analysis of this document.",
				"risks":      []string{},
				"confidence": 0.3,
			},
			Escalation: &domain.Escalation{
				Reason:          "automated analysis inconclusive",
				SuggestedAction: "assign to a human reviewer",
			},
		}
	}
	return domain.ServiceResponse{
		Status: domain.ResponseStatusCompleted,
		Content: map[string]any{
			"summary":    wire.Summary,
			"risks":      wire.Risks,
			"confidence": domain.Clamp01(wire.Confidence),
		},
	}
}

func (a *InternalAdapter) consultation(ctx context.Context, req domain.ServiceRequest) domain.ServiceResponse {
	topic := stringField(req.Content, "question")
	if topic == "" {
		topic = stringField(req.Content, "topic")
	}
	if topic == "" {
		return failed(domain.ErrCodeMissingQuestion, "consultation requests require a question or topic")
	}
	gen, err := a.generate(ctx,
		"You prepare preliminary consultation notes for a legal matter. Be concise and practical.",
		topic, 1500)
	if err != nil {
		return failed(domain.ErrCodeAnalysisFailed, "analysis failed: "+err.Error())
	}
	resp := domain.ServiceResponse{
		Status:  domain.ResponseStatusCompleted,
		Content: map[string]any{"notes": strings.TrimSpace(gen.Content)},
	}
	if strings.EqualFold(stringField(req.Content, "complexity"), "complex") {
		resp.Status = domain.ResponseStatusRequiresEscalation
		resp.Escalation = &domain.Escalation{
			Reason:          "matter flagged as complex",
			SuggestedAction: "schedule a consultation with a human specialist",
		}
	}
	return resp
}

func (a *InternalAdapter) generic(ctx context.Context, req domain.ServiceRequest) domain.ServiceResponse {
	raw, _ := json.Marshal(req.Content)
	gen, err := a.generate(ctx,
		"You fulfill a typed legal-service request. Address the keyed fields directly.",
		req.ServiceType+"\n"+string(raw), 1500)
	if err != nil {
		return failed(domain.ErrCodeAnalysisFailed, "analysis failed: "+err.Error())
	}
	return domain.ServiceResponse{
		Status:  domain.ResponseStatusCompleted,
		Content: map[string]any{"result": strings.TrimSpace(gen.Content)},
	}
}

func (a *InternalAdapter) generate(ctx context.Context, system, user string, maxTokens int) (ports.Generation, error) {
	return a.generator.Generate(ctx, []ports.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, ports.GenerateOptions{Temperature: 0.2, MaxTokens: maxTokens, Timeout: 60 * time.Second})
}

// SubmitAsync is unsupported: the internal engine is synchronous only.
func (a *InternalAdapter) SubmitAsync(context.Context, domain.ServiceRequest) (domain.AsyncAccept, error) {
	return domain.AsyncAccept{Accepted: false}, nil
}

func (a *InternalAdapter) CancelRequest(context.Context, string) bool { return false }

func failed(code, message string) domain.ServiceResponse {
	return domain.ServiceResponse{
		Status: domain.ResponseStatusFailed,
		Error:  &domain.ResponseError{Code: code, Message: message},
	}
}

func stringField(content map[string]any, key string) string {
	if content == nil {
		return ""
	}
	if v, ok := content[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			return raw[start : end+1]
		}
	}
	return raw
}
