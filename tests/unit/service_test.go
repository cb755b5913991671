package unit

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alekb/botesq/internal/adapters/cache"
	eventsadapter "github.com/alekb/botesq/internal/adapters/events"
	grpcadapter "github.com/alekb/botesq/internal/adapters/grpc"
	"github.com/alekb/botesq/internal/adapters/postgres"
	"github.com/alekb/botesq/internal/adapters/providers"
	"github.com/alekb/botesq/internal/application"
	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
	"github.com/alekb/botesq/internal/signing"
)

type stubGenerator struct {
	mu        sync.Mutex
	content   string
	err       error
	offline   bool
	lastCalls [][]ports.Message
}

func (g *stubGenerator) Available() bool { return !g.offline }

func (g *stubGenerator) Generate(_ context.Context, messages []ports.Message, _ ports.GenerateOptions) (ports.Generation, error) {
	g.mu.Lock()
	g.lastCalls = append(g.lastCalls, messages)
	g.mu.Unlock()
	if g.err != nil {
		return ports.Generation{}, g.err
	}
	return ports.Generation{Content: g.content, TokensUsed: 128}, nil
}

func (g *stubGenerator) lastSystemPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.lastCalls) == 0 {
		return ""
	}
	for _, m := range g.lastCalls[len(g.lastCalls)-1] {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

type stubPrecedent struct {
	offline bool
	result  domain.PrecedentResult
	err     error
}

func (p *stubPrecedent) Available(context.Context) bool { return !p.offline }

func (p *stubPrecedent) FindRelevant(context.Context, domain.Dispute, int) (domain.PrecedentResult, error) {
	return p.result, p.err
}

type fakeExternalAdapter struct {
	id       string
	name     string
	caps     domain.ProviderCapabilities
	health   domain.ProviderHealth
	response domain.ServiceResponse
	accept   domain.AsyncAccept
	calls    int
}

func (a *fakeExternalAdapter) ProviderID() string   { return a.id }
func (a *fakeExternalAdapter) ProviderName() string { return a.name }
func (a *fakeExternalAdapter) GetCapabilities(context.Context) (domain.ProviderCapabilities, error) {
	return a.caps, nil
}
func (a *fakeExternalAdapter) CheckHealth(context.Context) domain.ProviderHealth { return a.health }
func (a *fakeExternalAdapter) ProcessRequest(_ context.Context, req domain.ServiceRequest) domain.ServiceResponse {
	a.calls++
	resp := a.response
	resp.RequestID = req.RequestID
	return resp
}
func (a *fakeExternalAdapter) SubmitAsync(_ context.Context, req domain.ServiceRequest) (domain.AsyncAccept, error) {
	accept := a.accept
	accept.RequestID = req.RequestID
	return accept, nil
}
func (a *fakeExternalAdapter) CancelRequest(context.Context, string) bool { return false }

type fakeAdapterSource struct {
	internal  ports.CapabilityAdapter
	externals map[string]ports.CapabilityAdapter
}

func (s *fakeAdapterSource) Internal() ports.CapabilityAdapter { return s.internal }
func (s *fakeAdapterSource) External(_ context.Context, providerID string) (ports.CapabilityAdapter, bool) {
	a, ok := s.externals[providerID]
	return a, ok
}
func (s *fakeAdapterSource) ClearCache() {}

type harness struct {
	svc       *application.Service
	repos     *postgres.Repositories
	events    *eventsadapter.MemoryDomainPublisher
	generator *stubGenerator
	source    *fakeAdapterSource
}

func newHarness(generator *stubGenerator, precedentProvider ports.PrecedentProvider) *harness {
	repos := postgres.NewRepositories()
	domainPub := eventsadapter.NewMemoryDomainPublisher()
	source := &fakeAdapterSource{
		internal:  providers.NewInternalAdapter(generator),
		externals: map[string]ports.CapabilityAdapter{},
	}
	svc := application.NewService(application.Dependencies{
		Config: application.Config{ServiceName: "botesq-arbitration", IdempotencyTTL: 7 * 24 * time.Hour, HealthCacheTTL: 2 * time.Minute},
		Disputes:    repos.Disputes,
		Registry:    repos.Providers,
		Dispatches:  repos.Dispatches,
		AuditLogs:   repos.AuditLogs,
		Idempotency: repos.Idempotency,
		Generator:   generator,
		Precedent:   precedentProvider,
		Calibration: grpcadapter.NewCalibrationClient(""),
		Trust:       repos.Trust,
		HealthCache: cache.NewMemoryHealthCache(),
		Adapters:    source,
		Events:      domainPub,
	})
	return &harness{svc: svc, repos: repos, events: domainPub, generator: generator, source: source}
}

func arbitrator() application.Actor {
	return application.Actor{SubjectID: "ops-1", Role: "admin", RequestID: "req-1"}
}

func readyDispute(id string) domain.Dispute {
	return domain.Dispute{
		DisputeID:            id,
		Status:               domain.DisputeStatusInArbitration,
		ClaimType:            "non_delivery",
		ClaimText:            "The agreed deliverable was never provided despite full payment.",
		ClaimantID:           "agent-claimant",
		RespondentID:         "agent-respondent",
		TransactionTitle:     "Contract drafting engagement",
		StatedValue:          500,
		ClaimantTrustScore:   72.5,
		RespondentTrustScore: 64.0,
		CreatedAt:            time.Now().UTC().Add(-48 * time.Hour),
	}
}

func seedExternal(h *harness, id string, serviceType string, adapter *fakeExternalAdapter) {
	h.repos.Providers.Put(domain.Provider{
		ProviderID:    id,
		Name:          adapter.name,
		Status:        domain.ProviderStatusActive,
		WebhookURL:    "https://" + id + ".example.com/webhook",
		SigningSecret: signing.NewSecret(),
		Services:      []domain.ProviderService{{ServiceType: serviceType, Enabled: true}},
	})
	h.source.externals[id] = adapter
}

func healthyAdapter(id, name string, avgMinutes int, supportsAsync bool) *fakeExternalAdapter {
	return &fakeExternalAdapter{
		id:   id,
		name: name,
		caps: domain.ProviderCapabilities{
			ServiceTypes:           []string{"TRANSLATION"},
			MaxConcurrentRequests:  10,
			AverageResponseMinutes: avgMinutes,
			SupportsAsync:          supportsAsync,
		},
		health: domain.ProviderHealth{Healthy: true, CurrentLoad: 0, MaxCapacity: 10, LastChecked: time.Now().UTC()},
		response: domain.ServiceResponse{
			Status:      domain.ResponseStatusCompleted,
			Content:     map[string]any{"translation": "done"},
			CreditsUsed: 8,
		},
		accept: domain.AsyncAccept{Accepted: true, EstimatedResponseMinutes: avgMinutes},
	}
}

func TestArbitrateDisputeHappyPath(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{content: `{"ruling":"CLAIMANT","reasoning":"No delivery evidence was produced.","confidence":0.9,"key_factors":["payment confirmed"],"recommendation":"refund in full"}`}
	h := newHarness(gen, nil)
	h.repos.Disputes.Put(readyDispute("disp-1"))

	ruling, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "disp-1")
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if ruling.Result.Ruling != domain.RulingClaimant {
		t.Fatalf("expected CLAIMANT, got %s", ruling.Result.Ruling)
	}
	if ruling.Result.Details.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", ruling.Result.Details.Confidence)
	}
	// stated value 500 -> base 5 credits, scaled by confidence
	if ruling.TrustDelta != 4.5 {
		t.Fatalf("expected trust delta 4.5, got %v", ruling.TrustDelta)
	}
	if got := h.repos.Trust.Score("agent-claimant"); got != 4.5 {
		t.Fatalf("claimant score: expected 4.5, got %v", got)
	}
	if got := h.repos.Trust.Score("agent-respondent"); got != -4.5 {
		t.Fatalf("respondent score: expected -4.5, got %v", got)
	}
	stored, ok := h.repos.Disputes.RulingFor("disp-1")
	if !ok || stored.RulingID != ruling.RulingID {
		t.Fatal("expected ruling persisted")
	}
	updated, _ := h.repos.Disputes.GetByID(context.Background(), "disp-1")
	if updated.Status != domain.DisputeStatusRuled {
		t.Fatalf("expected dispute RULED, got %s", updated.Status)
	}
	events := h.events.Events()
	if len(events) == 0 || events[len(events)-1].EventType != domain.EventDisputeRuled {
		t.Fatalf("expected %s event, got %+v", domain.EventDisputeRuled, events)
	}
}

func TestArbitrateDisputeNotReady(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	d := readyDispute("disp-2")
	d.Status = domain.DisputeStatusFiled
	h.repos.Disputes.Put(d)

	if _, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "disp-2"); err != domain.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestArbitrateDisputeRequiresActor(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	if _, err := h.svc.ArbitrateDispute(context.Background(), application.Actor{}, "disp-x"); err != domain.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestArbitrateDisputeUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	if _, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "missing"); err != domain.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArbitrateFallbackOnMalformedOutput(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{content: "I believe the claimant is probably right, but it is hard to say."}
	h := newHarness(gen, nil)
	h.repos.Disputes.Put(readyDispute("disp-3"))

	ruling, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "disp-3")
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if ruling.Result.Ruling != domain.RulingSplit {
		t.Fatalf("expected SPLIT fallback, got %s", ruling.Result.Ruling)
	}
	if ruling.Result.Details.Confidence != 0.5 {
		t.Fatalf("expected fallback confidence 0.5, got %v", ruling.Result.Details.Confidence)
	}
	if ruling.TrustDelta != 0 {
		t.Fatalf("SPLIT must not move trust scores, got delta %v", ruling.TrustDelta)
	}
	if got := h.repos.Trust.Score("agent-claimant"); got != 0 {
		t.Fatalf("expected untouched claimant score, got %v", got)
	}
}

func TestArbitrateConfidenceClamped(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{content: `{"ruling":"respondent","reasoning":"Claim unsupported.","confidence":1.8}`}
	h := newHarness(gen, nil)
	h.repos.Disputes.Put(readyDispute("disp-4"))

	ruling, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "disp-4")
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if ruling.Result.Ruling != domain.RulingRespondent {
		t.Fatalf("expected normalized RESPONDENT, got %s", ruling.Result.Ruling)
	}
	if ruling.Result.Details.Confidence != 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %v", ruling.Result.Details.Confidence)
	}
}

func TestArbitrateParsesFencedJSON(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{content: "```json\n{\"ruling\":\"DISMISSED\",\"reasoning\":\"Out of scope.\",\"confidence\":0.7}\n```"}
	h := newHarness(gen, nil)
	h.repos.Disputes.Put(readyDispute("disp-5"))

	ruling, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "disp-5")
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if ruling.Result.Ruling != domain.RulingDismissed {
		t.Fatalf("expected DISMISSED, got %s", ruling.Result.Ruling)
	}
}

func TestArbitrateGeneratorUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{offline: true}, nil)
	h.repos.Disputes.Put(readyDispute("disp-6"))

	if _, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "disp-6"); err != domain.ErrDependencyUnavailable {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
}

func TestArbitratePrecedentCitations(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{content: `{"ruling":"CLAIMANT","reasoning":"Consistent with precedent.","confidence":0.8}`}
	pre := &stubPrecedent{result: domain.PrecedentResult{
		Source:     "corpus",
		CorpusSize: 12,
		Cases: []domain.PrecedentCase{
			{CaseID: "case-a", ClaimType: "non_delivery", Summary: "s", Ruling: domain.RulingClaimant, Reasoning: "r", RelevanceScore: 0.9, Metadata: map[string]string{"source": "corpus"}},
			{CaseID: "case-b", ClaimType: "quality", Summary: "s", Ruling: domain.RulingSplit, Reasoning: "r", RelevanceScore: 0.5},
		},
	}}
	h := newHarness(gen, pre)
	h.repos.Disputes.Put(readyDispute("disp-7"))

	ruling, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "disp-7")
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if len(ruling.Result.PrecedentCitations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(ruling.Result.PrecedentCitations))
	}
	if ruling.Result.PrecedentCitations[0].CaseID != "case-a" || ruling.Result.PrecedentCitations[0].Source != "corpus" {
		t.Fatalf("unexpected first citation: %+v", ruling.Result.PrecedentCitations[0])
	}
	if !strings.Contains(gen.lastSystemPrompt(), "HISTORICAL PRECEDENT (from 12 prior cases):") {
		t.Fatal("expected precedent block injected into the system prompt")
	}
}

func TestArbitratePrecedentOfflineSkipsLookup(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{content: `{"ruling":"CLAIMANT","reasoning":"ok","confidence":0.8}`}
	h := newHarness(gen, &stubPrecedent{offline: true})
	h.repos.Disputes.Put(readyDispute("disp-8"))

	ruling, err := h.svc.ArbitrateDispute(context.Background(), arbitrator(), "disp-8")
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if ruling.Result.PrecedentCitations != nil {
		t.Fatalf("expected no citations when lookup is skipped, got %+v", ruling.Result.PrecedentCitations)
	}
	if strings.Contains(gen.lastSystemPrompt(), "HISTORICAL PRECEDENT") {
		t.Fatal("offline provider must not contribute prompt context")
	}
}

func TestRouteFallsBackToInternal(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)

	routed, err := h.svc.Route(context.Background(), arbitrator(), domain.ServiceRequest{RequestID: "req-r1", ServiceType: domain.ServiceTypeLegalQA, OperatorID: "op-1"}, nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routed.Decision.ProviderID != domain.InternalProviderID {
		t.Fatalf("expected internal provider, got %s", routed.Decision.ProviderID)
	}
	if routed.Decision.Reason != "no external providers available" {
		t.Fatalf("unexpected reason: %q", routed.Decision.Reason)
	}
	if routed.Decision.EstimatedCredits != 5 {
		t.Fatalf("expected 5 estimated credits for legal QA, got %v", routed.Decision.EstimatedCredits)
	}
}

func TestRoutePreferInternalShortCircuits(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	ext := healthyAdapter("prov-a", "Lexica", 1, false)
	ext.caps.ServiceTypes = []string{domain.ServiceTypeLegalQA}
	seedExternal(h, "prov-a", domain.ServiceTypeLegalQA, ext)

	routed, err := h.svc.Route(context.Background(), arbitrator(),
		domain.ServiceRequest{RequestID: "req-r2", ServiceType: domain.ServiceTypeLegalQA, OperatorID: "op-1"},
		&domain.RoutingPreferences{PreferInternal: true})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routed.Decision.ProviderID != domain.InternalProviderID {
		t.Fatalf("expected internal provider, got %s", routed.Decision.ProviderID)
	}
	if routed.Decision.Reason != "operator prefers the internal engine" {
		t.Fatalf("unexpected reason: %q", routed.Decision.Reason)
	}
}

func TestRouteUnsupportedTypeNoProviders(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)

	_, err := h.svc.Route(context.Background(), arbitrator(), domain.ServiceRequest{RequestID: "req-r3", ServiceType: "TRANSLATION", OperatorID: "op-1"}, nil)
	if err != domain.ErrNoProvidersAvailable {
		t.Fatalf("expected ErrNoProvidersAvailable, got %v", err)
	}
}

func TestRouteDropsUnhealthyExternal(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	sick := healthyAdapter("prov-sick", "Sick Provider", 5, false)
	sick.health.Healthy = false
	seedExternal(h, "prov-sick", "TRANSLATION", sick)

	_, err := h.svc.Route(context.Background(), arbitrator(), domain.ServiceRequest{RequestID: "req-r4", ServiceType: "TRANSLATION", OperatorID: "op-1"}, nil)
	if err != domain.ErrNoProvidersAvailable {
		t.Fatalf("expected ErrNoProvidersAvailable, got %v", err)
	}
}

func TestRouteScoringPrefersFasterHealthierProvider(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	fast := healthyAdapter("prov-fast", "Fast Provider", 10, false)
	slow := healthyAdapter("prov-slow", "Slow Provider", 40, false)
	slow.health.CurrentLoad = 5
	slow.health.ErrorRate = 0.2
	seedExternal(h, "prov-fast", "TRANSLATION", fast)
	seedExternal(h, "prov-slow", "TRANSLATION", slow)

	routed, err := h.svc.Route(context.Background(), arbitrator(), domain.ServiceRequest{RequestID: "req-r5", ServiceType: "TRANSLATION", OperatorID: "op-1"}, nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routed.Decision.ProviderID != "prov-fast" {
		t.Fatalf("expected prov-fast to win, got %s", routed.Decision.ProviderID)
	}
	if !strings.Contains(routed.Decision.Reason, "highest composite score") {
		t.Fatalf("unexpected reason: %q", routed.Decision.Reason)
	}
}

func TestRouteHonorsExclusions(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	fast := healthyAdapter("prov-fast", "Fast Provider", 10, false)
	slow := healthyAdapter("prov-slow", "Slow Provider", 40, false)
	seedExternal(h, "prov-fast", "TRANSLATION", fast)
	seedExternal(h, "prov-slow", "TRANSLATION", slow)

	routed, err := h.svc.Route(context.Background(), arbitrator(),
		domain.ServiceRequest{RequestID: "req-r6", ServiceType: "TRANSLATION", OperatorID: "op-1"},
		&domain.RoutingPreferences{ExcludedProviderIDs: []string{"prov-fast"}})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if routed.Decision.ProviderID != "prov-slow" {
		t.Fatalf("expected prov-slow after exclusion, got %s", routed.Decision.ProviderID)
	}
}

func TestRouteEnforcesBudgetCeiling(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	seedExternal(h, "prov-a", "TRANSLATION", healthyAdapter("prov-a", "Provider A", 10, false))

	_, err := h.svc.Route(context.Background(), arbitrator(),
		domain.ServiceRequest{RequestID: "req-r7", ServiceType: "TRANSLATION", OperatorID: "op-1"},
		&domain.RoutingPreferences{MaxCredits: 5})
	if err != domain.ErrNoProvidersAvailable {
		t.Fatalf("expected ErrNoProvidersAvailable over budget, got %v", err)
	}
}

func TestRouteEnforcesResponseCeiling(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	seedExternal(h, "prov-a", "TRANSLATION", healthyAdapter("prov-a", "Provider A", 30, false))

	_, err := h.svc.Route(context.Background(), arbitrator(),
		domain.ServiceRequest{RequestID: "req-r8", ServiceType: "TRANSLATION", OperatorID: "op-1"},
		&domain.RoutingPreferences{MaxResponseMinutes: 15})
	if err != domain.ErrNoProvidersAvailable {
		t.Fatalf("expected ErrNoProvidersAvailable over SLA ceiling, got %v", err)
	}
}

func TestRouteExpiredSLADeadlineDropsCandidates(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	seedExternal(h, "prov-a", "TRANSLATION", healthyAdapter("prov-a", "Provider A", 10, false))
	past := time.Now().UTC().Add(-30 * time.Minute)

	_, err := h.svc.Route(context.Background(), arbitrator(),
		domain.ServiceRequest{RequestID: "req-r10", ServiceType: "TRANSLATION", OperatorID: "op-1", SLADeadline: &past}, nil)
	if err != domain.ErrNoProvidersAvailable {
		t.Fatalf("expected ErrNoProvidersAvailable past the SLA deadline, got %v", err)
	}
}

func TestRouteAsyncDecision(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	seedExternal(h, "prov-a", "TRANSLATION", healthyAdapter("prov-a", "Provider A", 10, true))

	routed, err := h.svc.Route(context.Background(), arbitrator(),
		domain.ServiceRequest{RequestID: "req-r9", ServiceType: "TRANSLATION", OperatorID: "op-1", CallbackURL: "https://operator.example.com/callback"}, nil)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if !routed.Decision.IsAsync {
		t.Fatal("expected async decision for async-capable provider with callback URL")
	}
}

func TestExecuteRequiresIdempotencyKey(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	actor := arbitrator()

	_, err := h.svc.Execute(context.Background(), actor, domain.ServiceRequest{RequestID: "req-e1", ServiceType: domain.ServiceTypeLegalQA, OperatorID: "op-1"}, nil)
	if err != domain.ErrIdempotencyRequired {
		t.Fatalf("expected ErrIdempotencyRequired, got %v", err)
	}
}

func TestExecuteInternalLeavesNoDispatchRecord(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{content: `{"answer":"Yes, the clause is enforceable.","confidence":0.9,"caveats":[]}`}
	h := newHarness(gen, nil)
	actor := arbitrator()
	actor.IdempotencyKey = "idem-e2"

	result, err := h.svc.Execute(context.Background(), actor,
		domain.ServiceRequest{RequestID: "req-e2", ServiceType: domain.ServiceTypeLegalQA, OperatorID: "op-1", Content: map[string]any{"question": "Is this clause enforceable?"}}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Response.Status != domain.ResponseStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Response.Status)
	}
	if result.Decision.ProviderID != domain.InternalProviderID {
		t.Fatalf("expected internal execution, got %s", result.Decision.ProviderID)
	}
	creates, updates := h.repos.Dispatches.Counts()
	if creates != 0 || updates != 0 {
		t.Fatalf("internal execution must not touch dispatch records, got creates=%d updates=%d", creates, updates)
	}
	var seen []string
	for _, e := range h.events.Events() {
		seen = append(seen, e.EventType)
	}
	if !containsEvent(seen, domain.EventRequestRouted) || !containsEvent(seen, domain.EventRequestCompleted) {
		t.Fatalf("expected routed+completed events, got %v", seen)
	}
}

func TestExecuteExternalRecordsDispatch(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	adapter := healthyAdapter("prov-a", "Provider A", 10, false)
	seedExternal(h, "prov-a", "TRANSLATION", adapter)
	actor := arbitrator()
	actor.IdempotencyKey = "idem-e3"

	result, err := h.svc.Execute(context.Background(), actor,
		domain.ServiceRequest{RequestID: "req-e3", ServiceType: "TRANSLATION", OperatorID: "op-1"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Response.Status != domain.ResponseStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Response.Status)
	}
	record, err := h.repos.Dispatches.GetByRequestID(context.Background(), "req-e3")
	if err != nil {
		t.Fatalf("dispatch record: %v", err)
	}
	if record.Status != domain.DispatchStatusCompleted {
		t.Fatalf("expected completed record, got %s", record.Status)
	}
	if record.CreditsUsed != 8 {
		t.Fatalf("expected 8 credits recorded, got %v", record.CreditsUsed)
	}
	if record.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}
}

func TestExecuteExternalEscalationStoredCompleted(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	adapter := healthyAdapter("prov-a", "Provider A", 10, false)
	adapter.response = domain.ServiceResponse{
		Status:     domain.ResponseStatusRequiresEscalation,
		Escalation: &domain.Escalation{Reason: "needs human review", SuggestedAction: "assign attorney"},
	}
	seedExternal(h, "prov-a", "TRANSLATION", adapter)
	actor := arbitrator()
	actor.IdempotencyKey = "idem-e4"

	if _, err := h.svc.Execute(context.Background(), actor,
		domain.ServiceRequest{RequestID: "req-e4", ServiceType: "TRANSLATION", OperatorID: "op-1"}, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	record, _ := h.repos.Dispatches.GetByRequestID(context.Background(), "req-e4")
	if record.Status != domain.DispatchStatusCompleted {
		t.Fatalf("escalation must store a completed record, got %s", record.Status)
	}
}

func TestExecuteExternalFailureRecorded(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	adapter := healthyAdapter("prov-a", "Provider A", 10, false)
	adapter.response = domain.ServiceResponse{
		Status: domain.ResponseStatusFailed,
		Error:  &domain.ResponseError{Code: domain.ErrCodeNetworkError, Message: "request to provider failed"},
	}
	seedExternal(h, "prov-a", "TRANSLATION", adapter)
	actor := arbitrator()
	actor.IdempotencyKey = "idem-e5"

	if _, err := h.svc.Execute(context.Background(), actor,
		domain.ServiceRequest{RequestID: "req-e5", ServiceType: "TRANSLATION", OperatorID: "op-1"}, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}
	record, _ := h.repos.Dispatches.GetByRequestID(context.Background(), "req-e5")
	if record.Status != domain.DispatchStatusFailed {
		t.Fatalf("expected failed record, got %s", record.Status)
	}
	if record.ErrorCode != domain.ErrCodeNetworkError {
		t.Fatalf("expected NETWORK_ERROR recorded, got %q", record.ErrorCode)
	}
}

func TestExecuteIdempotentReplay(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	adapter := healthyAdapter("prov-a", "Provider A", 10, false)
	seedExternal(h, "prov-a", "TRANSLATION", adapter)
	actor := arbitrator()
	actor.IdempotencyKey = "idem-e6"
	req := domain.ServiceRequest{RequestID: "req-e6", ServiceType: "TRANSLATION", OperatorID: "op-1"}

	first, err := h.svc.Execute(context.Background(), actor, req, nil)
	if err != nil {
		t.Fatalf("first execute: %v", err)
	}
	second, err := h.svc.Execute(context.Background(), actor, req, nil)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if adapter.calls != 1 {
		t.Fatalf("expected a single provider invocation, got %d", adapter.calls)
	}
	if first.Response.Status != second.Response.Status || first.Decision.ProviderID != second.Decision.ProviderID {
		t.Fatalf("replay mismatch: %+v vs %+v", first, second)
	}
	creates, _ := h.repos.Dispatches.Counts()
	if creates != 1 {
		t.Fatalf("expected one dispatch record, got %d", creates)
	}
}

func TestExecuteAsyncLeavesRecordPending(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	adapter := healthyAdapter("prov-a", "Provider A", 10, true)
	seedExternal(h, "prov-a", "TRANSLATION", adapter)
	actor := arbitrator()
	actor.IdempotencyKey = "idem-e7"

	result, err := h.svc.Execute(context.Background(), actor,
		domain.ServiceRequest{RequestID: "req-e7", ServiceType: "TRANSLATION", OperatorID: "op-1", CallbackURL: "https://operator.example.com/cb"}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Decision.IsAsync {
		t.Fatal("expected async decision")
	}
	if accepted, _ := result.Response.Content["accepted"].(bool); !accepted {
		t.Fatalf("expected async acceptance, got %+v", result.Response.Content)
	}
	record, _ := h.repos.Dispatches.GetByRequestID(context.Background(), "req-e7")
	if record.Status != domain.DispatchStatusPending {
		t.Fatalf("async dispatch must stay pending, got %s", record.Status)
	}
}

func TestProviderCallbackCompletesDispatch(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	adapter := healthyAdapter("prov-a", "Provider A", 10, true)
	seedExternal(h, "prov-a", "TRANSLATION", adapter)
	actor := arbitrator()
	actor.IdempotencyKey = "idem-cb1"

	if _, err := h.svc.Execute(context.Background(), actor,
		domain.ServiceRequest{RequestID: "req-cb1", ServiceType: "TRANSLATION", OperatorID: "op-1", CallbackURL: "https://operator.example.com/cb"}, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	provider, _ := h.repos.Providers.GetByID(context.Background(), "prov-a")
	payload, _ := json.Marshal(domain.ServiceResponse{
		RequestID:   "req-cb1",
		Status:      domain.ResponseStatusCompleted,
		Content:     map[string]any{"translation": "done"},
		CreditsUsed: 8,
	})
	header := signing.Sign(payload, provider.SigningSecret, time.Now().UTC())

	resp, err := h.svc.HandleProviderCallback(context.Background(), "prov-a", payload, header)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if resp.Status != domain.ResponseStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", resp.Status)
	}
	record, _ := h.repos.Dispatches.GetByRequestID(context.Background(), "req-cb1")
	if record.Status != domain.DispatchStatusCompleted {
		t.Fatalf("expected completed record after callback, got %s", record.Status)
	}

	// A second delivery of the same completion conflicts.
	if _, err := h.svc.HandleProviderCallback(context.Background(), "prov-a", payload, signing.Sign(payload, provider.SigningSecret, time.Now().UTC())); err != domain.ErrConflict {
		t.Fatalf("expected ErrConflict on duplicate callback, got %v", err)
	}
}

func TestProviderCallbackCompletedWithErrorStoredFailed(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	adapter := healthyAdapter("prov-a", "Provider A", 10, true)
	seedExternal(h, "prov-a", "TRANSLATION", adapter)
	actor := arbitrator()
	actor.IdempotencyKey = "idem-cb3"

	if _, err := h.svc.Execute(context.Background(), actor,
		domain.ServiceRequest{RequestID: "req-cb3", ServiceType: "TRANSLATION", OperatorID: "op-1", CallbackURL: "https://operator.example.com/cb"}, nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	provider, _ := h.repos.Providers.GetByID(context.Background(), "prov-a")
	payload, _ := json.Marshal(domain.ServiceResponse{
		RequestID: "req-cb3",
		Status:    domain.ResponseStatusCompleted,
		Error:     &domain.ResponseError{Code: domain.ErrCodeProviderError, Message: "it actually failed"},
	})

	resp, err := h.svc.HandleProviderCallback(context.Background(), "prov-a", payload, signing.Sign(payload, provider.SigningSecret, time.Now().UTC()))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if resp.Status != domain.ResponseStatusFailed {
		t.Fatalf("a callback carrying an error must not stay COMPLETED: %+v", resp)
	}
	record, _ := h.repos.Dispatches.GetByRequestID(context.Background(), "req-cb3")
	if record.Status != domain.DispatchStatusFailed || record.ErrorCode != domain.ErrCodeProviderError {
		t.Fatalf("expected failed record with error code, got %+v", record)
	}
}

func TestProviderCallbackRejectsBadSignature(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	seedExternal(h, "prov-a", "TRANSLATION", healthyAdapter("prov-a", "Provider A", 10, true))
	payload := []byte(`{"request_id":"req-cb2","status":"COMPLETED"}`)

	if _, err := h.svc.HandleProviderCallback(context.Background(), "prov-a", payload, signing.Sign(payload, signing.NewSecret(), time.Now().UTC())); err != domain.ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestProviderHealthServedFromCache(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	adapter := healthyAdapter("prov-a", "Provider A", 10, false)
	seedExternal(h, "prov-a", "TRANSLATION", adapter)

	first, err := h.svc.ProviderHealth(context.Background(), arbitrator(), "prov-a")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !first.Healthy {
		t.Fatal("expected healthy probe")
	}

	// Degrade the live adapter; the cached snapshot should still be served.
	adapter.health.Healthy = false
	second, err := h.svc.ProviderHealth(context.Background(), arbitrator(), "prov-a")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !second.Healthy {
		t.Fatal("expected cached healthy snapshot")
	}
}

func TestProviderHealthInternal(t *testing.T) {
	t.Parallel()
	h := newHarness(&stubGenerator{content: "{}"}, nil)
	health, err := h.svc.ProviderHealth(context.Background(), arbitrator(), domain.InternalProviderID)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !health.Healthy || health.MaxCapacity != 50 {
		t.Fatalf("unexpected internal health: %+v", health)
	}
}

func containsEvent(in []string, want string) bool {
	for _, v := range in {
		if v == want {
			return true
		}
	}
	return false
}
