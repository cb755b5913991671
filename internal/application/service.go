package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
	"github.com/alekb/botesq/internal/signing"
)

const internalScoreBonus = 20

type candidate struct {
	adapter  ports.CapabilityAdapter
	caps     domain.ProviderCapabilities
	health   domain.ProviderHealth
	credits  float64
	score    float64
	internal bool
	dropped  string
}

// Route selects the provider that should fulfill a service request. It never
// dispatches; Execute does.
func (s *Service) Route(ctx context.Context, actor Actor, req domain.ServiceRequest, prefs *domain.RoutingPreferences) (RouteResult, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return RouteResult{}, domain.ErrUnauthorized
	}
	req.ServiceType = domain.NormalizeServiceType(req.ServiceType)
	if req.ServiceType == "" || strings.TrimSpace(req.RequestID) == "" {
		return RouteResult{}, domain.ErrInvalidInput
	}
	if prefs == nil {
		prefs = &domain.RoutingPreferences{}
	}
	return s.route(ctx, req, *prefs)
}

func (s *Service) route(ctx context.Context, req domain.ServiceRequest, prefs domain.RoutingPreferences) (RouteResult, error) {
	internal := s.adapters.Internal()
	internalCaps, err := internal.GetCapabilities(ctx)
	if err != nil {
		return RouteResult{}, err
	}
	internalSupports := containsString(internalCaps.ServiceTypes, req.ServiceType)

	externals, err := s.externalCandidates(ctx, req)
	if err != nil {
		return RouteResult{}, err
	}

	// Preference pass: hard exclusions first, then the internal
	// short-circuit, then preferred ids stable-sorted to the front.
	externals = filterExcluded(externals, prefs.ExcludedProviderIDs)
	if prefs.PreferInternal && internalSupports {
		return s.decideInternal(ctx, internal, req, "operator prefers the internal engine")
	}
	sortPreferredFirst(externals, prefs.PreferredProviderIDs)

	if len(externals) == 0 {
		if !internalSupports {
			return RouteResult{}, domain.ErrNoProvidersAvailable
		}
		return s.decideInternal(ctx, internal, req, "no external providers available")
	}

	candidates := make([]*candidate, 0, len(externals)+1)
	if internalSupports && !containsString(prefs.ExcludedProviderIDs, domain.InternalProviderID) {
		candidates = append(candidates, &candidate{adapter: internal, internal: true})
	}
	for _, a := range externals {
		candidates = append(candidates, &candidate{adapter: a})
	}

	s.probeAndScore(ctx, req, prefs, candidates)

	survivors := candidates[:0]
	for _, c := range candidates {
		if c.dropped == "" {
			survivors = append(survivors, c)
		} else {
			slog.DebugContext(ctx, "routing candidate dropped",
				"module", "routing", "provider_id", c.adapter.ProviderID(), "reason", c.dropped)
		}
	}
	if len(survivors) == 0 {
		return RouteResult{}, domain.ErrNoProvidersAvailable
	}
	sort.SliceStable(survivors, func(i, j int) bool { return survivors[i].score > survivors[j].score })
	winner := survivors[0]

	reason := fmt.Sprintf("highest composite score %.1f among %d healthy candidates", winner.score, len(survivors))
	if winner.internal && len(survivors) == 1 {
		reason = "no external providers available"
	}
	decision := domain.RoutingDecision{
		ProviderID:               winner.adapter.ProviderID(),
		ProviderName:             winner.adapter.ProviderName(),
		Reason:                   reason,
		EstimatedResponseMinutes: winner.caps.AverageResponseMinutes,
		EstimatedCredits:         winner.credits,
		IsAsync:                  !winner.internal && req.CallbackURL != "" && winner.caps.SupportsAsync,
	}
	return RouteResult{Adapter: winner.adapter, Decision: decision}, nil
}

// probeAndScore fans health and capability probes out concurrently; the
// probes are read-only and mutually independent, so there is no reason to
// serialize them against slow providers.
func (s *Service) probeAndScore(ctx context.Context, req domain.ServiceRequest, prefs domain.RoutingPreferences, candidates []*candidate) {
	slaCeiling := s.slaCeilingMinutes(req, prefs)
	g, probeCtx := errgroup.WithContext(ctx)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			if slaCeiling < 0 {
				c.dropped = "SLA deadline already passed"
				return nil
			}
			probeCtx, cancel := context.WithTimeout(probeCtx, s.cfg.HealthProbeTimeout)
			defer cancel()
			caps, err := c.adapter.GetCapabilities(probeCtx)
			if err != nil {
				c.dropped = "capabilities unavailable: " + err.Error()
				return nil
			}
			c.caps = caps
			c.health = c.adapter.CheckHealth(probeCtx)
			if !c.health.Healthy {
				c.dropped = "failed health check"
				return nil
			}
			c.credits = domain.EstimateCredits(req.ServiceType, domain.IsUrgent(req.Content), domain.PageCount(req.Content))
			if slaCeiling > 0 && caps.AverageResponseMinutes > slaCeiling {
				c.dropped = fmt.Sprintf("average response %dm exceeds SLA ceiling %dm", caps.AverageResponseMinutes, slaCeiling)
				return nil
			}
			if prefs.MaxCredits > 0 && c.credits > prefs.MaxCredits {
				c.dropped = fmt.Sprintf("estimated %.1f credits exceeds budget %.1f", c.credits, prefs.MaxCredits)
				return nil
			}
			c.score = scoreCandidate(c.caps, c.health, c.internal)
			if s.healthCache != nil && !c.internal {
				_ = s.healthCache.Put(ctx, c.adapter.ProviderID(), c.health, s.cfg.HealthCacheTTL)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// scoreCandidate: base 100, faster average response up to +100, headroom up
// to +50, error rate down to -100, flat +20 reliability preference for the
// internal engine.
func scoreCandidate(caps domain.ProviderCapabilities, health domain.ProviderHealth, internal bool) float64 {
	score := 100.0
	if v := 100.0 - 2.0*float64(caps.AverageResponseMinutes); v > 0 {
		score += v
	}
	if health.MaxCapacity > 0 {
		score += (1 - float64(health.CurrentLoad)/float64(health.MaxCapacity)) * 50
	}
	score -= health.ErrorRate * 100
	if internal {
		score += internalScoreBonus
	}
	return score
}

func (s *Service) decideInternal(ctx context.Context, internal ports.CapabilityAdapter, req domain.ServiceRequest, reason string) (RouteResult, error) {
	health := internal.CheckHealth(ctx)
	if !health.Healthy {
		return RouteResult{}, domain.ErrNoProvidersAvailable
	}
	caps, err := internal.GetCapabilities(ctx)
	if err != nil {
		return RouteResult{}, err
	}
	return RouteResult{
		Adapter: internal,
		Decision: domain.RoutingDecision{
			ProviderID:               internal.ProviderID(),
			ProviderName:             internal.ProviderName(),
			Reason:                   reason,
			EstimatedResponseMinutes: caps.AverageResponseMinutes,
			EstimatedCredits:         domain.EstimateCredits(req.ServiceType, domain.IsUrgent(req.Content), domain.PageCount(req.Content)),
		},
	}, nil
}

func (s *Service) externalCandidates(ctx context.Context, req domain.ServiceRequest) ([]ports.CapabilityAdapter, error) {
	if s.registry == nil {
		return nil, nil
	}
	providers, err := s.registry.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var pref domain.OperatorPreference
	if req.OperatorID != "" {
		if p, err := s.registry.PreferencesFor(ctx, req.OperatorID); err == nil {
			pref = p
		}
	}
	out := make([]ports.CapabilityAdapter, 0, len(providers))
	for _, p := range providers {
		if p.Status != domain.ProviderStatusActive || !p.ServiceEnabled(req.ServiceType) {
			continue
		}
		if pref.ProviderDisabled(p.ProviderID) {
			continue
		}
		if a, ok := s.adapters.External(ctx, p.ProviderID); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// slaCeilingMinutes folds the operator ceiling and the SLA deadline into one
// bound. A deadline already in the past returns a negative ceiling, which no
// candidate can satisfy.
func (s *Service) slaCeilingMinutes(req domain.ServiceRequest, prefs domain.RoutingPreferences) int {
	ceiling := prefs.MaxResponseMinutes
	if req.SLADeadline != nil {
		remaining := int(req.SLADeadline.Sub(s.nowFn()).Minutes())
		if remaining <= 0 {
			return -1
		}
		if ceiling == 0 || remaining < ceiling {
			ceiling = remaining
		}
	}
	return ceiling
}

type ExecuteResult struct {
	Response domain.ServiceResponse
	Decision domain.RoutingDecision
}

// Execute routes a request and runs it against the winner. Dispatches to
// external providers are recorded before invocation and updated with the
// outcome; internal executions leave no provider-request records.
func (s *Service) Execute(ctx context.Context, actor Actor, req domain.ServiceRequest, prefs *domain.RoutingPreferences) (ExecuteResult, error) {
	if strings.TrimSpace(actor.IdempotencyKey) == "" {
		return ExecuteResult{}, domain.ErrIdempotencyRequired
	}
	requestHash := hashJSON(map[string]any{"op": "execute", "request": req, "prefs": prefs})
	if raw, ok, err := s.getIdempotent(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return ExecuteResult{}, err
	} else if ok {
		var out ExecuteResult
		if json.Unmarshal(raw, &out) == nil {
			return out, nil
		}
	}
	if err := s.reserveIdempotency(ctx, actor.IdempotencyKey, requestHash); err != nil {
		return ExecuteResult{}, err
	}

	routed, err := s.Route(ctx, actor, req, prefs)
	if err != nil {
		return ExecuteResult{}, err
	}
	adapter, decision := routed.Adapter, routed.Decision
	s.publishEvent(ctx, domain.EventRequestRouted, map[string]any{
		"request_id":  req.RequestID,
		"provider_id": decision.ProviderID,
		"reason":      decision.Reason,
	}, req.RequestID)

	isInternal := decision.ProviderID == domain.InternalProviderID
	var record domain.DispatchRecord
	if !isInternal && s.dispatches != nil {
		now := s.nowFn()
		record = domain.DispatchRecord{
			DispatchID:       "dsp-" + uuid.NewString(),
			RequestID:        req.RequestID,
			ProviderID:       decision.ProviderID,
			OperatorID:       req.OperatorID,
			ServiceType:      req.ServiceType,
			Status:           domain.DispatchStatusPending,
			DecisionReason:   decision.Reason,
			EstimatedCredits: decision.EstimatedCredits,
			IsAsync:          decision.IsAsync,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.dispatches.Create(ctx, record); err != nil {
			return ExecuteResult{}, err
		}
		s.publishEvent(ctx, domain.EventRequestDispatch, map[string]any{
			"request_id":  req.RequestID,
			"provider_id": decision.ProviderID,
			"dispatch_id": record.DispatchID,
		}, req.RequestID)
	}

	var resp domain.ServiceResponse
	if decision.IsAsync {
		accept, err := adapter.SubmitAsync(ctx, req)
		if err != nil || !accept.Accepted {
			resp = domain.ServiceResponse{
				RequestID: req.RequestID,
				Status:    domain.ResponseStatusFailed,
				Error:     &domain.ResponseError{Code: domain.ErrCodeProviderError, Message: "async submission not accepted"},
			}
		} else {
			// The dispatch record stays pending until the provider calls back.
			resp = domain.ServiceResponse{RequestID: req.RequestID, Status: domain.ResponseStatusCompleted, Content: map[string]any{
				"accepted":                   true,
				"estimated_response_minutes": accept.EstimatedResponseMinutes,
			}}
			out := ExecuteResult{Response: resp, Decision: decision}
			_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 202, out)
			return out, nil
		}
	} else {
		resp = adapter.ProcessRequest(ctx, req)
	}

	if !isInternal && s.dispatches != nil {
		s.finishDispatch(ctx, record, resp)
	}
	_ = s.recordAudit(ctx, "request.executed", actor.SubjectID, req.RequestID, map[string]string{
		"provider_id": decision.ProviderID,
		"status":      resp.Status,
	})
	s.publishEvent(ctx, domain.EventRequestCompleted, map[string]any{
		"request_id":  req.RequestID,
		"provider_id": decision.ProviderID,
		"status":      resp.Status,
	}, req.RequestID)

	out := ExecuteResult{Response: resp, Decision: decision}
	_ = s.completeIdempotencyJSON(ctx, actor.IdempotencyKey, 200, out)
	return out, nil
}

// finishDispatch maps the provider response onto the pending record.
// REQUIRES_ESCALATION is stored as completed: a human picks it up out-of-band.
func (s *Service) finishDispatch(ctx context.Context, record domain.DispatchRecord, resp domain.ServiceResponse) {
	now := s.nowFn()
	record.UpdatedAt = now
	record.CompletedAt = &now
	record.CreditsUsed = resp.CreditsUsed
	switch resp.Status {
	case domain.ResponseStatusCompleted, domain.ResponseStatusRequiresEscalation:
		record.Status = domain.DispatchStatusCompleted
	default:
		record.Status = domain.DispatchStatusFailed
		if resp.Error != nil {
			record.ErrorCode = resp.Error.Code
			record.ErrorMessage = resp.Error.Message
		}
	}
	if err := s.dispatches.Update(ctx, record); err != nil {
		slog.WarnContext(ctx, "dispatch record not updated",
			"module", "routing", "dispatch_id", record.DispatchID, "error", err)
	}
}

// HandleProviderCallback verifies and applies an async completion posted by
// an external provider.
func (s *Service) HandleProviderCallback(ctx context.Context, providerID string, payload []byte, signatureHeader string) (domain.ServiceResponse, error) {
	if s.registry == nil || s.dispatches == nil {
		return domain.ServiceResponse{}, domain.ErrDependencyUnavailable
	}
	provider, err := s.registry.GetByID(ctx, strings.TrimSpace(providerID))
	if err != nil {
		return domain.ServiceResponse{}, err
	}
	if _, err := signing.Verify(payload, signatureHeader, provider.SigningSecret); err != nil {
		return domain.ServiceResponse{}, domain.ErrUnauthorized
	}
	var resp domain.ServiceResponse
	if err := json.Unmarshal(payload, &resp); err != nil || strings.TrimSpace(resp.RequestID) == "" {
		return domain.ServiceResponse{}, domain.ErrInvalidInput
	}
	resp = domain.SanitizeResponse(resp)
	record, err := s.dispatches.GetByRequestID(ctx, resp.RequestID)
	if err != nil {
		return domain.ServiceResponse{}, err
	}
	if record.ProviderID != provider.ProviderID {
		return domain.ServiceResponse{}, domain.ErrForbidden
	}
	if record.Status != domain.DispatchStatusPending {
		return domain.ServiceResponse{}, domain.ErrConflict
	}
	s.finishDispatch(ctx, record, resp)
	s.publishEvent(ctx, domain.EventRequestCompleted, map[string]any{
		"request_id":  resp.RequestID,
		"provider_id": provider.ProviderID,
		"status":      resp.Status,
		"async":       true,
	}, resp.RequestID)
	return resp, nil
}

// ProviderHealth serves health reads, preferring a fresh cached snapshot over
// re-probing the provider.
func (s *Service) ProviderHealth(ctx context.Context, actor Actor, providerID string) (domain.ProviderHealth, error) {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ProviderHealth{}, domain.ErrUnauthorized
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == domain.InternalProviderID {
		return s.adapters.Internal().CheckHealth(ctx), nil
	}
	if s.healthCache != nil {
		if cached, err := s.healthCache.Get(ctx, providerID); err == nil && cached != nil {
			return *cached, nil
		}
	}
	adapter, ok := s.adapters.External(ctx, providerID)
	if !ok {
		return domain.ProviderHealth{}, domain.ErrNotFound
	}
	probeCtx, cancel := context.WithTimeout(ctx, s.cfg.HealthProbeTimeout)
	defer cancel()
	health := adapter.CheckHealth(probeCtx)
	if s.healthCache != nil {
		_ = s.healthCache.Put(ctx, providerID, health, s.cfg.HealthCacheTTL)
	}
	return health, nil
}

// ClearAdapterCache drops all cached provider adapters. Configuration-reload
// and test-reset hook.
func (s *Service) ClearAdapterCache() {
	if s.adapters != nil {
		s.adapters.ClearCache()
	}
}

func (s *Service) recordAudit(ctx context.Context, eventType, actorID, entityID string, meta map[string]string) error {
	if s.auditLogs == nil {
		return nil
	}
	return s.auditLogs.Append(ctx, domain.AuditLog{
		EventID:    "audit-" + uuid.NewString(),
		EventType:  eventType,
		ActorID:    actorID,
		EntityID:   entityID,
		OccurredAt: s.nowFn(),
		Metadata:   meta,
	})
}

func (s *Service) publishEvent(ctx context.Context, eventType string, payload map[string]any, entityID string) {
	if s.events == nil {
		return
	}
	raw, _ := json.Marshal(payload)
	if err := s.events.Publish(ctx, eventType, raw, domain.PartitionKeyForEvent(eventType, entityID)); err != nil {
		slog.WarnContext(ctx, "event publish failed", "module", "routing", "event_type", eventType, "error", err)
	}
}

func (s *Service) getIdempotent(ctx context.Context, key, expectedHash string) ([]byte, bool, error) {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil, false, nil
	}
	rec, err := s.idempotency.Get(ctx, key, s.nowFn())
	if err != nil || rec == nil {
		return nil, false, err
	}
	if rec.RequestHash != expectedHash {
		return nil, false, domain.ErrIdempotencyConflict
	}
	if len(rec.ResponseBody) == 0 {
		return nil, false, nil
	}
	return rec.ResponseBody, true, nil
}

func (s *Service) reserveIdempotency(ctx context.Context, key, requestHash string) error {
	if s.idempotency == nil {
		return nil
	}
	return s.idempotency.Reserve(ctx, key, requestHash, s.nowFn().Add(s.cfg.IdempotencyTTL))
}

func (s *Service) completeIdempotencyJSON(ctx context.Context, key string, code int, v any) error {
	if s.idempotency == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	raw, _ := json.Marshal(v)
	return s.idempotency.Complete(ctx, key, code, raw, s.nowFn())
}

func hashJSON(v any) string {
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func containsString(in []string, want string) bool {
	for _, v := range in {
		if v == want {
			return true
		}
	}
	return false
}

func filterExcluded(in []ports.CapabilityAdapter, excluded []string) []ports.CapabilityAdapter {
	if len(excluded) == 0 {
		return in
	}
	out := in[:0]
	for _, a := range in {
		if !containsString(excluded, a.ProviderID()) {
			out = append(out, a)
		}
	}
	return out
}

func sortPreferredFirst(adapters []ports.CapabilityAdapter, preferred []string) {
	if len(preferred) == 0 {
		return
	}
	rank := func(id string) int {
		for i, p := range preferred {
			if p == id {
				return i
			}
		}
		return len(preferred)
	}
	sort.SliceStable(adapters, func(i, j int) bool {
		return rank(adapters[i].ProviderID()) < rank(adapters[j].ProviderID())
	})
}
