package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alekb/botesq/internal/contracts"
	"github.com/alekb/botesq/internal/domain"
)

const maxCallbackBytes = 1 << 20

func (h *Handler) arbitrateDispute(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	ruling, err := h.service.ArbitrateDispute(r.Context(), actor, chi.URLParam(r, "dispute_id"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{
		"ruling_id":   ruling.RulingID,
		"dispute_id":  ruling.DisputeID,
		"ruling":      ruling.Result.Ruling,
		"reasoning":   ruling.Result.Reasoning,
		"details":     ruling.Result.Details,
		"precedents":  ruling.Result.PrecedentCitations,
		"trust_delta": ruling.TrustDelta,
		"ruled_at":    ruling.RuledAt,
	})
}

func (h *Handler) listPendingArbitration(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	disputes, err := h.service.ListPendingArbitration(r.Context(), actor)
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	items := make([]map[string]any, 0, len(disputes))
	for _, d := range disputes {
		items = append(items, map[string]any{
			"dispute_id":   d.DisputeID,
			"claim_type":   d.ClaimType,
			"status":       d.Status,
			"stated_value": d.StatedValue,
			"created_at":   d.CreatedAt,
		})
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{"disputes": items, "count": len(items)})
}

func (h *Handler) routeRequest(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var req contracts.ServiceRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	routed, err := h.service.Route(r.Context(), actor, toServiceRequest(req), toPreferences(req.Preferences))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{"decision": routed.Decision})
}

func (h *Handler) executeRequest(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	var req contracts.ServiceRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), requestIDFromContext(r.Context()))
		return
	}
	result, err := h.service.Execute(r.Context(), actor, toServiceRequest(req), toPreferences(req.Preferences))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	status := http.StatusOK
	if result.Decision.IsAsync {
		status = http.StatusAccepted
	}
	writeSuccess(w, status, "", map[string]any{"response": result.Response, "decision": result.Decision})
}

func (h *Handler) providerHealth(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	health, err := h.service.ProviderHealth(r.Context(), actor, chi.URLParam(r, "provider_id"))
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", health)
}

// providerCallback is unauthenticated: the payload signature is the
// credential. Signature failures map to 401.
func (h *Handler) providerCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "unreadable request body", requestIDFromContext(r.Context()))
		return
	}
	signature := strings.TrimSpace(r.Header.Get("X-Signature"))
	resp, err := h.service.HandleProviderCallback(r.Context(), chi.URLParam(r, "provider_id"), payload, signature)
	if err != nil {
		status, code := mapDomainError(err)
		writeError(w, status, code, err.Error(), requestIDFromContext(r.Context()))
		return
	}
	writeSuccess(w, http.StatusOK, "", map[string]any{"request_id": resp.RequestID, "status": resp.Status})
}

func toServiceRequest(req contracts.ServiceRequestPayload) domain.ServiceRequest {
	return domain.ServiceRequest{
		RequestID:   strings.TrimSpace(req.RequestID),
		ServiceType: strings.TrimSpace(req.ServiceType),
		OperatorID:  strings.TrimSpace(req.OperatorID),
		Content:     req.Content,
		SLADeadline: req.SLADeadline,
		CallbackURL: strings.TrimSpace(req.CallbackURL),
	}
}

func toPreferences(in *contracts.RoutingPreferences) *domain.RoutingPreferences {
	if in == nil {
		return nil
	}
	return &domain.RoutingPreferences{
		PreferInternal:       in.PreferInternal,
		PreferredProviderIDs: in.PreferredProviderIDs,
		ExcludedProviderIDs:  in.ExcludedProviderIDs,
		MaxResponseMinutes:   in.MaxResponseMinutes,
		MaxCredits:           in.MaxCredits,
	}
}
