package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
	"github.com/alekb/botesq/internal/signing"
)

const (
	healthProbeTimeout = 5 * time.Second
	dispatchTimeout    = 30 * time.Second
	asyncTimeout       = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

// ExternalAdapter speaks the signed webhook protocol to one registered
// provider. Provider configuration is re-read from the registry on every
// call so cached adapter instances never serve stale capability data.
type ExternalAdapter struct {
	providerID string
	registry   ports.ProviderRegistry
	client     *http.Client
	nowFn      func() time.Time
}

func NewExternalAdapter(providerID string, registry ports.ProviderRegistry) *ExternalAdapter {
	return &ExternalAdapter{
		providerID: providerID,
		registry:   registry,
		client:     &http.Client{},
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

func (a *ExternalAdapter) ProviderID() string { return a.providerID }

func (a *ExternalAdapter) ProviderName() string {
	if p, err := a.registry.GetByID(context.Background(), a.providerID); err == nil {
		return p.Name
	}
	return a.providerID
}

// GetCapabilities reflects only the provider's enabled service offerings.
func (a *ExternalAdapter) GetCapabilities(ctx context.Context) (domain.ProviderCapabilities, error) {
	p, err := a.registry.GetByID(ctx, a.providerID)
	if err != nil {
		return domain.ProviderCapabilities{}, err
	}
	enabled := make([]string, 0, len(p.Services))
	for _, svc := range p.Services {
		if svc.Enabled {
			enabled = append(enabled, svc.ServiceType)
		}
	}
	return domain.ProviderCapabilities{
		ServiceTypes:           enabled,
		Jurisdictions:          p.Jurisdictions,
		Specialties:            p.Specialties,
		MaxConcurrentRequests:  p.MaxConcurrentRequests,
		AverageResponseMinutes: p.AverageResponseMinutes,
		SupportsUrgent:         p.SupportsUrgent,
		SupportsAsync:          p.SupportsAsync,
	}, nil
}

type healthWire struct {
	Healthy           *bool   `json:"healthy"`
	CurrentLoad       int     `json:"current_load"`
	MaxCapacity       int     `json:"max_capacity"`
	AverageResponseMs int64   `json:"average_response_ms"`
	ErrorRate         float64 `json:"error_rate"`
}

// CheckHealth pings the provider's /health endpoint with a short timeout. A
// provider without a webhook never gets a network call; probe failures fall
// back to a default derived from the configured status.
func (a *ExternalAdapter) CheckHealth(ctx context.Context) domain.ProviderHealth {
	p, err := a.registry.GetByID(ctx, a.providerID)
	if err != nil {
		return domain.ProviderHealth{Healthy: false, LastChecked: a.nowFn()}
	}
	if strings.TrimSpace(p.WebhookURL) == "" {
		return a.defaultHealth(p)
	}
	probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(probeCtx, http.MethodGet, strings.TrimRight(p.WebhookURL, "/")+"/health", nil)
	if err != nil {
		return a.defaultHealth(p)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return a.defaultHealth(p)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.ProviderHealth{Healthy: false, MaxCapacity: p.MaxConcurrentRequests, LastChecked: a.nowFn()}
	}
	var wire healthWire
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&wire); err != nil {
		return a.defaultHealth(p)
	}
	healthy := true
	if wire.Healthy != nil {
		healthy = *wire.Healthy
	}
	capacity := wire.MaxCapacity
	if capacity == 0 {
		capacity = p.MaxConcurrentRequests
	}
	return domain.ProviderHealth{
		Healthy:           healthy,
		CurrentLoad:       wire.CurrentLoad,
		MaxCapacity:       capacity,
		AverageResponseMs: wire.AverageResponseMs,
		ErrorRate:         wire.ErrorRate,
		LastChecked:       a.nowFn(),
	}
}

func (a *ExternalAdapter) defaultHealth(p domain.Provider) domain.ProviderHealth {
	return domain.ProviderHealth{
		Healthy:     p.Status == domain.ProviderStatusActive,
		MaxCapacity: p.MaxConcurrentRequests,
		LastChecked: a.nowFn(),
	}
}

// ProcessRequest signs and POSTs the request synchronously. Failures are
// terminal at this layer; re-routing against another provider is the
// caller's call.
func (a *ExternalAdapter) ProcessRequest(ctx context.Context, req domain.ServiceRequest) domain.ServiceResponse {
	start := a.nowFn()
	p, err := a.registry.GetByID(ctx, a.providerID)
	if err != nil {
		return withRequestID(req.RequestID, failed(domain.ErrCodeProviderError, "provider lookup failed: "+err.Error()))
	}
	if strings.TrimSpace(p.WebhookURL) == "" {
		return withRequestID(req.RequestID, failed(domain.ErrCodeNoWebhook, "provider has no webhook URL configured"))
	}

	body, statusCode, err := a.post(ctx, p, p.WebhookURL, dispatchPayload(req, false, ""), dispatchTimeout)
	if err != nil {
		return withRequestID(req.RequestID, failed(domain.ErrCodeNetworkError, "provider unreachable: "+err.Error()))
	}
	if statusCode < 200 || statusCode > 299 {
		return withRequestID(req.RequestID, failed(domain.ErrCodeProviderError, fmt.Sprintf("provider returned HTTP %d", statusCode)))
	}
	var resp domain.ServiceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return withRequestID(req.RequestID, failed(domain.ErrCodeProviderError, "provider returned an unparseable response"))
	}
	resp = domain.SanitizeResponse(resp)
	resp.RequestID = req.RequestID
	if resp.ProcessingTimeMs == 0 {
		resp.ProcessingTimeMs = a.nowFn().Sub(start).Milliseconds()
	}
	return resp
}

// SubmitAsync returns the provider's acceptance without waiting for
// completion; results arrive on the callback URL.
func (a *ExternalAdapter) SubmitAsync(ctx context.Context, req domain.ServiceRequest) (domain.AsyncAccept, error) {
	p, err := a.registry.GetByID(ctx, a.providerID)
	if err != nil || strings.TrimSpace(p.WebhookURL) == "" {
		return domain.AsyncAccept{Accepted: false, RequestID: req.RequestID}, nil
	}
	body, statusCode, err := a.post(ctx, p, p.WebhookURL, dispatchPayload(req, true, req.CallbackURL), asyncTimeout)
	if err != nil || statusCode < 200 || statusCode > 299 {
		return domain.AsyncAccept{Accepted: false, RequestID: req.RequestID}, nil
	}
	accept := domain.AsyncAccept{Accepted: true, RequestID: req.RequestID, EstimatedResponseMinutes: p.AverageResponseMinutes}
	var wire struct {
		Accepted                 *bool `json:"accepted"`
		EstimatedResponseMinutes int   `json:"estimated_response_minutes"`
	}
	if json.Unmarshal(body, &wire) == nil {
		if wire.Accepted != nil {
			accept.Accepted = *wire.Accepted
		}
		if wire.EstimatedResponseMinutes > 0 {
			accept.EstimatedResponseMinutes = wire.EstimatedResponseMinutes
		}
	}
	return accept, nil
}

// CancelRequest is best-effort: every failure collapses to false.
func (a *ExternalAdapter) CancelRequest(ctx context.Context, requestID string) bool {
	p, err := a.registry.GetByID(ctx, a.providerID)
	if err != nil || strings.TrimSpace(p.WebhookURL) == "" {
		return false
	}
	payload, _ := json.Marshal(map[string]string{"request_id": requestID})
	_, statusCode, err := a.post(ctx, p, strings.TrimRight(p.WebhookURL, "/")+"/cancel", payload, asyncTimeout)
	return err == nil && statusCode >= 200 && statusCode <= 299
}

func (a *ExternalAdapter) post(ctx context.Context, p domain.Provider, url string, payload []byte, timeout time.Duration) ([]byte, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	ts := a.nowFn()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Signature", signing.Sign(payload, p.SigningSecret, ts))
	httpReq.Header.Set("X-Timestamp", fmt.Sprintf("%d", ts.Unix()))
	if id := requestIDFromPayload(payload); id != "" {
		httpReq.Header.Set("X-Request-Id", id)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func dispatchPayload(req domain.ServiceRequest, async bool, callbackURL string) []byte {
	envelope := map[string]any{
		"request_id":   req.RequestID,
		"service_type": req.ServiceType,
		"operator_id":  req.OperatorID,
		"content":      req.Content,
		"async":        async,
	}
	if req.SLADeadline != nil {
		envelope["sla_deadline"] = req.SLADeadline
	}
	if async && callbackURL != "" {
		envelope["callback_url"] = callbackURL
	}
	raw, _ := json.Marshal(envelope)
	return raw
}

func requestIDFromPayload(payload []byte) string {
	var wire struct {
		RequestID string `json:"request_id"`
	}
	if json.Unmarshal(payload, &wire) == nil {
		return wire.RequestID
	}
	return ""
}

func withRequestID(requestID string, resp domain.ServiceResponse) domain.ServiceResponse {
	resp.RequestID = requestID
	return resp
}
