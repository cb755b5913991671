package domain

import (
	"strings"
	"time"
)

const (
	ServiceTypeLegalQA        = "LEGAL_QA"
	ServiceTypeDocumentReview = "DOCUMENT_REVIEW"
	ServiceTypeConsultation   = "CONSULTATION"
	ServiceTypeDocumentDraft  = "DOCUMENT_DRAFT"
)

const (
	ResponseStatusCompleted          = "COMPLETED"
	ResponseStatusFailed             = "FAILED"
	ResponseStatusRequiresEscalation = "REQUIRES_ESCALATION"
)

const (
	ProviderStatusActive    = "active"
	ProviderStatusDegraded  = "degraded"
	ProviderStatusSuspended = "suspended"
)

const (
	ErrCodeNoWebhook       = "NO_WEBHOOK"
	ErrCodeProviderError   = "PROVIDER_ERROR"
	ErrCodeNetworkError    = "NETWORK_ERROR"
	ErrCodeMissingQuestion = "MISSING_QUESTION"
	ErrCodeMissingDocument = "MISSING_DOCUMENT"
	ErrCodeAnalysisFailed  = "ANALYSIS_FAILED"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

const (
	DispatchStatusPending   = "pending"
	DispatchStatusCompleted = "completed"
	DispatchStatusFailed    = "failed"
)

// InternalProviderID identifies the in-process engine in routing decisions
// and operator preferences.
const InternalProviderID = "internal"

type ServiceRequest struct {
	RequestID   string         `json:"request_id"`
	ServiceType string         `json:"service_type"`
	OperatorID  string         `json:"operator_id"`
	Content     map[string]any `json:"content"`
	SLADeadline *time.Time     `json:"sla_deadline,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
}

type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Escalation struct {
	Reason          string `json:"reason"`
	SuggestedAction string `json:"suggested_action"`
}

type ServiceResponse struct {
	RequestID        string         `json:"request_id"`
	Status           string         `json:"status"`
	Content          map[string]any `json:"content,omitempty"`
	Error            *ResponseError `json:"error,omitempty"`
	Escalation       *Escalation    `json:"escalation,omitempty"`
	CreditsUsed      float64        `json:"credits_used,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms,omitempty"`
}

type ProviderCapabilities struct {
	ServiceTypes           []string `json:"service_types"`
	Jurisdictions          []string `json:"jurisdictions,omitempty"`
	Specialties            []string `json:"specialties,omitempty"`
	MaxConcurrentRequests  int      `json:"max_concurrent_requests"`
	AverageResponseMinutes int      `json:"average_response_minutes"`
	SupportsUrgent         bool     `json:"supports_urgent"`
	SupportsAsync          bool     `json:"supports_async"`
}

type ProviderHealth struct {
	Healthy           bool      `json:"healthy"`
	CurrentLoad       int       `json:"current_load"`
	MaxCapacity       int       `json:"max_capacity"`
	AverageResponseMs int64     `json:"average_response_ms"`
	ErrorRate         float64   `json:"error_rate"`
	LastChecked       time.Time `json:"last_checked"`
}

type RoutingDecision struct {
	ProviderID               string  `json:"provider_id"`
	ProviderName             string  `json:"provider_name"`
	Reason                   string  `json:"reason"`
	EstimatedResponseMinutes int     `json:"estimated_response_minutes"`
	EstimatedCredits         float64 `json:"estimated_credits"`
	IsAsync                  bool    `json:"is_async"`
}

type RoutingPreferences struct {
	PreferInternal       bool     `json:"prefer_internal"`
	PreferredProviderIDs []string `json:"preferred_provider_ids,omitempty"`
	ExcludedProviderIDs  []string `json:"excluded_provider_ids,omitempty"`
	MaxResponseMinutes   int      `json:"max_response_minutes,omitempty"`
	MaxCredits           float64  `json:"max_credits,omitempty"`
}

type ProviderService struct {
	ServiceType string `json:"service_type"`
	Enabled     bool   `json:"enabled"`
}

// Provider is a registry row for an external legal-service provider. The
// signing secret is provider-scoped and never logged.
type Provider struct {
	ProviderID             string            `json:"provider_id"`
	Name                   string            `json:"name"`
	Status                 string            `json:"status"`
	WebhookURL             string            `json:"webhook_url,omitempty"`
	SigningSecret          string            `json:"-"`
	Services               []ProviderService `json:"services"`
	Jurisdictions          []string          `json:"jurisdictions,omitempty"`
	Specialties            []string          `json:"specialties,omitempty"`
	MaxConcurrentRequests  int               `json:"max_concurrent_requests"`
	AverageResponseMinutes int               `json:"average_response_minutes"`
	SupportsUrgent         bool              `json:"supports_urgent"`
	SupportsAsync          bool              `json:"supports_async"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

func (p Provider) ServiceEnabled(serviceType string) bool {
	for _, svc := range p.Services {
		if svc.ServiceType == serviceType && svc.Enabled {
			return true
		}
	}
	return false
}

type OperatorPreference struct {
	OperatorID          string    `json:"operator_id"`
	DisabledProviderIDs []string  `json:"disabled_provider_ids,omitempty"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (p OperatorPreference) ProviderDisabled(providerID string) bool {
	for _, id := range p.DisabledProviderIDs {
		if id == providerID {
			return true
		}
	}
	return false
}

// DispatchRecord is the persisted audit trail for a request handed to an
// external provider. Internal executions are never recorded.
type DispatchRecord struct {
	DispatchID       string     `json:"dispatch_id"`
	RequestID        string     `json:"request_id"`
	ProviderID       string     `json:"provider_id"`
	OperatorID       string     `json:"operator_id"`
	ServiceType      string     `json:"service_type"`
	Status           string     `json:"status"`
	DecisionReason   string     `json:"decision_reason"`
	EstimatedCredits float64    `json:"estimated_credits"`
	CreditsUsed      float64    `json:"credits_used,omitempty"`
	ErrorCode        string     `json:"error_code,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	IsAsync          bool       `json:"is_async"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// SanitizeResponse enforces the response contract on provider-supplied data:
// a response never reports COMPLETED while carrying an error. A provider that
// sends both is treated as failed.
func SanitizeResponse(resp ServiceResponse) ServiceResponse {
	if resp.Status == ResponseStatusCompleted && resp.Error != nil {
		resp.Status = ResponseStatusFailed
	}
	return resp
}

// AsyncAccept is the acceptance/estimate tuple returned by async submission;
// completion arrives later on the callback URL.
type AsyncAccept struct {
	Accepted                 bool   `json:"accepted"`
	RequestID                string `json:"request_id"`
	EstimatedResponseMinutes int    `json:"estimated_response_minutes,omitempty"`
}

func NormalizeServiceType(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case ServiceTypeLegalQA:
		return ServiceTypeLegalQA
	case ServiceTypeDocumentReview:
		return ServiceTypeDocumentReview
	case ServiceTypeConsultation:
		return ServiceTypeConsultation
	case ServiceTypeDocumentDraft:
		return ServiceTypeDocumentDraft
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

func BaseCredits(serviceType string) float64 {
	switch serviceType {
	case ServiceTypeLegalQA:
		return 5
	case ServiceTypeDocumentReview:
		return 10
	case ServiceTypeConsultation:
		return 15
	case ServiceTypeDocumentDraft:
		return 12
	default:
		return 8
	}
}

// EstimateCredits applies the shared charge formula so routing estimates and
// internal adapter charges stay consistent: a per-service base, a per-page
// cost for document work, and a 1.5x urgency multiplier.
func EstimateCredits(serviceType string, urgent bool, pageCount int) float64 {
	credits := BaseCredits(serviceType)
	if pageCount > 0 && (serviceType == ServiceTypeDocumentReview || serviceType == ServiceTypeDocumentDraft) {
		credits += 0.5 * float64(pageCount)
	}
	if urgent {
		credits *= 1.5
	}
	return credits
}

func IsUrgent(content map[string]any) bool {
	raw, ok := content["urgency"]
	if !ok {
		return false
	}
	s, ok := raw.(string)
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(s), "urgent") || strings.EqualFold(strings.TrimSpace(s), "high")
}

func PageCount(content map[string]any) int {
	raw, ok := content["page_count"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
