package contracts

import "time"

type RoutingPreferences struct {
	PreferInternal       bool     `json:"prefer_internal,omitempty"`
	PreferredProviderIDs []string `json:"preferred_provider_ids,omitempty"`
	ExcludedProviderIDs  []string `json:"excluded_provider_ids,omitempty"`
	MaxResponseMinutes   int      `json:"max_response_minutes,omitempty"`
	MaxCredits           float64  `json:"max_credits,omitempty"`
}

type ServiceRequestPayload struct {
	RequestID   string              `json:"request_id"`
	ServiceType string              `json:"service_type"`
	OperatorID  string              `json:"operator_id"`
	Content     map[string]any      `json:"content"`
	SLADeadline *time.Time          `json:"sla_deadline,omitempty"`
	CallbackURL string              `json:"callback_url,omitempty"`
	Preferences *RoutingPreferences `json:"preferences,omitempty"`
}
