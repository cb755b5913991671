package postgres

import (
	"time"
)

type providerModel struct {
	ProviderID             string    `gorm:"column:provider_id;primaryKey"`
	Name                   string    `gorm:"column:name"`
	Status                 string    `gorm:"column:status;index"`
	WebhookURL             string    `gorm:"column:webhook_url"`
	SigningSecret          string    `gorm:"column:signing_secret"`
	Services               string    `gorm:"column:services;type:jsonb"`
	Jurisdictions          string    `gorm:"column:jurisdictions;type:jsonb"`
	Specialties            string    `gorm:"column:specialties;type:jsonb"`
	MaxConcurrentRequests  int       `gorm:"column:max_concurrent_requests"`
	AverageResponseMinutes int       `gorm:"column:average_response_minutes"`
	SupportsUrgent         bool      `gorm:"column:supports_urgent"`
	SupportsAsync          bool      `gorm:"column:supports_async"`
	CreatedAt              time.Time `gorm:"column:created_at"`
	UpdatedAt              time.Time `gorm:"column:updated_at"`
}

func (providerModel) TableName() string { return "providers" }

type operatorPreferenceModel struct {
	OperatorID          string    `gorm:"column:operator_id;primaryKey"`
	DisabledProviderIDs string    `gorm:"column:disabled_provider_ids;type:jsonb"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (operatorPreferenceModel) TableName() string { return "operator_preferences" }

type dispatchModel struct {
	DispatchID       string     `gorm:"column:dispatch_id;primaryKey"`
	RequestID        string     `gorm:"column:request_id;uniqueIndex"`
	ProviderID       string     `gorm:"column:provider_id;index"`
	OperatorID       string     `gorm:"column:operator_id;index"`
	ServiceType      string     `gorm:"column:service_type"`
	Status           string     `gorm:"column:status;index"`
	DecisionReason   string     `gorm:"column:decision_reason"`
	EstimatedCredits float64    `gorm:"column:estimated_credits"`
	CreditsUsed      float64    `gorm:"column:credits_used"`
	ErrorCode        string     `gorm:"column:error_code"`
	ErrorMessage     string     `gorm:"column:error_message"`
	IsAsync          bool       `gorm:"column:is_async"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at"`
	CompletedAt      *time.Time `gorm:"column:completed_at"`
}

func (dispatchModel) TableName() string { return "dispatch_records" }

type precedentCaseModel struct {
	CaseID     string     `gorm:"column:case_id;primaryKey"`
	ClaimType  string     `gorm:"column:claim_type;index"`
	Summary    string     `gorm:"column:summary"`
	Ruling     string     `gorm:"column:ruling"`
	Reasoning  string     `gorm:"column:reasoning"`
	KeyFactors string     `gorm:"column:key_factors;type:jsonb"`
	Metadata   string     `gorm:"column:metadata;type:jsonb"`
	DecidedAt  *time.Time `gorm:"column:decided_at"`
}

func (precedentCaseModel) TableName() string { return "precedent_cases" }
