package postgres

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/alekb/botesq/internal/domain"
	"gorm.io/gorm"
)

func toDomainProvider(row providerModel) domain.Provider {
	var services []domain.ProviderService
	_ = json.Unmarshal([]byte(orEmptyArray(row.Services)), &services)
	return domain.Provider{
		ProviderID:             row.ProviderID,
		Name:                   row.Name,
		Status:                 row.Status,
		WebhookURL:             row.WebhookURL,
		SigningSecret:          row.SigningSecret,
		Services:               services,
		Jurisdictions:          decodeStrings(row.Jurisdictions),
		Specialties:            decodeStrings(row.Specialties),
		MaxConcurrentRequests:  row.MaxConcurrentRequests,
		AverageResponseMinutes: row.AverageResponseMinutes,
		SupportsUrgent:         row.SupportsUrgent,
		SupportsAsync:          row.SupportsAsync,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}
}

func toProviderModel(p domain.Provider) providerModel {
	return providerModel{
		ProviderID:             p.ProviderID,
		Name:                   p.Name,
		Status:                 p.Status,
		WebhookURL:             p.WebhookURL,
		SigningSecret:          p.SigningSecret,
		Services:               encodeJSON(p.Services),
		Jurisdictions:          encodeJSON(p.Jurisdictions),
		Specialties:            encodeJSON(p.Specialties),
		MaxConcurrentRequests:  p.MaxConcurrentRequests,
		AverageResponseMinutes: p.AverageResponseMinutes,
		SupportsUrgent:         p.SupportsUrgent,
		SupportsAsync:          p.SupportsAsync,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

func toDomainPreference(row operatorPreferenceModel) domain.OperatorPreference {
	return domain.OperatorPreference{
		OperatorID:          row.OperatorID,
		DisabledProviderIDs: decodeStrings(row.DisabledProviderIDs),
		UpdatedAt:           row.UpdatedAt,
	}
}

func toDomainDispatch(row dispatchModel) domain.DispatchRecord {
	return domain.DispatchRecord{
		DispatchID:       row.DispatchID,
		RequestID:        row.RequestID,
		ProviderID:       row.ProviderID,
		OperatorID:       row.OperatorID,
		ServiceType:      row.ServiceType,
		Status:           row.Status,
		DecisionReason:   row.DecisionReason,
		EstimatedCredits: row.EstimatedCredits,
		CreditsUsed:      row.CreditsUsed,
		ErrorCode:        row.ErrorCode,
		ErrorMessage:     row.ErrorMessage,
		IsAsync:          row.IsAsync,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		CompletedAt:      row.CompletedAt,
	}
}

func toDispatchModel(d domain.DispatchRecord) dispatchModel {
	return dispatchModel{
		DispatchID:       d.DispatchID,
		RequestID:        d.RequestID,
		ProviderID:       d.ProviderID,
		OperatorID:       d.OperatorID,
		ServiceType:      d.ServiceType,
		Status:           d.Status,
		DecisionReason:   d.DecisionReason,
		EstimatedCredits: d.EstimatedCredits,
		CreditsUsed:      d.CreditsUsed,
		ErrorCode:        d.ErrorCode,
		ErrorMessage:     d.ErrorMessage,
		IsAsync:          d.IsAsync,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		CompletedAt:      d.CompletedAt,
	}
}

func toDomainPrecedentCase(row precedentCaseModel, relevance float64) domain.PrecedentCase {
	var metadata map[string]string
	_ = json.Unmarshal([]byte(orEmptyObject(row.Metadata)), &metadata)
	return domain.PrecedentCase{
		CaseID:         row.CaseID,
		Summary:        row.Summary,
		ClaimType:      row.ClaimType,
		Ruling:         row.Ruling,
		Reasoning:      row.Reasoning,
		KeyFactors:     decodeStrings(row.KeyFactors),
		RelevanceScore: relevance,
		Metadata:       metadata,
		DecidedAt:      row.DecidedAt,
	}
}

func encodeJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func decodeStrings(raw string) []string {
	var out []string
	_ = json.Unmarshal([]byte(orEmptyArray(raw)), &out)
	return out
}

func orEmptyArray(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "[]"
	}
	return raw
}

func orEmptyObject(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "{}"
	}
	return raw
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "duplicate key")
}
