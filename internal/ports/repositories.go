package ports

import (
	"context"
	"time"

	"github.com/alekb/botesq/internal/domain"
)

// DisputeRepository is the narrow read/write surface this service consumes
// from the dispute lifecycle collaborator.
type DisputeRepository interface {
	GetByID(ctx context.Context, disputeID string) (domain.Dispute, error)
	RecordRuling(ctx context.Context, ruling domain.DisputeRuling) error
	ListPendingArbitration(ctx context.Context) ([]domain.Dispute, error)
}

// ProviderRegistry is a read model of registered external providers and
// per-operator preference overrides.
type ProviderRegistry interface {
	ListActive(ctx context.Context) ([]domain.Provider, error)
	GetByID(ctx context.Context, providerID string) (domain.Provider, error)
	PreferencesFor(ctx context.Context, operatorID string) (domain.OperatorPreference, error)
}

type DispatchRepository interface {
	Create(ctx context.Context, row domain.DispatchRecord) error
	Update(ctx context.Context, row domain.DispatchRecord) error
	GetByRequestID(ctx context.Context, requestID string) (domain.DispatchRecord, error)
}

type AuditLogRepository interface {
	Append(ctx context.Context, row domain.AuditLog) error
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
}
