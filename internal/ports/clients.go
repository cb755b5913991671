package ports

import (
	"context"
	"time"

	"github.com/alekb/botesq/internal/domain"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Generation struct {
	Content    string
	TokensUsed int
}

// TextGenerator is the text-generation engine collaborator. Transport
// failures propagate to the caller; availability is checked before use.
type TextGenerator interface {
	Available() bool
	Generate(ctx context.Context, messages []Message, opts GenerateOptions) (Generation, error)
}

// CapabilityAdapter is the uniform contract over one provider, internal or
// external. ProcessRequest never returns a transport error: failures are
// folded into the ServiceResponse with a machine error code.
type CapabilityAdapter interface {
	ProviderID() string
	ProviderName() string
	GetCapabilities(ctx context.Context) (domain.ProviderCapabilities, error)
	CheckHealth(ctx context.Context) domain.ProviderHealth
	ProcessRequest(ctx context.Context, req domain.ServiceRequest) domain.ServiceResponse
	SubmitAsync(ctx context.Context, req domain.ServiceRequest) (domain.AsyncAccept, error)
	CancelRequest(ctx context.Context, requestID string) bool
}

// PrecedentProvider returns ranked prior-case context for a dispute.
type PrecedentProvider interface {
	Available(ctx context.Context) bool
	FindRelevant(ctx context.Context, dispute domain.Dispute, maxResults int) (domain.PrecedentResult, error)
}

// TrustLedger is the reputation collaborator. Delta computation is owned by
// the ledger; the ruling produced here is its sole input.
type TrustLedger interface {
	ComputeDelta(ruling string, statedValue, confidence float64) float64
	ApplyDelta(ctx context.Context, agentID string, delta float64, reason, refType, refID string) error
	RecordOutcome(ctx context.Context, agentID string, won bool) error
}

// CalibrationReader surfaces historical-accuracy notes from the feedback
// aggregation collaborator. Failures are swallowed by callers.
type CalibrationReader interface {
	CalibrationNote(ctx context.Context) (string, error)
}

// HealthCache keeps last-observed provider health snapshots under a TTL. Used
// as a read path for health queries and a fallback when probes fail.
type HealthCache interface {
	Put(ctx context.Context, providerID string, health domain.ProviderHealth, ttl time.Duration) error
	Get(ctx context.Context, providerID string) (*domain.ProviderHealth, error)
}
