package application

import (
	"context"
	"time"

	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
)

type Config struct {
	ServiceName        string
	IdempotencyTTL     time.Duration
	HealthCacheTTL     time.Duration
	MaxPrecedentCases  int
	ArbitrationTokens  int
	ArbitrationTemp    float64
	GenerationTimeout  time.Duration
	HealthProbeTimeout time.Duration
}

type Actor struct {
	SubjectID      string
	Role           string
	RequestID      string
	IdempotencyKey string
}

// AdapterSource hands out capability adapters. External adapters are cached
// per provider id with a TTL; only the adapter instance is cached, never its
// capability or health data.
type AdapterSource interface {
	Internal() ports.CapabilityAdapter
	External(ctx context.Context, providerID string) (ports.CapabilityAdapter, bool)
	ClearCache()
}

type RouteResult struct {
	Adapter  ports.CapabilityAdapter
	Decision domain.RoutingDecision
}

type Service struct {
	cfg Config

	disputes    ports.DisputeRepository
	registry    ports.ProviderRegistry
	dispatches  ports.DispatchRepository
	auditLogs   ports.AuditLogRepository
	idempotency ports.IdempotencyRepository

	generator   ports.TextGenerator
	precedent   ports.PrecedentProvider
	calibration ports.CalibrationReader
	trust       ports.TrustLedger
	healthCache ports.HealthCache
	adapters    AdapterSource

	events ports.DomainPublisher
	nowFn  func() time.Time
}

type Dependencies struct {
	Config Config

	Disputes    ports.DisputeRepository
	Registry    ports.ProviderRegistry
	Dispatches  ports.DispatchRepository
	AuditLogs   ports.AuditLogRepository
	Idempotency ports.IdempotencyRepository

	Generator   ports.TextGenerator
	Precedent   ports.PrecedentProvider
	Calibration ports.CalibrationReader
	Trust       ports.TrustLedger
	HealthCache ports.HealthCache
	Adapters    AdapterSource

	Events ports.DomainPublisher
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "botesq-arbitration"
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 7 * 24 * time.Hour
	}
	if cfg.HealthCacheTTL <= 0 {
		cfg.HealthCacheTTL = 2 * time.Minute
	}
	if cfg.MaxPrecedentCases <= 0 {
		cfg.MaxPrecedentCases = 3
	}
	if cfg.ArbitrationTokens <= 0 {
		cfg.ArbitrationTokens = 2000
	}
	if cfg.ArbitrationTemp <= 0 {
		cfg.ArbitrationTemp = 0.2
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 60 * time.Second
	}
	if cfg.HealthProbeTimeout <= 0 {
		cfg.HealthProbeTimeout = 5 * time.Second
	}
	return &Service{
		cfg:         cfg,
		disputes:    deps.Disputes,
		registry:    deps.Registry,
		dispatches:  deps.Dispatches,
		auditLogs:   deps.AuditLogs,
		idempotency: deps.Idempotency,
		generator:   deps.Generator,
		precedent:   deps.Precedent,
		calibration: deps.Calibration,
		trust:       deps.Trust,
		healthCache: deps.HealthCache,
		adapters:    deps.Adapters,
		events:      deps.Events,
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
}
