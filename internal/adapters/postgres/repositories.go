package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
)

type Repositories struct {
	Disputes    *DisputeRepository
	Providers   *ProviderRegistry
	Dispatches  *DispatchRepository
	AuditLogs   *AuditLogRepository
	Idempotency *IdempotencyRepository
	Trust       *TrustLedger
}

func NewRepositories() *Repositories {
	return &Repositories{
		Disputes:    &DisputeRepository{disputes: map[string]domain.Dispute{}, rulings: map[string]domain.DisputeRuling{}},
		Providers:   &ProviderRegistry{providers: map[string]domain.Provider{}, preferences: map[string]domain.OperatorPreference{}},
		Dispatches:  &DispatchRepository{byRequest: map[string]domain.DispatchRecord{}},
		AuditLogs:   &AuditLogRepository{},
		Idempotency: &IdempotencyRepository{records: map[string]ports.IdempotencyRecord{}},
		Trust:       &TrustLedger{scores: map[string]float64{}},
	}
}

type DisputeRepository struct {
	mu       sync.RWMutex
	disputes map[string]domain.Dispute
	rulings  map[string]domain.DisputeRuling
}

func (r *DisputeRepository) Put(row domain.Dispute) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disputes[row.DisputeID] = row
}

func (r *DisputeRepository) GetByID(_ context.Context, disputeID string) (domain.Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.disputes[disputeID]
	if !ok {
		return domain.Dispute{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *DisputeRepository) RecordRuling(_ context.Context, ruling domain.DisputeRuling) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.disputes[ruling.DisputeID]
	if !ok {
		return domain.ErrNotFound
	}
	if _, exists := r.rulings[ruling.DisputeID]; exists {
		return domain.ErrConflict
	}
	r.rulings[ruling.DisputeID] = ruling
	row.Status = domain.DisputeStatusRuled
	row.UpdatedAt = ruling.RuledAt
	r.disputes[ruling.DisputeID] = row
	return nil
}

func (r *DisputeRepository) RulingFor(disputeID string) (domain.DisputeRuling, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ruling, ok := r.rulings[disputeID]
	return ruling, ok
}

func (r *DisputeRepository) ListPendingArbitration(_ context.Context) ([]domain.Dispute, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now().UTC()
	out := make([]domain.Dispute, 0)
	for _, row := range r.disputes {
		if domain.ReadyForArbitration(row, now) {
			out = append(out, row)
		}
	}
	return out, nil
}

type ProviderRegistry struct {
	mu          sync.RWMutex
	providers   map[string]domain.Provider
	preferences map[string]domain.OperatorPreference
}

func (r *ProviderRegistry) Put(row domain.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[row.ProviderID] = row
}

func (r *ProviderRegistry) PutPreference(row domain.OperatorPreference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preferences[row.OperatorID] = row
}

func (r *ProviderRegistry) ListActive(_ context.Context) ([]domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Status == domain.ProviderStatusActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *ProviderRegistry) GetByID(_ context.Context, providerID string) (domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[providerID]
	if !ok {
		return domain.Provider{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *ProviderRegistry) PreferencesFor(_ context.Context, operatorID string) (domain.OperatorPreference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pref, ok := r.preferences[operatorID]
	if !ok {
		return domain.OperatorPreference{OperatorID: operatorID}, nil
	}
	return pref, nil
}

type DispatchRepository struct {
	mu        sync.RWMutex
	byRequest map[string]domain.DispatchRecord
	creates   int
	updates   int
}

func (r *DispatchRepository) Create(_ context.Context, row domain.DispatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRequest[row.RequestID]; ok {
		return domain.ErrConflict
	}
	r.byRequest[row.RequestID] = row
	r.creates++
	return nil
}

func (r *DispatchRepository) Update(_ context.Context, row domain.DispatchRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRequest[row.RequestID]; !ok {
		return domain.ErrNotFound
	}
	r.byRequest[row.RequestID] = row
	r.updates++
	return nil
}

func (r *DispatchRepository) GetByRequestID(_ context.Context, requestID string) (domain.DispatchRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.byRequest[requestID]
	if !ok {
		return domain.DispatchRecord{}, domain.ErrNotFound
	}
	return row, nil
}

// Counts reports create/update totals. Test observability hook.
func (r *DispatchRepository) Counts() (creates, updates int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creates, r.updates
}

type AuditLogRepository struct {
	mu   sync.RWMutex
	rows []domain.AuditLog
}

func (r *AuditLogRepository) Append(_ context.Context, row domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *AuditLogRepository) All() []domain.AuditLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AuditLog, len(r.rows))
	copy(out, r.rows)
	return out
}

type IdempotencyRepository struct {
	mu      sync.Mutex
	records map[string]ports.IdempotencyRecord
}

func (r *IdempotencyRepository) Get(_ context.Context, key string, now time.Time) (*ports.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok || now.After(rec.ExpiresAt) {
		return nil, nil
	}
	out := rec
	return &out, nil
}

func (r *IdempotencyRepository) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[key]; ok && existing.RequestHash != requestHash {
		return domain.ErrIdempotencyConflict
	}
	if _, ok := r.records[key]; !ok {
		r.records[key] = ports.IdempotencyRecord{Key: key, RequestHash: requestHash, ExpiresAt: expiresAt}
	}
	return nil
}

func (r *IdempotencyRepository) Complete(_ context.Context, key string, responseCode int, responseBody []byte, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return domain.ErrNotFound
	}
	rec.ResponseCode = responseCode
	rec.ResponseBody = append([]byte(nil), responseBody...)
	r.records[key] = rec
	return nil
}

// TrustLedger is the in-process stand-in for the reputation collaborator.
type TrustLedger struct {
	mu       sync.Mutex
	scores   map[string]float64
	outcomes []string
}

// ComputeDelta scales with the stated value (1 credit per 100 of value,
// bounded to [1, 10]) and with the engine's confidence. SPLIT and DISMISSED
// rulings move no scores.
func (l *TrustLedger) ComputeDelta(ruling string, statedValue, confidence float64) float64 {
	if ruling != domain.RulingClaimant && ruling != domain.RulingRespondent {
		return 0
	}
	base := statedValue / 100
	if base < 1 {
		base = 1
	}
	if base > 10 {
		base = 10
	}
	return base * domain.Clamp01(confidence)
}

func (l *TrustLedger) ApplyDelta(_ context.Context, agentID string, delta float64, _, _, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scores[agentID] += delta
	return nil
}

func (l *TrustLedger) RecordOutcome(_ context.Context, agentID string, won bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	suffix := ":lost"
	if won {
		suffix = ":won"
	}
	l.outcomes = append(l.outcomes, agentID+suffix)
	return nil
}

func (l *TrustLedger) Score(agentID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scores[agentID]
}
