package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/alekb/botesq/internal/domain"
	"github.com/alekb/botesq/internal/ports"
)

// GormProviderRegistry is the database-backed provider registry used when a
// Postgres DSN is configured; the in-memory registry serves tests and dev.
type GormProviderRegistry struct {
	db *gorm.DB
}

func NewGormProviderRegistry(db *gorm.DB) *GormProviderRegistry {
	return &GormProviderRegistry{db: db}
}

func (r *GormProviderRegistry) ListActive(ctx context.Context) ([]domain.Provider, error) {
	var rows []providerModel
	if err := r.db.WithContext(ctx).Where("status = ?", domain.ProviderStatusActive).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active providers: %w", err)
	}
	out := make([]domain.Provider, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainProvider(row))
	}
	return out, nil
}

func (r *GormProviderRegistry) GetByID(ctx context.Context, providerID string) (domain.Provider, error) {
	var row providerModel
	if err := r.db.WithContext(ctx).Where("provider_id = ?", providerID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Provider{}, domain.ErrNotFound
		}
		return domain.Provider{}, fmt.Errorf("get provider: %w", err)
	}
	return toDomainProvider(row), nil
}

func (r *GormProviderRegistry) PreferencesFor(ctx context.Context, operatorID string) (domain.OperatorPreference, error) {
	var row operatorPreferenceModel
	if err := r.db.WithContext(ctx).Where("operator_id = ?", operatorID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.OperatorPreference{OperatorID: operatorID}, nil
		}
		return domain.OperatorPreference{}, fmt.Errorf("get operator preference: %w", err)
	}
	return toDomainPreference(row), nil
}

func (r *GormProviderRegistry) Upsert(ctx context.Context, p domain.Provider) error {
	row := toProviderModel(p)
	if err := r.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

// GormDispatchRepository persists the external-dispatch audit trail.
type GormDispatchRepository struct {
	db *gorm.DB
}

func NewGormDispatchRepository(db *gorm.DB) *GormDispatchRepository {
	return &GormDispatchRepository{db: db}
}

func (r *GormDispatchRepository) Create(ctx context.Context, rec domain.DispatchRecord) error {
	row := toDispatchModel(rec)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("create dispatch record: %w", err)
	}
	return nil
}

func (r *GormDispatchRepository) Update(ctx context.Context, rec domain.DispatchRecord) error {
	row := toDispatchModel(rec)
	res := r.db.WithContext(ctx).Model(&dispatchModel{}).Where("request_id = ?", rec.RequestID).Updates(map[string]any{
		"status":        row.Status,
		"credits_used":  row.CreditsUsed,
		"error_code":    row.ErrorCode,
		"error_message": row.ErrorMessage,
		"updated_at":    row.UpdatedAt,
		"completed_at":  row.CompletedAt,
	})
	if res.Error != nil {
		return fmt.Errorf("update dispatch record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDispatchRepository) GetByRequestID(ctx context.Context, requestID string) (domain.DispatchRecord, error) {
	var row dispatchModel
	if err := r.db.WithContext(ctx).Where("request_id = ?", requestID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DispatchRecord{}, domain.ErrNotFound
		}
		return domain.DispatchRecord{}, fmt.Errorf("get dispatch record: %w", err)
	}
	return toDomainDispatch(row), nil
}

// PrecedentCorpus serves ranked prior cases from the precedent_cases table.
// Relevance is two-tier: cases sharing the dispute's claim type score 0.9,
// everything else 0.5. Registered as the active precedent source at startup.
type PrecedentCorpus struct {
	db *gorm.DB
}

func NewPrecedentCorpus(db *gorm.DB) *PrecedentCorpus {
	return &PrecedentCorpus{db: db}
}

func (c *PrecedentCorpus) Available(ctx context.Context) bool {
	if c == nil || c.db == nil {
		return false
	}
	sqlDB, err := c.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

func (c *PrecedentCorpus) FindRelevant(ctx context.Context, dispute domain.Dispute, maxResults int) (domain.PrecedentResult, error) {
	if maxResults <= 0 {
		maxResults = 3
	}

	var total int64
	if err := c.db.WithContext(ctx).Model(&precedentCaseModel{}).Count(&total).Error; err != nil {
		return domain.PrecedentResult{}, fmt.Errorf("count precedent corpus: %w", err)
	}

	var matched []precedentCaseModel
	if err := c.db.WithContext(ctx).
		Where("claim_type = ?", dispute.ClaimType).
		Order("decided_at DESC NULLS LAST").
		Limit(maxResults).
		Find(&matched).Error; err != nil {
		return domain.PrecedentResult{}, fmt.Errorf("query matching precedents: %w", err)
	}

	cases := make([]domain.PrecedentCase, 0, maxResults)
	for _, row := range matched {
		cases = append(cases, toDomainPrecedentCase(row, 0.9))
	}

	if len(cases) < maxResults {
		var others []precedentCaseModel
		if err := c.db.WithContext(ctx).
			Where("claim_type <> ?", dispute.ClaimType).
			Order("decided_at DESC NULLS LAST").
			Limit(maxResults - len(cases)).
			Find(&others).Error; err != nil {
			return domain.PrecedentResult{}, fmt.Errorf("query fallback precedents: %w", err)
		}
		for _, row := range others {
			cases = append(cases, toDomainPrecedentCase(row, 0.5))
		}
	}

	return domain.PrecedentResult{Cases: cases, Source: "corpus", CorpusSize: int(total)}, nil
}

var _ ports.PrecedentProvider = (*PrecedentCorpus)(nil)
