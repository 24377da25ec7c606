package quota

import (
	"context"
	"time"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/entitlements"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the quota ledger. Every method is
// scoped by organization id; there is no global counter namespace.
type Repository interface {
	// WithTx returns a repository bound to an open transaction.
	WithTx(tx *gorm.DB) Repository

	GetQuota(ctx context.Context, organizationID uint, dim models.QuotaDimension) (*models.UsageQuota, error)
	ListQuotas(ctx context.Context, organizationID uint) ([]models.UsageQuota, error)

	// IncrementIfWithinLimit performs the check-and-increment as one
	// conditional UPDATE. It reports false when the row exists but the
	// increment would exceed the limit, or when no row exists.
	IncrementIfWithinLimit(ctx context.Context, organizationID uint, dim models.QuotaDimension, amount uint64) (bool, error)

	// DecrementClamped locks the row, writes max(0, current-amount) and
	// returns the updated row. The lock never spans a network call.
	DecrementClamped(ctx context.Context, organizationID uint, dim models.QuotaDimension, amount uint64) (*models.UsageQuota, error)

	UpdateLimit(ctx context.Context, organizationID uint, dim models.QuotaDimension, limit int64) error
	CreateIfMissing(ctx context.Context, q *models.UsageQuota) error
	ResetPeriod(ctx context.Context, organizationID uint, dim models.QuotaDimension, periodStart, periodEnd *time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a quota repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) GetQuota(ctx context.Context, organizationID uint, dim models.QuotaDimension) (*models.UsageQuota, error) {
	var q models.UsageQuota
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND dimension = ?", organizationID, dim).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *gormRepository) ListQuotas(ctx context.Context, organizationID uint) ([]models.UsageQuota, error) {
	var quotas []models.UsageQuota
	err := r.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Find(&quotas).Error
	return quotas, err
}

func (r *gormRepository) IncrementIfWithinLimit(ctx context.Context, organizationID uint, dim models.QuotaDimension, amount uint64) (bool, error) {
	// Single conditional UPDATE so two concurrent callers can never both
	// succeed past the limit. The CAST keeps the unsigned counter from being
	// compared against a signed sentinel.
	tx := r.db.WithContext(ctx).Model(&models.UsageQuota{}).
		Where("organization_id = ? AND dimension = ?", organizationID, dim).
		Where("quota_limit < 0 OR quota_limit >= ? OR current_usage + ? <= CAST(quota_limit AS UNSIGNED)",
			entitlements.UnlimitedThreshold, amount).
		Update("current_usage", gorm.Expr("current_usage + ?", amount))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) DecrementClamped(ctx context.Context, organizationID uint, dim models.QuotaDimension, amount uint64) (*models.UsageQuota, error) {
	var q models.UsageQuota
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("organization_id = ? AND dimension = ?", organizationID, dim).
			First(&q).Error; err != nil {
			return err
		}
		next := uint64(0)
		if q.CurrentUsage > amount {
			next = q.CurrentUsage - amount
		}
		if err := tx.Model(&models.UsageQuota{}).
			Where("id = ?", q.ID).
			Update("current_usage", next).Error; err != nil {
			return err
		}
		q.CurrentUsage = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *gormRepository) UpdateLimit(ctx context.Context, organizationID uint, dim models.QuotaDimension, limit int64) error {
	return r.db.WithContext(ctx).Model(&models.UsageQuota{}).
		Where("organization_id = ? AND dimension = ?", organizationID, dim).
		Update("quota_limit", limit).Error
}

func (r *gormRepository) CreateIfMissing(ctx context.Context, q *models.UsageQuota) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "organization_id"},
			{Name: "dimension"},
		},
		DoNothing: true,
	}).Create(q).Error
}

func (r *gormRepository) ResetPeriod(ctx context.Context, organizationID uint, dim models.QuotaDimension, periodStart, periodEnd *time.Time) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.UsageQuota{}).
		Where("organization_id = ? AND dimension = ?", organizationID, dim).
		Updates(map[string]interface{}{
			"current_usage": 0,
			"period_start":  periodStart,
			"period_end":    periodEnd,
			"last_reset_at": &now,
		}).Error
}
