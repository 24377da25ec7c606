package billing

import (
	"context"
	"errors"
	"time"

	"github.com/PageForgeHQ/PageForge/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service, the webhook
// ingestor and the grace-period reaper.
type Repository interface {
	// WithTx returns a repository bound to an open transaction.
	WithTx(tx *gorm.DB) Repository
	// Transaction runs fn against a transaction-bound repository and commits
	// when fn returns nil; any error rolls everything back.
	Transaction(ctx context.Context, fn func(txRepo Repository) error) error
	// TxHandle exposes the underlying handle so sibling services (quota
	// limits) can join the same transaction.
	TxHandle() *gorm.DB

	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (created bool, stored *models.WebhookEvent, err error)
	// ClaimWebhookEvent locks the idempotency row with skip-locked semantics:
	// a row already locked by a concurrent worker is reported as not claimed
	// instead of blocking.
	ClaimWebhookEvent(ctx context.Context, eventID string) (ev *models.WebhookEvent, claimed bool, err error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error

	GetLiveSubscriptionByOrg(ctx context.Context, organizationID uint) (*models.Subscription, error)
	GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	// UpdateSubscriptionByStripeID targets the row by the gateway's id, never
	// by a fresh "current row for this org" lookup.
	UpdateSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string, updates map[string]interface{}) (int64, error)
	// UpdateSubscriptionStatusIf transitions status only from an expected
	// prior status; the guard makes replays and races no-ops.
	UpdateSubscriptionStatusIf(ctx context.Context, stripeSubscriptionID, fromStatus, toStatus string) (int64, error)
	ListPastDueOlderThan(ctx context.Context, cutoff time.Time) ([]models.Subscription, error)
	// CancelPastDueSubscription cancels one row guarded on status=past_due.
	CancelPastDueSubscription(ctx context.Context, id uint) (int64, error)

	FindActivePlanMapping(ctx context.Context, stripePriceID string) (*models.PlanMapping, error)
	FindPlanMappingForTier(ctx context.Context, planTier, billingCycle string) (*models.PlanMapping, error)

	GetOrganization(ctx context.Context, id uint) (*models.Organization, error)
	GetOrganizationByCustomerID(ctx context.Context, stripeCustomerID string) (*models.Organization, error)
	UpdateOrganization(ctx context.Context, id uint, updates map[string]interface{}) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(txRepo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) TxHandle() *gorm.DB {
	return r.db
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("event_id = ?", event.EventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) ClaimWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, bool, error) {
	var ev models.WebhookEvent
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("event_id = ?", eventID).
		First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// The row exists but is locked by a concurrent worker processing the
		// same delivery; answer as in-flight duplicate instead of waiting.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &ev, true, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":     &now,
			"processing_error": processingError,
		}).Error
}

func (r *gormRepository) GetLiveSubscriptionByOrg(ctx context.Context, organizationID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND status IN ?", organizationID, models.LiveSubscriptionStatuses).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"organization_id",
			"stripe_customer_id",
			"stripe_price_id",
			"plan_tier",
			"billing_cycle",
			"status",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"canceled_at",
			"amount_cents",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).
		First(sub).Error
}

func (r *gormRepository) UpdateSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string, updates map[string]interface{}) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Updates(updates)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) UpdateSubscriptionStatusIf(ctx context.Context, stripeSubscriptionID, fromStatus, toStatus string) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ? AND status = ?", stripeSubscriptionID, fromStatus).
		Update("status", toStatus)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) ListPastDueOlderThan(ctx context.Context, cutoff time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.SubscriptionStatusPastDue, cutoff).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CancelPastDueSubscription(ctx context.Context, id uint) (int64, error) {
	now := time.Now()
	tx := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, models.SubscriptionStatusPastDue).
		Updates(map[string]interface{}{
			"status":               models.SubscriptionStatusCanceled,
			"cancel_at_period_end": false,
			"canceled_at":          &now,
		})
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) FindActivePlanMapping(ctx context.Context, stripePriceID string) (*models.PlanMapping, error) {
	var m models.PlanMapping
	err := r.db.WithContext(ctx).
		Where("stripe_price_id = ? AND is_active = ?", stripePriceID, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) FindPlanMappingForTier(ctx context.Context, planTier, billingCycle string) (*models.PlanMapping, error) {
	var m models.PlanMapping
	err := r.db.WithContext(ctx).
		Where("plan_tier = ? AND billing_cycle = ? AND is_active = ?", planTier, billingCycle, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) GetOrganization(ctx context.Context, id uint) (*models.Organization, error) {
	var org models.Organization
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *gormRepository) GetOrganizationByCustomerID(ctx context.Context, stripeCustomerID string) (*models.Organization, error) {
	var org models.Organization
	err := r.db.WithContext(ctx).Where("stripe_customer_id = ?", stripeCustomerID).First(&org).Error
	if err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *gormRepository) UpdateOrganization(ctx context.Context, id uint, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Organization{}).
		Where("id = ?", id).
		Updates(updates).Error
}
