package models

import "time"

// Organization is the tenant boundary. Every quota and subscription row is
// scoped by OrganizationID; the directory itself is owned by the host product,
// the billing engine only reads it for ownership checks and writes back the
// effective plan tier and gateway customer linkage.
type Organization struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Name             string    `gorm:"type:varchar(200);not null" json:"name"`
	OwnerID          uint      `gorm:"not null;index" json:"owner_id"`
	BillingEmail     string    `gorm:"type:varchar(200);default:''" json:"billing_email"`
	PlanTier         string    `gorm:"type:varchar(50);not null;default:'free';index" json:"plan_tier"`
	StripeCustomerID string    `gorm:"type:varchar(191);default:'';index" json:"stripe_customer_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
