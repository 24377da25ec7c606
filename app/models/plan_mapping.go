package models

import "time"

// PlanMapping maps a gateway price reference to an internal plan tier and
// billing cycle. Checkout and upgrade resolve prices through active mappings.
type PlanMapping struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	StripePriceID string    `gorm:"type:varchar(191);not null;uniqueIndex:ux_plan_mappings_price_id" json:"stripe_price_id"`
	PlanTier      string    `gorm:"type:varchar(50);not null;index" json:"plan_tier"`
	BillingCycle  string    `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	AmountCents   int64     `gorm:"not null;default:0" json:"amount_cents"`
	IsActive      bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
