package models

import "time"

const (
	BillingCycleMonthly = "monthly"
	BillingCycleAnnual  = "annual"
)

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
)

// LiveSubscriptionStatuses is the set of statuses that count as a live
// subscription. At most one row per organization may carry one of these.
var LiveSubscriptionStatuses = []string{
	SubscriptionStatusActive,
	SubscriptionStatusTrialing,
	SubscriptionStatusPastDue,
}

// Subscription mirrors the payment processor's subscription object and maps it
// to an internal plan tier. Rows are never physically deleted; canceled
// subscriptions remain as history.
type Subscription struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	OrganizationID       uint       `gorm:"not null;index:idx_subscriptions_org_status,priority:1" json:"organization_id"`
	StripeCustomerID     string     `gorm:"type:varchar(191);not null;index" json:"stripe_customer_id"`
	StripeSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_stripe_sub_id" json:"stripe_subscription_id"`
	StripePriceID        string     `gorm:"type:varchar(191);not null;default:''" json:"stripe_price_id"`
	PlanTier             string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan_tier"`
	BillingCycle         string     `gorm:"type:varchar(16);not null;default:'monthly'" json:"billing_cycle"`
	Status               string     `gorm:"type:varchar(32);not null;default:'incomplete';index:idx_subscriptions_org_status,priority:2" json:"status"`
	CurrentPeriodStart   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt           *time.Time `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	AmountCents          int64      `gorm:"not null;default:0" json:"amount_cents"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
}

// IsLive reports whether the subscription currently entitles the organization.
func (s *Subscription) IsLive() bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
