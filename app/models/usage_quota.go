package models

import "time"

// QuotaDimension names a metered resource.
type QuotaDimension string

const (
	DimensionSites        QuotaDimension = "sites"
	DimensionPosts        QuotaDimension = "posts"
	DimensionUsers        QuotaDimension = "users"
	DimensionStorageBytes QuotaDimension = "storage_bytes"
	DimensionAPICalls     QuotaDimension = "api_calls"
)

// AllDimensions returns every metered dimension in a stable order.
func AllDimensions() []QuotaDimension {
	return []QuotaDimension{
		DimensionSites,
		DimensionPosts,
		DimensionUsers,
		DimensionStorageBytes,
		DimensionAPICalls,
	}
}

// ValidDimension reports whether d is a known metered dimension.
func ValidDimension(d QuotaDimension) bool {
	switch d {
	case DimensionSites, DimensionPosts, DimensionUsers, DimensionStorageBytes, DimensionAPICalls:
		return true
	default:
		return false
	}
}

// UsageQuota is one usage counter per (organization, dimension).
//
// CurrentUsage is an unsigned 64-bit counter; storage_bytes and api_calls can
// realistically exceed 2^53, so all arithmetic on it stays integral and never
// passes through floating point. QuotaLimit of -1 means unlimited.
type UsageQuota struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	OrganizationID uint           `gorm:"not null;index:ux_usage_quotas_org_dimension,unique,priority:1" json:"organization_id"`
	Dimension      QuotaDimension `gorm:"type:varchar(32);not null;index:ux_usage_quotas_org_dimension,unique,priority:2" json:"dimension"`
	CurrentUsage   uint64         `gorm:"not null;default:0" json:"current_usage"`
	QuotaLimit     int64          `gorm:"not null;default:0" json:"quota_limit"`
	PeriodStart    *time.Time     `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd      *time.Time     `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	LastResetAt    *time.Time     `gorm:"type:timestamp;default:null" json:"last_reset_at,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
