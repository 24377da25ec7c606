package entitlements

import (
	"strings"

	"github.com/PageForgeHQ/PageForge/app/models"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// UnlimitedQuota is the canonical sentinel for an uncapped dimension.
// Limits at or above UnlimitedThreshold (1 TiB-equivalent) are also treated as
// uncapped on read, so legacy rows seeded with huge caps behave identically.
const (
	UnlimitedQuota     int64 = -1
	UnlimitedThreshold int64 = 1 << 40
)

// IsUnlimited reports whether a stored quota limit means "no cap".
func IsUnlimited(limit int64) bool {
	return limit < 0 || limit >= UnlimitedThreshold
}

// NormalizeTier maps arbitrary input to a known tier, defaulting to free.
func NormalizeTier(tier string) Tier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case string(TierStarter):
		return TierStarter
	case string(TierPro):
		return TierPro
	case string(TierEnterprise):
		return TierEnterprise
	default:
		return TierFree
	}
}

// TierRank orders tiers for upgrade checks. Higher rank means more plan.
func TierRank(tier Tier) int {
	switch tier {
	case TierEnterprise:
		return 3
	case TierPro:
		return 2
	case TierStarter:
		return 1
	default:
		return 0
	}
}

// NormalizeCycle maps arbitrary input to a known billing cycle.
func NormalizeCycle(cycle string) string {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case models.BillingCycleAnnual, "year", "yearly":
		return models.BillingCycleAnnual
	default:
		return models.BillingCycleMonthly
	}
}

var tierLimits = map[Tier]map[models.QuotaDimension]int64{
	TierFree: {
		models.DimensionSites:        1,
		models.DimensionPosts:        25,
		models.DimensionUsers:        3,
		models.DimensionStorageBytes: 1 << 30, // 1 GiB
		models.DimensionAPICalls:     10_000,
	},
	TierStarter: {
		models.DimensionSites:        3,
		models.DimensionPosts:        500,
		models.DimensionUsers:        10,
		models.DimensionStorageBytes: 20 << 30, // 20 GiB
		models.DimensionAPICalls:     100_000,
	},
	TierPro: {
		models.DimensionSites:        10,
		models.DimensionPosts:        10_000,
		models.DimensionUsers:        50,
		models.DimensionStorageBytes: 200 << 30, // 200 GiB
		models.DimensionAPICalls:     1_000_000,
	},
	TierEnterprise: {
		models.DimensionSites:        UnlimitedQuota,
		models.DimensionPosts:        UnlimitedQuota,
		models.DimensionUsers:        UnlimitedQuota,
		models.DimensionStorageBytes: UnlimitedQuota,
		models.DimensionAPICalls:     UnlimitedQuota,
	},
}

// LimitsFor returns the per-dimension quota limits for a tier.
// Unknown tiers fall back to the free tier.
func LimitsFor(tier Tier) map[models.QuotaDimension]int64 {
	limits, ok := tierLimits[tier]
	if !ok {
		limits = tierLimits[TierFree]
	}
	out := make(map[models.QuotaDimension]int64, len(limits))
	for dim, limit := range limits {
		out[dim] = limit
	}
	return out
}

// QuotaLimit returns the limit for a single tier/dimension pair.
func QuotaLimit(tier Tier, dim models.QuotaDimension) int64 {
	return LimitsFor(tier)[dim]
}
