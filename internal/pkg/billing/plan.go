package billing

import (
	"strings"

	"github.com/PageForgeHQ/PageForge/app/models"
)

func isLiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing, models.SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// normalizeStripeStatus maps the processor's status vocabulary onto the local
// lifecycle states.
func normalizeStripeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusIncomplete
	}
}

// cycleFromInterval maps a gateway price interval to a local billing cycle.
func cycleFromInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "year", "annual", "yearly":
		return models.BillingCycleAnnual
	default:
		return models.BillingCycleMonthly
	}
}
