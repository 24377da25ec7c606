package billing

import (
	"testing"

	"github.com/PageForgeHQ/PageForge/app/models"
)

func TestNormalizeStripeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "active", want: models.SubscriptionStatusActive},
		{in: "trialing", want: models.SubscriptionStatusTrialing},
		{in: "past_due", want: models.SubscriptionStatusPastDue},
		{in: "unpaid", want: models.SubscriptionStatusPastDue},
		{in: "canceled", want: models.SubscriptionStatusCanceled},
		{in: "incomplete_expired", want: models.SubscriptionStatusCanceled},
		{in: "incomplete", want: models.SubscriptionStatusIncomplete},
		{in: "paused", want: models.SubscriptionStatusIncomplete},
		{in: " Active ", want: models.SubscriptionStatusActive},
	}

	for _, tt := range tests {
		if got := normalizeStripeStatus(tt.in); got != tt.want {
			t.Fatalf("normalizeStripeStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsLiveStatus(t *testing.T) {
	for _, status := range models.LiveSubscriptionStatuses {
		if !isLiveStatus(status) {
			t.Fatalf("expected %q to be live", status)
		}
	}
	for _, status := range []string{models.SubscriptionStatusCanceled, models.SubscriptionStatusIncomplete, ""} {
		if isLiveStatus(status) {
			t.Fatalf("expected %q not to be live", status)
		}
	}
}

func TestCycleFromInterval(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "year", want: models.BillingCycleAnnual},
		{in: "month", want: models.BillingCycleMonthly},
		{in: "", want: models.BillingCycleMonthly},
	}
	for _, tt := range tests {
		if got := cycleFromInterval(tt.in); got != tt.want {
			t.Fatalf("cycleFromInterval(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
