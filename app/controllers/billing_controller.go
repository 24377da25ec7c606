package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/PageForgeHQ/PageForge/internal/pkg/billing"
	"github.com/PageForgeHQ/PageForge/internal/pkg/database"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
	"github.com/PageForgeHQ/PageForge/internal/pkg/usercontext"
)

type checkoutRequest struct {
	PlanTier     string `json:"plan_tier" validate:"required,oneof=starter pro enterprise"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,oneof=monthly annual yearly"`
}

type upgradeRequest struct {
	PlanTier     string `json:"plan_tier" validate:"required,oneof=starter pro enterprise"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,oneof=monthly annual yearly"`
}

type cancelRequest struct {
	Immediate bool `json:"immediate"`
}

func billingService() *billing.Service {
	return billing.NewServiceFromDB(database.GetDB())
}

// HandleCreateCheckoutSession starts a hosted checkout for a paid plan and
// returns its URL.
func HandleCreateCheckoutSession(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, errs.Validation("invalid request body"))
	}
	if err := validate.Struct(&req); err != nil {
		return errorResponse(c, errs.Validation("plan_tier must be one of starter, pro, enterprise"))
	}

	url, err := billingService().CreateCheckoutSession(c.UserContext(), orgID, usercontext.GetUserID(c), req.PlanTier, req.BillingCycle)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"checkout_url": url})
}

// HandleGetSubscription returns the organization's live subscription.
func HandleGetSubscription(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	sub, err := billingService().GetCurrentSubscription(c.UserContext(), orgID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"id":                   sub.ID,
		"plan_tier":            sub.PlanTier,
		"billing_cycle":        sub.BillingCycle,
		"status":               sub.Status,
		"amount_cents":         sub.AmountCents,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"current_period_start": formatTimePtr(sub.CurrentPeriodStart),
		"current_period_end":   formatTimePtr(sub.CurrentPeriodEnd),
		"canceled_at":          formatTimePtr(sub.CanceledAt),
	})
}

// HandleCancelSubscription cancels at period end, or immediately when the
// request says so.
func HandleCancelSubscription(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req cancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorResponse(c, errs.Validation("invalid request body"))
		}
	}

	if err := billingService().CancelSubscription(c.UserContext(), orgID, usercontext.GetUserID(c), req.Immediate); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"canceled": true, "immediate": req.Immediate})
}

// HandleUpgradeSubscription moves a live subscription to a higher tier.
func HandleUpgradeSubscription(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	var req upgradeRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, errs.Validation("invalid request body"))
	}
	if err := validate.Struct(&req); err != nil {
		return errorResponse(c, errs.Validation("plan_tier must be one of starter, pro, enterprise"))
	}

	if err := billingService().UpgradeSubscription(c.UserContext(), orgID, usercontext.GetUserID(c), req.PlanTier, req.BillingCycle); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"upgraded": true, "plan_tier": req.PlanTier})
}

// HandleCustomerPortal returns a hosted billing-portal session URL.
func HandleCustomerPortal(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	url, err := billingService().GetCustomerPortalURL(c.UserContext(), orgID, usercontext.GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"portal_url": url})
}

// HandleSubscriptionActive answers the hot-path entitlement question.
func HandleSubscriptionActive(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	active, err := billingService().HasActiveSubscription(c.UserContext(), orgID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"organization_id": orgID, "active": active})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
