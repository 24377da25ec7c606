package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/PageForgeHQ/PageForge/app/models"
	"github.com/PageForgeHQ/PageForge/internal/pkg/database"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
	"github.com/PageForgeHQ/PageForge/internal/pkg/quota"
)

type quotaAmountRequest struct {
	Amount uint64 `json:"amount" validate:"omitempty,gt=0"`
}

func quotaLedger() *quota.Ledger {
	return quota.NewLedgerFromDB(database.GetDB())
}

// HandleGetQuotaStatus returns every usage counter for an organization.
func HandleGetQuotaStatus(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}

	statuses, err := quotaLedger().GetQuotaStatus(c.UserContext(), orgID)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"organization_id": orgID,
		"quotas":          statuses,
	})
}

// HandleCheckQuota answers whether a prospective consumption would fit.
// It never mutates the counter; a passing check is not a reservation.
func HandleCheckQuota(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	dim := models.QuotaDimension(c.Params("dimension"))

	amount := uint64(1)
	if raw := c.Query("amount"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || parsed == 0 {
			return errorResponse(c, errs.Validation("amount must be a positive integer"))
		}
		amount = parsed
	}

	result, err := quotaLedger().CheckQuota(c.UserContext(), orgID, dim, amount)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(result)
}

// HandleIncrementQuota consumes quota with an atomic check-and-increment.
func HandleIncrementQuota(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	dim := models.QuotaDimension(c.Params("dimension"))

	req := quotaAmountRequest{Amount: 1}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorResponse(c, errs.Validation("invalid request body"))
		}
		if err := validate.Struct(&req); err != nil {
			return errorResponse(c, errs.Validation("amount must be a positive integer"))
		}
		if req.Amount == 0 {
			req.Amount = 1
		}
	}

	status, err := quotaLedger().IncrementQuota(c.UserContext(), orgID, dim, req.Amount)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(status)
}

// HandleDecrementQuota releases quota, clamping at zero.
func HandleDecrementQuota(c *fiber.Ctx) error {
	orgID, err := parseOrganizationID(c)
	if err != nil {
		return errorResponse(c, err)
	}
	dim := models.QuotaDimension(c.Params("dimension"))

	req := quotaAmountRequest{Amount: 1}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorResponse(c, errs.Validation("invalid request body"))
		}
		if err := validate.Struct(&req); err != nil {
			return errorResponse(c, errs.Validation("amount must be a positive integer"))
		}
		if req.Amount == 0 {
			req.Amount = 1
		}
	}

	status, err := quotaLedger().DecrementQuota(c.UserContext(), orgID, dim, req.Amount)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(status)
}
