package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/PageForgeHQ/PageForge/internal/pkg/billing"
	"github.com/PageForgeHQ/PageForge/internal/pkg/database"
	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
)

// HandleStripeWebhook receives gateway event deliveries. Duplicates are
// acknowledged with 200 so the gateway stops redelivering; processing
// failures return 500 so it retries.
func HandleStripeWebhook(c *fiber.Ctx) error {
	ingestor := billing.NewIngestorFromDB(database.GetDB())

	result, err := ingestor.IngestEvent(c.UserContext(), c.Body(), c.Get("Stripe-Signature"))
	if err != nil {
		if errs.IsKind(err, errs.KindValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "validation_error", "message": err.Error()})
		}
		return errorResponse(c, err)
	}
	return c.JSON(result)
}
