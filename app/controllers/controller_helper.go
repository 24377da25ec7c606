package controllers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/PageForgeHQ/PageForge/internal/pkg/errs"
)

var validate = validator.New()

// errorResponse maps engine error kinds to transport codes. Persistence
// causes are logged, never echoed to the caller.
func errorResponse(c *fiber.Ctx, err error) error {
	kind := errs.KindOf(err)
	status := fiber.StatusInternalServerError
	code := "internal_server_error"

	switch kind {
	case errs.KindValidation:
		status, code = fiber.StatusBadRequest, "validation_error"
	case errs.KindAuthorization:
		status, code = fiber.StatusForbidden, "forbidden"
	case errs.KindNotFound:
		status, code = fiber.StatusNotFound, "not_found"
	case errs.KindConflict:
		status, code = fiber.StatusConflict, "conflict"
	case errs.KindGateway:
		status, code = fiber.StatusBadGateway, "gateway_error"
	}
	if status == fiber.StatusInternalServerError || kind == errs.KindGateway {
		log.Printf("%s %s failed: %v", c.Method(), c.Path(), err)
	}

	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

func parseOrganizationID(c *fiber.Ctx) (uint, error) {
	id, err := c.ParamsInt("orgID")
	if err != nil || id <= 0 {
		return 0, errs.Validation("invalid organization id")
	}
	return uint(id), nil
}
