package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/PageForgeHQ/PageForge/app/controllers"
)

type WebhookRouter struct {
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}

// InstallRouter registers the gateway callback endpoint. It sits outside the
// authenticated API group: deliveries are server-to-server and authenticate
// with the signature header, and the rate limiter must never drop a retry.
func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/api/v1/billing/webhook/stripe", controllers.HandleStripeWebhook)
}
