package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/PageForgeHQ/PageForge/app/controllers"
	"github.com/PageForgeHQ/PageForge/internal/pkg/cache"
	"github.com/PageForgeHQ/PageForge/internal/pkg/env"
	"github.com/PageForgeHQ/PageForge/internal/pkg/middleware"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    limiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "PageForge billing and quota API",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())

	org := v1.Group("/organizations/:orgID")
	org.Get("/quota", controllers.HandleGetQuotaStatus)
	org.Get("/quota/:dimension/check", controllers.HandleCheckQuota)
	org.Post("/quota/:dimension/increment", controllers.HandleIncrementQuota)
	org.Post("/quota/:dimension/decrement", controllers.HandleDecrementQuota)

	org.Get("/billing/subscription", controllers.HandleGetSubscription)
	org.Get("/billing/active", controllers.HandleSubscriptionActive)
	org.Post("/billing/checkout", controllers.HandleCreateCheckoutSession)
	org.Post("/billing/upgrade", controllers.HandleUpgradeSubscription)
	org.Post("/billing/cancel", controllers.HandleCancelSubscription)
	org.Post("/billing/portal", controllers.HandleCustomerPortal)
}

// limiterStorage backs the rate limiter with redis so limits hold across
// instances. Database 1 keeps limiter keys out of the cache namespace.
func limiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		addr := client.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
