package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/PageForgeHQ/PageForge/internal/pkg/cache"
	"github.com/PageForgeHQ/PageForge/internal/pkg/database"
	"github.com/PageForgeHQ/PageForge/internal/pkg/env"
	"github.com/PageForgeHQ/PageForge/internal/pkg/jobqueue"
	"github.com/PageForgeHQ/PageForge/internal/pkg/reaper"
	"github.com/PageForgeHQ/PageForge/internal/pkg/router"
)

func main() {
	app := NewApplication()

	r := reaper.NewFromDB(database.GetDB())
	r.Start()

	jm := jobqueue.GetManager()
	jm.Start()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		r.Stop()
		jm.Stop()
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "PageForge",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	router.InstallRouter(app)

	return app
}
