package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/SubscriptionService/app/controllers"
	"github.com/ManuelReschke/SubscriptionService/app/repository"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/billing"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/cache"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/database"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/env"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	if env.IsDev() {
		fiberlog.SetLevel(fiberlog.LevelDebug)
	}
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/subscriptionsvc to project root
		"../../../", // Fallback
	}

	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public/docs/v1/openapi.yml"); err == nil {
			basePath = path
			break
		}
	}

	app := fiber.New(fiber.Config{
		AppName:   "subscriptionsvc",
		BodyLimit: 1 << 20, // Stripe events stay well below 1 MiB
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	if user, pass := env.GetEnv("METRICS_USER", ""), env.GetEnv("METRICS_PASSWORD", ""); user != "" && pass != "" {
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				user: pass,
			},
		}), monitor.New())
	}

	// SWAGGER / OPENAPI
	if basePath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: basePath + "public/docs/v1/openapi.yml",
			Path:     "v1",
		}))
	} else {
		fiberlog.Warn("openapi.yml not found, API docs disabled")
	}

	// STRIPE
	var provider billing.Provider
	stripeClient, err := billing.NewStripeClient(billing.ConfigFromEnv())
	if err != nil {
		fiberlog.Error(fmt.Sprintf("Stripe commands disabled: %v", err))
	} else {
		provider = stripeClient
	}

	repos := repository.NewFactory(database.GetDB()).GetRepositories()
	subscriptions := controllers.NewSubscriptionController(
		provider,
		billing.NewReconciler(repos.Subscription),
		repos,
		counter.Default(),
		env.GetEnv("STRIPE_ENDPOINT_SECRET", ""),
	)
	subscriptions.SetOpsCredentials(env.GetEnv("METRICS_USER", ""), env.GetEnv("METRICS_PASSWORD", ""))

	// ROUTER
	router.InstallRouter(app, subscriptions)

	return app
}
