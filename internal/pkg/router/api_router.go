package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/SubscriptionService/app/controllers"
)

type ApiRouter struct {
	subscriptions *controllers.SubscriptionController
	storage       fiber.Storage
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    h.storage,
		// Stripe retries deliveries on its own schedule; never throttle them.
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/api/stripe/webhook"
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	h.subscriptions.RegisterRoutes(api.Group("/stripe"))
}

// NewApiRouter mounts the Stripe endpoints. A nil storage keeps limiter
// state in memory.
func NewApiRouter(subscriptions *controllers.SubscriptionController, storage fiber.Storage) *ApiRouter {
	return &ApiRouter{subscriptions: subscriptions, storage: storage}
}
