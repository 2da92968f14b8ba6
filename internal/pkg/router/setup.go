package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SubscriptionService/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App, subscriptions *controllers.SubscriptionController) {
	setup(app, NewApiRouter(subscriptions, NewLimiterStorage()))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
