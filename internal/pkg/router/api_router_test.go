package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SubscriptionService/app/controllers"
	"github.com/ManuelReschke/SubscriptionService/app/repository"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	sc := controllers.NewSubscriptionController(nil, nil, &repository.Repositories{}, nil, "whsec_router")
	setup(app, NewApiRouter(sc, nil))
	return app
}

func TestApiRouter_MountsStripeRoutes(t *testing.T) {
	app := newTestApp()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/stripe/subscription/sub_1", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestApiRouter_RateLimitSkipsWebhook(t *testing.T) {
	app := newTestApp()

	for i := 0; i < 130; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", nil), -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	}

	last := 0
	for i := 0; i < 121; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/", nil), -1)
		require.NoError(t, err)
		last = resp.StatusCode
	}
	assert.Equal(t, fiber.StatusTooManyRequests, last)
}
