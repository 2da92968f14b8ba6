package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SubscriptionService/internal/pkg/billing"
)

// defaultRequestTimeout bounds every provider call including its retries.
const defaultRequestTimeout = 20 * time.Second

// errorResponse writes the common failure body.
func errorResponse(c *fiber.Ctx, status int, detail string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"detail":  detail,
	})
}

// commandStatus maps a provider command error to its HTTP status.
func commandStatus(err error) int {
	if errors.Is(err, billing.ErrValidation) {
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}

// requestContext derives the deadline for provider calls made by one request.
func requestContext(c *fiber.Ctx, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(c.UserContext(), timeout)
}
