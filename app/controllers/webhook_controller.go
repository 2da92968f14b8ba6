package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SubscriptionService/app/models"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/billing"
)

const (
	webhookStageVerification = "verification"
	webhookStageDispatch     = "dispatch"
	webhookStagePersistence  = "persistence"

	maxWebhookEventsLimit = 200
)

// HandleStripeWebhook verifies a Stripe delivery and reconciles local state.
// Every failure after the header checks answers 400; "stage" tells whether the
// payload was rejected or a local commit did not happen.
func (sc *SubscriptionController) HandleStripeWebhook(c *fiber.Ctx) error {
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))
	if signature == "" {
		fiberlog.Warn("Stripe webhook rejected: missing Stripe-Signature header")
		return errorResponse(c, fiber.StatusBadRequest, "Missing signature header")
	}
	if sc.endpointSecret == "" {
		fiberlog.Error("Stripe webhook rejected: STRIPE_ENDPOINT_SECRET not configured")
		return errorResponse(c, fiber.StatusInternalServerError, "Stripe endpoint secret not configured")
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	event, err := sc.verify(rawBody, signature, sc.endpointSecret)
	if err != nil {
		if errors.Is(err, billing.ErrConfiguration) {
			return errorResponse(c, fiber.StatusInternalServerError, err.Error())
		}
		return webhookFailure(c, webhookStageVerification, err)
	}

	ctx, cancel := requestContext(c, sc.timeout)
	defer cancel()

	audit := sc.recordWebhookEvent(c, event)
	if sc.counter != nil {
		if err := sc.counter.AddWebhookEvent(ctx, event.Type); err != nil {
			fiberlog.Warn(fmt.Sprintf("webhook counter for %s not updated: %v", event.Type, err))
		}
	}

	outcome, err := sc.reconciler.Reconcile(ctx, event)
	sc.markWebhookProcessed(c, audit, err)
	if err != nil {
		stage := webhookStageDispatch
		if errors.Is(err, billing.ErrPersistence) {
			stage = webhookStagePersistence
		}
		return webhookFailure(c, stage, err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"event":    event,
		"metadata": outcome.Metadata,
	})
}

func webhookFailure(c *fiber.Ctx, stage string, err error) error {
	fiberlog.Error(fmt.Sprintf("Stripe webhook failed during %s: %v", stage, err))
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"detail":  fmt.Sprintf("Error processing webhook event: %v", err),
		"stage":   stage,
	})
}

// recordWebhookEvent writes the audit row. Failures are logged and ignored.
func (sc *SubscriptionController) recordWebhookEvent(c *fiber.Ctx, event *billing.InboundEvent) *models.WebhookEvent {
	if sc.webhookEventRepo == nil {
		return nil
	}
	row := &models.WebhookEvent{
		StripeEventID: event.ID,
		EventType:     event.Type,
		PayloadJSON:   string(event.Raw),
	}
	if err := sc.webhookEventRepo.Create(c.UserContext(), row); err != nil {
		fiberlog.Warn(fmt.Sprintf("webhook audit row for event %s not stored: %v", event.ID, err))
		return nil
	}
	return row
}

func (sc *SubscriptionController) markWebhookProcessed(c *fiber.Ctx, row *models.WebhookEvent, processingErr error) {
	if row == nil {
		return
	}
	if err := sc.webhookEventRepo.MarkProcessed(c.UserContext(), row, processingErr); err != nil {
		fiberlog.Warn(fmt.Sprintf("webhook audit row %s not updated: %v", row.ID, err))
	}
}

// HandleWebhookStats returns delivery counts per event type.
func (sc *SubscriptionController) HandleWebhookStats(c *fiber.Ctx) error {
	if sc.counter == nil {
		return errorResponse(c, fiber.StatusInternalServerError, "webhook counters not configured")
	}
	counts, err := sc.counter.WebhookEventCounts(c.UserContext())
	if err != nil {
		fiberlog.Error(fmt.Sprintf("loading webhook counters failed: %v", err))
		return errorResponse(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "counts": counts})
}

// HandleWebhookEvents lists the most recent audit rows.
func (sc *SubscriptionController) HandleWebhookEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 {
		limit = 50
	}
	if limit > maxWebhookEventsLimit {
		limit = maxWebhookEventsLimit
	}
	if sc.webhookEventRepo == nil {
		return errorResponse(c, fiber.StatusInternalServerError, "webhook audit not configured")
	}
	events, err := sc.webhookEventRepo.ListRecent(c.UserContext(), limit)
	if err != nil {
		fiberlog.Error(fmt.Sprintf("loading webhook events failed: %v", err))
		return errorResponse(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "events": events})
}
