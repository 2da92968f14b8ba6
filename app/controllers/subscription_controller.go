package controllers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SubscriptionService/app/models"
	"github.com/ManuelReschke/SubscriptionService/app/repository"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/billing"
)

// EventReconciler applies a verified webhook event to local state.
type EventReconciler interface {
	Reconcile(ctx context.Context, event *billing.InboundEvent) (*billing.DispatchOutcome, error)
}

// WebhookCounter records per-type webhook deliveries.
type WebhookCounter interface {
	AddWebhookEvent(ctx context.Context, eventType string) error
	WebhookEventCounts(ctx context.Context) (map[string]int64, error)
}

// SubscriptionController serves the /api/stripe routes. A nil provider means
// STRIPE_API_KEY was not configured; commands then answer 500.
type SubscriptionController struct {
	provider         billing.Provider
	reconciler       EventReconciler
	subscriptionRepo repository.SubscriptionRepository
	webhookEventRepo repository.WebhookEventRepository
	counter          WebhookCounter
	endpointSecret   string
	verify           func(payload []byte, signatureHeader, endpointSecret string) (*billing.InboundEvent, error)
	opsUsers         map[string]string
	validate         *validator.Validate
	timeout          time.Duration
}

// NewSubscriptionController wires the handlers to their collaborators.
// counter may be nil.
func NewSubscriptionController(
	provider billing.Provider,
	reconciler EventReconciler,
	repos *repository.Repositories,
	counter WebhookCounter,
	endpointSecret string,
) *SubscriptionController {
	sc := &SubscriptionController{
		provider:         provider,
		reconciler:       reconciler,
		subscriptionRepo: repos.Subscription,
		webhookEventRepo: repos.WebhookEvent,
		counter:          counter,
		endpointSecret:   strings.TrimSpace(endpointSecret),
		validate:         validator.New(),
		timeout:          defaultRequestTimeout,
	}
	// Webhooks keep verifying even when outbound calls are not configured.
	if provider != nil {
		sc.verify = provider.VerifyAndParseWebhook
	} else {
		sc.verify = billing.NewWebhookVerifier().Verify
	}
	return sc
}

// SetOpsCredentials enables the webhook stats and audit routes behind basic
// auth. Without credentials those routes are not mounted.
func (sc *SubscriptionController) SetOpsCredentials(user, password string) {
	user = strings.TrimSpace(user)
	if user == "" || password == "" {
		sc.opsUsers = nil
		return
	}
	sc.opsUsers = map[string]string{user: password}
}

type createSubscriptionRequest struct {
	CustomerID string `json:"customerId" validate:"required"`
	PriceID    string `json:"priceId" validate:"required"`
}

type updateSubscriptionRequest struct {
	Metadata          map[string]string `json:"metadata"`
	CancelAtPeriodEnd *bool             `json:"cancelAtPeriodEnd"`
	Description       *string           `json:"description" validate:"omitempty,max=500"`
	Extra             map[string]string `json:"extra"`
}

func (sc *SubscriptionController) providerUnavailable(c *fiber.Ctx) error {
	fiberlog.Error("Stripe provider is not configured (STRIPE_API_KEY missing)")
	return errorResponse(c, fiber.StatusInternalServerError, "Stripe API key not configured")
}

// HandleCreateSubscription creates a subscription at Stripe and records it
// locally as pending. Payment confirmation arrives by webhook.
func (sc *SubscriptionController) HandleCreateSubscription(c *fiber.Ctx) error {
	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid request body")
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PriceID = strings.TrimSpace(req.PriceID)
	if err := sc.validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if sc.provider == nil {
		return sc.providerUnavailable(c)
	}

	ctx, cancel := requestContext(c, sc.timeout)
	defer cancel()

	snapshot, err := sc.provider.CreateSubscription(ctx, req.CustomerID, req.PriceID)
	if err != nil {
		fiberlog.Error(fmt.Sprintf("create subscription for customer %s failed: %v", req.CustomerID, err))
		return errorResponse(c, fiber.StatusInternalServerError, err.Error())
	}

	record := &models.Subscription{
		StripeSubscriptionID: snapshot.ID,
		Status:               models.SubscriptionStatusPending,
		CustomerID:           req.CustomerID,
		PriceID:              req.PriceID,
	}
	if err := sc.subscriptionRepo.Create(ctx, record); err != nil {
		fiberlog.Error(fmt.Sprintf("subscription %s created at Stripe but not stored locally: %v", snapshot.ID, err))
		return errorResponse(c, fiber.StatusInternalServerError, fmt.Sprintf("subscription %s created but could not be stored: %v", snapshot.ID, err))
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":      true,
		"subscription": snapshot,
	})
}

// HandleGetSubscription returns the provider view of a subscription.
func (sc *SubscriptionController) HandleGetSubscription(c *fiber.Ctx) error {
	if sc.provider == nil {
		return sc.providerUnavailable(c)
	}
	ctx, cancel := requestContext(c, sc.timeout)
	defer cancel()

	snapshot, err := sc.provider.RetrieveSubscription(ctx, c.Params("id"))
	if err != nil {
		return errorResponse(c, commandStatus(err), err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "subscription": snapshot})
}

// HandleUpdateSubscription modifies a subscription at Stripe.
func (sc *SubscriptionController) HandleUpdateSubscription(c *fiber.Ctx) error {
	var req updateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := sc.validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, err.Error())
	}
	if sc.provider == nil {
		return sc.providerUnavailable(c)
	}
	ctx, cancel := requestContext(c, sc.timeout)
	defer cancel()

	snapshot, err := sc.provider.UpdateSubscription(ctx, c.Params("id"), billing.SubscriptionUpdate{
		Metadata:          req.Metadata,
		CancelAtPeriodEnd: req.CancelAtPeriodEnd,
		Description:       req.Description,
		Extra:             req.Extra,
	})
	if err != nil {
		return errorResponse(c, commandStatus(err), err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "subscription": snapshot})
}

// HandleCancelSubscription cancels a subscription at Stripe. The local record
// follows once customer.subscription.deleted is delivered.
func (sc *SubscriptionController) HandleCancelSubscription(c *fiber.Ctx) error {
	if sc.provider == nil {
		return sc.providerUnavailable(c)
	}
	ctx, cancel := requestContext(c, sc.timeout)
	defer cancel()

	snapshot, err := sc.provider.CancelSubscription(ctx, c.Params("id"))
	if err != nil {
		return errorResponse(c, commandStatus(err), err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "subscription": snapshot})
}

// RegisterRoutes mounts the Stripe endpoints on r.
func (sc *SubscriptionController) RegisterRoutes(r fiber.Router) {
	r.Post("/subscription", sc.HandleCreateSubscription)
	r.Get("/subscription/:id", sc.HandleGetSubscription)
	r.Put("/subscription/:id", sc.HandleUpdateSubscription)
	r.Delete("/subscription/:id", sc.HandleCancelSubscription)

	r.Post("/webhook", sc.HandleStripeWebhook)

	// Ops routes exist only when credentials are configured.
	if len(sc.opsUsers) == 0 {
		return
	}
	ops := basicauth.New(basicauth.Config{Users: sc.opsUsers})
	r.Get("/webhook/stats", ops, sc.HandleWebhookStats)
	r.Get("/webhook/events", ops, sc.HandleWebhookEvents)
}
