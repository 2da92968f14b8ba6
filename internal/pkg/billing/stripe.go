package billing

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/SubscriptionService/internal/pkg/env"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// Config is everything the Stripe adapter needs. It is passed in explicitly;
// nothing is read from package state.
type Config struct {
	APIKey     string
	MaxRetries int
	RetryDelay time.Duration
	HTTPClient *http.Client
	// BaseURL overrides the Stripe API endpoint (tests, stripe-mock).
	BaseURL string
}

// ConfigFromEnv reads STRIPE_API_KEY, STRIPE_MAX_RETRIES and STRIPE_RETRY_DELAY.
func ConfigFromEnv() Config {
	cfg := Config{
		APIKey:     strings.TrimSpace(env.GetEnv("STRIPE_API_KEY", "")),
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		BaseURL:    strings.TrimSpace(env.GetEnv("STRIPE_API_BASE_URL", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	if v, err := strconv.Atoi(strings.TrimSpace(env.GetEnv("STRIPE_MAX_RETRIES", ""))); err == nil && v >= 1 {
		cfg.MaxRetries = v
	}
	if d, err := time.ParseDuration(strings.TrimSpace(env.GetEnv("STRIPE_RETRY_DELAY", ""))); err == nil && d >= 0 {
		cfg.RetryDelay = d
	}
	return cfg
}

// Provider is the outbound command surface used by the HTTP layer.
type Provider interface {
	CreateSubscription(ctx context.Context, customerID, priceID string) (*SubscriptionSnapshot, error)
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*SubscriptionSnapshot, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error)
	VerifyAndParseWebhook(payload []byte, signatureHeader, endpointSecret string) (*InboundEvent, error)
}

// StripeClient implements Provider on top of stripe-go. The SDK's own network
// retries are disabled; Retry decides what is attempted again.
type StripeClient struct {
	api      *client.API
	retry    Retry
	verifier *WebhookVerifier
}

// NewStripeClient builds an adapter bound to cfg.APIKey.
func NewStripeClient(cfg Config) (*StripeClient, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: STRIPE_API_KEY is not configured", ErrConfiguration)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	delay := cfg.RetryDelay
	if delay < 0 {
		delay = 0
	}

	api := &client.API{}
	api.Init(key, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig(cfg)),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig(cfg)),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig(cfg)),
	})

	return &StripeClient{
		api:      api,
		retry:    Retry{MaxRetries: maxRetries, Delay: delay},
		verifier: NewWebhookVerifier(),
	}, nil
}

func backendConfig(cfg Config) *stripe.BackendConfig {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	bc := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		bc.URL = stripe.String(base)
	}
	return bc
}

// CreateSubscription creates a subscription for customerID on priceID. All
// attempts of one call share an idempotency key, so a retry after a lost
// response cannot create a second subscription.
func (c *StripeClient) CreateSubscription(ctx context.Context, customerID, priceID string) (*SubscriptionSnapshot, error) {
	customerID = strings.TrimSpace(customerID)
	priceID = strings.TrimSpace(priceID)
	if customerID == "" || priceID == "" {
		return nil, fmt.Errorf("%w: customerId and priceId are required", ErrValidation)
	}

	idempotencyKey := uuid.NewString()
	return retryValue(ctx, c.retry, "create subscription", func(ctx context.Context) (*SubscriptionSnapshot, error) {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(customerID),
			Items: []*stripe.SubscriptionItemsParams{
				{Price: stripe.String(priceID)},
			},
		}
		params.Context = ctx
		params.IdempotencyKey = stripe.String(idempotencyKey)

		sub, err := c.api.Subscriptions.New(params)
		if err != nil {
			return nil, err
		}
		return snapshotFromStripe(sub), nil
	})
}

// RetrieveSubscription reads the provider's current view of a subscription.
func (c *StripeClient) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	id, err := requireSubscriptionID(subscriptionID)
	if err != nil {
		return nil, err
	}

	return retryValue(ctx, c.retry, "retrieve subscription", func(ctx context.Context) (*SubscriptionSnapshot, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		sub, err := c.api.Subscriptions.Get(id, params)
		if err != nil {
			return nil, err
		}
		return snapshotFromStripe(sub), nil
	})
}

// UpdateSubscription applies update to an existing subscription.
func (c *StripeClient) UpdateSubscription(ctx context.Context, subscriptionID string, update SubscriptionUpdate) (*SubscriptionSnapshot, error) {
	id, err := requireSubscriptionID(subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}

	return retryValue(ctx, c.retry, "update subscription", func(ctx context.Context) (*SubscriptionSnapshot, error) {
		params := updateParams(update)
		params.Context = ctx
		sub, err := c.api.Subscriptions.Update(id, params)
		if err != nil {
			return nil, err
		}
		return snapshotFromStripe(sub), nil
	})
}

// CancelSubscription cancels a subscription immediately on the provider side.
// The local record changes only when the matching webhook arrives.
func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string) (*SubscriptionSnapshot, error) {
	id, err := requireSubscriptionID(subscriptionID)
	if err != nil {
		return nil, err
	}

	return retryValue(ctx, c.retry, "cancel subscription", func(ctx context.Context) (*SubscriptionSnapshot, error) {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		sub, err := c.api.Subscriptions.Cancel(id, params)
		if err != nil {
			return nil, err
		}
		return snapshotFromStripe(sub), nil
	})
}

// VerifyAndParseWebhook checks the Stripe-Signature header and parses the
// payload. Signature checks are never retried.
func (c *StripeClient) VerifyAndParseWebhook(payload []byte, signatureHeader, endpointSecret string) (*InboundEvent, error) {
	return c.verifier.Verify(payload, signatureHeader, endpointSecret)
}

func requireSubscriptionID(subscriptionID string) (string, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return "", fmt.Errorf("%w: subscription_id cannot be empty", ErrValidation)
	}
	return id, nil
}

func updateParams(update SubscriptionUpdate) *stripe.SubscriptionParams {
	params := &stripe.SubscriptionParams{}
	if len(update.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(update.Metadata))
		for k, v := range update.Metadata {
			params.Metadata[k] = v
		}
	}
	if update.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*update.CancelAtPeriodEnd)
	}
	if update.Description != nil {
		params.Description = stripe.String(*update.Description)
	}
	for k, v := range update.Extra {
		params.AddExtra(k, v)
	}
	return params
}

func snapshotFromStripe(sub *stripe.Subscription) *SubscriptionSnapshot {
	if sub == nil {
		return nil
	}
	out := &SubscriptionSnapshot{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Metadata:          sub.Metadata,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}
	if sub.Created > 0 {
		out.Created = time.Unix(sub.Created, 0).UTC()
	}
	return out
}
