package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v79/webhook"
)

// WebhookVerifier authenticates Stripe webhook deliveries before anything else
// looks at them.
type WebhookVerifier struct {
	// Tolerance is the maximum age of the signed timestamp.
	Tolerance time.Duration
	// Now supplies the creation time for events that carry none.
	Now func() time.Time
}

func NewWebhookVerifier() *WebhookVerifier {
	return &WebhookVerifier{Tolerance: webhook.DefaultTolerance, Now: time.Now}
}

// Verify recomputes the signature of payload and returns the parsed event.
// A payload that fails verification is never parsed further.
func (v *WebhookVerifier) Verify(payload []byte, signatureHeader, endpointSecret string) (*InboundEvent, error) {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(endpointSecret)
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook endpoint secret is not configured", ErrConfiguration)
	}
	if sig == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrInvalidSignature)
	}

	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	event, err := webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			fiberlog.Error(fmt.Sprintf("[Webhook] signature verification failed (%d bytes): %v", len(payload), err))
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		fiberlog.Error(fmt.Sprintf("[Webhook] could not parse verified payload: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	in := &InboundEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Raw:  payload,
	}
	if event.Created > 0 {
		in.CreatedAt = time.Unix(event.Created, 0).UTC()
	} else {
		in.CreatedAt = v.now().UTC()
	}
	if event.Data != nil {
		in.Object = event.Data.Object
	}
	return in, nil
}

func (v *WebhookVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
