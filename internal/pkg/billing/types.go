package billing

import (
	"fmt"
	"strings"
	"time"
)

// Event types the reconciler acts on. Everything else is acknowledged untouched.
const (
	EventInvoicePaymentSucceeded     = "invoice.payment_succeeded"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
)

// SubscriptionSnapshot is the provider's view of a subscription.
type SubscriptionSnapshot struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customer,omitempty"`
	Status            string            `json:"status"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  *time.Time        `json:"current_period_end,omitempty"`
	Created           time.Time         `json:"created"`
}

// SubscriptionUpdate carries the fields a caller may change. Known fields are
// typed; Extra passes additional provider parameters through untouched.
type SubscriptionUpdate struct {
	Metadata          map[string]string `json:"metadata,omitempty"`
	CancelAtPeriodEnd *bool             `json:"cancelAtPeriodEnd,omitempty"`
	Description       *string           `json:"description,omitempty"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// Validate rejects an update that would not change anything.
func (u SubscriptionUpdate) Validate() error {
	if len(u.Metadata) == 0 && u.CancelAtPeriodEnd == nil && u.Description == nil && len(u.Extra) == 0 {
		return fmt.Errorf("%w: update contains no fields", ErrValidation)
	}
	for k := range u.Metadata {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: metadata keys must not be empty", ErrValidation)
		}
	}
	for k := range u.Extra {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: extra parameter names must not be empty", ErrValidation)
		}
	}
	return nil
}

// InboundEvent is a verified webhook event. It belongs to the request that
// received it and is never shared.
type InboundEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created"`
	Object    map[string]any `json:"object,omitempty"`
	Raw       []byte         `json:"-"`
}

// SubscriptionID returns data.object.subscription when it is a non-empty string.
func (e *InboundEvent) SubscriptionID() (string, bool) {
	if e == nil || e.Object == nil {
		return "", false
	}
	id, ok := e.Object["subscription"].(string)
	id = strings.TrimSpace(id)
	return id, ok && id != ""
}

// DispatchOutcome summarises a reconcile. Metadata is derived from the event
// alone and does not say whether a local record existed.
type DispatchOutcome struct {
	EventID        string            `json:"eventId"`
	EventType      string            `json:"eventType"`
	SubscriptionID string            `json:"subscriptionId,omitempty"`
	Applied        bool              `json:"applied"`
	Metadata       map[string]string `json:"metadata"`
}
