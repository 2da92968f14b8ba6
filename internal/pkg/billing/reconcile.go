package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/SubscriptionService/app/models"
	"github.com/ManuelReschke/SubscriptionService/app/repository"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Reconciler applies verified provider events to local subscription records.
//
// Redelivery of an event is harmless only because both supported transitions
// are plain assignments. There is no event-id deduplication; a future event
// type that increments or appends must add one first.
type Reconciler struct {
	subscriptions repository.SubscriptionRepository
}

// NewReconciler creates a reconciler over the given record store.
func NewReconciler(subscriptions repository.SubscriptionRepository) *Reconciler {
	return &Reconciler{subscriptions: subscriptions}
}

// Reconcile dispatches event by type. Unknown types and events for
// subscriptions this service does not track succeed without changes.
func (r *Reconciler) Reconcile(ctx context.Context, event *InboundEvent) (*DispatchOutcome, error) {
	if event == nil || strings.TrimSpace(event.Type) == "" {
		err := fmt.Errorf("%w: missing 'type' in event payload", ErrMalformedEvent)
		fiberlog.Error(err.Error())
		return nil, err
	}

	eventID := event.ID
	if eventID == "" {
		eventID = "N/A"
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	outcome := &DispatchOutcome{
		EventID:   event.ID,
		EventType: event.Type,
		Metadata:  map[string]string{},
	}

	status, handled := targetStatus(event.Type)
	if !handled {
		fiberlog.Info(fmt.Sprintf("Unhandled event type: %s for event %s at %d. No action taken.", event.Type, eventID, createdAt.Unix()))
		return outcome, nil
	}

	subID, ok := event.SubscriptionID()
	if !ok {
		err := fmt.Errorf("%w: missing subscription id in %s event", ErrMalformedEvent, event.Type)
		fiberlog.Error(fmt.Sprintf("Event %s: %v", eventID, err))
		return nil, err
	}
	outcome.SubscriptionID = subID
	outcome.Metadata = map[string]string{
		"subscriptionId": subID,
		"status":         status,
	}

	applied, err := r.apply(ctx, subID, status)
	if err != nil {
		fiberlog.Error(fmt.Sprintf("Event %s at %d: %s processing failed for subscription %s: %v", eventID, createdAt.Unix(), event.Type, subID, err))
		return nil, err
	}
	outcome.Applied = applied
	if applied {
		fiberlog.Info(fmt.Sprintf("Event %s at %d: %s processed successfully. Subscription %s set to %s.", eventID, createdAt.Unix(), event.Type, subID, status))
	} else {
		fiberlog.Info(fmt.Sprintf("Event %s: Subscription with id %s not found during %s processing.", eventID, subID, event.Type))
	}
	return outcome, nil
}

// apply runs the read-modify-commit for one event in its own unit of work.
func (r *Reconciler) apply(ctx context.Context, subID, status string) (bool, error) {
	uow, err := r.subscriptions.Begin(ctx)
	if err != nil {
		return false, &PersistenceError{Op: "begin transaction", Err: err}
	}

	sub, err := uow.FindByID(subID)
	if err != nil {
		rollback(uow, subID)
		return false, &PersistenceError{Op: "load subscription " + subID, Err: err}
	}
	if sub == nil {
		rollback(uow, subID)
		return false, nil
	}

	sub.Status = status
	if err := uow.Save(sub); err != nil {
		rollback(uow, subID)
		return false, &PersistenceError{Op: "save subscription " + subID, Err: err}
	}
	if err := uow.Commit(); err != nil {
		rollback(uow, subID)
		return false, &PersistenceError{Op: "commit subscription " + subID, Err: err}
	}
	return true, nil
}

func rollback(uow repository.SubscriptionUnitOfWork, subID string) {
	if err := uow.Rollback(); err != nil {
		fiberlog.Error(fmt.Sprintf("rollback for subscription %s failed: %v", subID, err))
	}
}

func targetStatus(eventType string) (string, bool) {
	switch eventType {
	case EventInvoicePaymentSucceeded:
		return models.SubscriptionStatusActive, true
	case EventCustomerSubscriptionDeleted:
		return models.SubscriptionStatusCancelled, true
	default:
		return "", false
	}
}
