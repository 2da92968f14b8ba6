package repository

import (
	"context"

	"github.com/ManuelReschke/SubscriptionService/app/models"
	"gorm.io/gorm"
)

// SubscriptionRepository defines the persistence contract for local subscription records.
type SubscriptionRepository interface {
	// Begin opens a unit of work. Every reconcile of an inbound event runs in its own.
	Begin(ctx context.Context) (SubscriptionUnitOfWork, error)
	Create(ctx context.Context, sub *models.Subscription) error
	// FindByID returns nil, nil when no record exists.
	FindByID(ctx context.Context, id string) (*models.Subscription, error)
}

// SubscriptionUnitOfWork is a read-modify-commit scope bound to one transaction.
// Rollback after a successful Commit is a no-op.
type SubscriptionUnitOfWork interface {
	FindByID(id string) (*models.Subscription, error)
	Save(sub *models.Subscription) error
	Commit() error
	Rollback() error
}

// WebhookEventRepository stores the webhook audit trail.
type WebhookEventRepository interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	MarkProcessed(ctx context.Context, event *models.WebhookEvent, processingErr error) error
	ListRecent(ctx context.Context, limit int) ([]models.WebhookEvent, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Subscription SubscriptionRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Subscription: NewSubscriptionRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
