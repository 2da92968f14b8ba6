package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuelReschke/SubscriptionService/app/models"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) Begin(ctx context.Context) (SubscriptionUnitOfWork, error) {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	return &subscriptionTx{tx: tx}, nil
}

func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub == nil || strings.TrimSpace(sub.StripeSubscriptionID) == "" {
		return errors.New("stripe_subscription_id is required")
	}
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *subscriptionRepository) FindByID(ctx context.Context, id string) (*models.Subscription, error) {
	return findSubscription(r.db.WithContext(ctx), id)
}

// subscriptionTx is a unit of work over a single gorm transaction.
type subscriptionTx struct {
	tx   *gorm.DB
	done bool
}

func (u *subscriptionTx) FindByID(id string) (*models.Subscription, error) {
	return findSubscription(u.tx, id)
}

func (u *subscriptionTx) Save(sub *models.Subscription) error {
	if sub == nil {
		return errors.New("subscription is nil")
	}
	return u.tx.Save(sub).Error
}

func (u *subscriptionTx) Commit() error {
	if u.done {
		return gorm.ErrInvalidTransaction
	}
	if err := u.tx.Commit().Error; err != nil {
		return err
	}
	u.done = true
	return nil
}

func (u *subscriptionTx) Rollback() error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback().Error
}

func findSubscription(db *gorm.DB, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := db.Where("stripe_subscription_id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}
