package models

import "time"

const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription is the local record of a Stripe subscription. Status is an open
// set: values written by other parts of the application are kept as-is.
type Subscription struct {
	StripeSubscriptionID string    `gorm:"column:stripe_subscription_id;type:varchar(191);primaryKey" json:"id"`
	Status               string    `gorm:"type:varchar(64);default:null" json:"status"`
	CustomerID           string    `gorm:"type:varchar(191);default:'';index" json:"customer_id"`
	PriceID              string    `gorm:"type:varchar(191);default:''" json:"price_id"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
