package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SubscriptionService/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a webhook audit repository backed by GORM.
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *webhookEventRepository) MarkProcessed(ctx context.Context, event *models.WebhookEvent, processingErr error) error {
	now := time.Now()
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	event.ProcessedAt = &now
	event.ProcessingError = errMsg
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": errMsg,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", event.ID).Updates(updates).Error
}

func (r *webhookEventRepository) ListRecent(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}
