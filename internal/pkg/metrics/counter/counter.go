package counter

import (
	"context"
	"strconv"

	"github.com/ManuelReschke/SubscriptionService/internal/pkg/cache"
	"github.com/redis/go-redis/v9"
)

const webhookEventsKey = "stripe:counters:webhook_events"

// WebhookCounter keeps per-event-type delivery counts in a Redis hash.
type WebhookCounter struct {
	rdb redis.Cmdable
	key string
}

// NewWebhookCounter counts into the hash stripe:counters:webhook_events.
func NewWebhookCounter(rdb redis.Cmdable) *WebhookCounter {
	return &WebhookCounter{rdb: rdb, key: webhookEventsKey}
}

// Default returns a counter on the shared cache client.
func Default() *WebhookCounter {
	return NewWebhookCounter(cache.GetClient())
}

// AddWebhookEvent increments the counter for eventType
func (c *WebhookCounter) AddWebhookEvent(ctx context.Context, eventType string) error {
	if eventType == "" {
		eventType = "unknown"
	}
	return c.rdb.HIncrBy(ctx, c.key, eventType, 1).Err()
}

// WebhookEventCounts returns all counters keyed by event type
func (c *WebhookCounter) WebhookEventCounts(ctx context.Context) (map[string]int64, error) {
	data, err := c.rdb.HGetAll(ctx, c.key).Result()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		counts[k] = n
	}
	return counts, nil
}

// Reset drops all counters
func (c *WebhookCounter) Reset(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
