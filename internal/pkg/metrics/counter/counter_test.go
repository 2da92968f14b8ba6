package counter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ManuelReschke/SubscriptionService/internal/pkg/cache"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/env"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCounter(t *testing.T) *WebhookCounter {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
	})
	t.Cleanup(func() { _ = rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping test that requires Redis connection: %v", err)
	}

	cache.SetClient(rdb)
	t.Cleanup(func() { cache.SetClient(nil) })

	c := Default()
	c.key = fmt.Sprintf("%s:test:%d", webhookEventsKey, time.Now().UnixNano())
	t.Cleanup(func() { _ = c.Reset(context.Background()) })
	return c
}

func TestWebhookCounter_CountsPerType(t *testing.T) {
	c := newTestCounter(t)
	ctx := context.Background()

	require.NoError(t, c.AddWebhookEvent(ctx, "invoice.payment_succeeded"))
	require.NoError(t, c.AddWebhookEvent(ctx, "invoice.payment_succeeded"))
	require.NoError(t, c.AddWebhookEvent(ctx, "customer.subscription.deleted"))
	require.NoError(t, c.AddWebhookEvent(ctx, ""))

	counts, err := c.WebhookEventCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"invoice.payment_succeeded":     2,
		"customer.subscription.deleted": 1,
		"unknown":                       1,
	}, counts)

	require.NoError(t, c.Reset(ctx))
	counts, err = c.WebhookEventCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}
