package router

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/SubscriptionService/internal/pkg/cache"
	"github.com/ManuelReschke/SubscriptionService/internal/pkg/env"
)

// NewLimiterStorage shares rate limit state between instances through Redis
// database 2. It returns nil when Redis is unreachable so the limiter falls
// back to its in-memory store.
func NewLimiterStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cacheClient.Ping(ctx).Err(); err != nil {
		fiberlog.Warn(fmt.Sprintf("Rate limiter uses in-memory storage, Redis unavailable: %v", err))
		return nil
	}

	addr := cacheClient.Options().Addr
	if h, p, err := net.SplitHostPort(addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	// Prefer password from the underlying client if present
	if p := cacheClient.Options().Password; p != "" {
		password = p
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 2, // cache uses DB 0
		Reset:    false,
	})
}
