package cache

import (
	"context"
	"fmt"

	"github.com/ManuelReschke/SubscriptionService/internal/pkg/env"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0, // use default DB
	})

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		fiberlog.Warn(fmt.Sprintf("Could not connect to Redis cache: %v", err))
	} else {
		fiberlog.Info(fmt.Sprintf("Successfully connected to Redis cache: %s", pong))
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// SetClient replaces the shared client (tests, alternative wiring).
func SetClient(c *redis.Client) {
	client = c
}
