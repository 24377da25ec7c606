package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/PageForgeHQ/PageForge/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the cache server
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
		log.Printf("Warning: Could not connect to cache: %v", err)
	} else {
		log.Printf("Successfully connected to cache: %s", pong)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

// GetInt retrieves an integer value from the cache by key
func GetInt(key string) (int, error) {
	val, err := GetClient().Get(ctx, key).Int()
	if err != nil {
		return 0, err
	}
	return val, nil
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return GetClient().Del(ctx, key).Err()
}

// Subscription-active flag cache. The flag is a performance optimization only
// and never authoritative: every successful subscription transition must call
// InvalidateSubscriptionActive, and the TTL bounds staleness when an
// invalidation is missed.
const subscriptionActiveTTL = 5 * time.Minute

func subscriptionActiveKey(organizationID uint) string {
	return fmt.Sprintf("billing:sub_active:%d", organizationID)
}

// SetSubscriptionActive caches the subscription-active flag for an organization.
func SetSubscriptionActive(organizationID uint, active bool) error {
	val := "0"
	if active {
		val = "1"
	}
	return Set(subscriptionActiveKey(organizationID), val, subscriptionActiveTTL)
}

// GetSubscriptionActive returns (active, found). A miss means the caller must
// consult the store.
func GetSubscriptionActive(organizationID uint) (bool, bool) {
	val, err := Get(subscriptionActiveKey(organizationID))
	if err != nil {
		return false, false
	}
	return val == "1", true
}

// InvalidateSubscriptionActive drops the cached flag for an organization.
func InvalidateSubscriptionActive(organizationID uint) error {
	return Delete(subscriptionActiveKey(organizationID))
}
