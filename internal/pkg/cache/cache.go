package cache

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/LinkFox/internal/pkg/config"
)

var client *redis.Client

// SetupCache initializes the shared redis client. A failed ping is only
// logged; callers treat the cache as optional.
func SetupCache(cfg config.CacheConfig) *redis.Client {
	client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if pong, err := client.Ping(ctx).Result(); err != nil {
		log.Warnf("[Cache] could not connect to %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("[Cache] connected to %s: %s", cfg.Addr(), pong)
	}
	return client
}

// GetClient returns the redis client set up by SetupCache, or nil.
func GetClient() *redis.Client {
	return client
}

const customerKeyPrefix = "billing:customer:"

// CustomerIDCache maps normalized emails to gateway customer ids.
type CustomerIDCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCustomerIDCache(rdb *redis.Client, ttl time.Duration) *CustomerIDCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CustomerIDCache{rdb: rdb, ttl: ttl}
}

// GetCustomerID returns "" without error on a cache miss.
func (c *CustomerIDCache) GetCustomerID(ctx context.Context, email string) (string, error) {
	id, err := c.rdb.Get(ctx, customerKeyPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (c *CustomerIDCache) SetCustomerID(ctx context.Context, email, customerID string) error {
	return c.rdb.Set(ctx, customerKeyPrefix+email, customerID, c.ttl).Err()
}
