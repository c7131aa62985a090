package cache

import (
	"github.com/redis/go-redis/v9"

	"github.com/askdocs/service/internal/config"
)

// NewRedisClient builds a Redis client from configuration. A nil config
// yields a client pointed at an unroutable address, which keeps the Store in
// permanent miss mode instead of panicking.
func NewRedisClient(cfg *config.Config) *redis.Client {
	if cfg == nil {
		return redis.NewClient(&redis.Options{Addr: "localhost:0"})
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
