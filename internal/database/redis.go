package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients separates blocking queue reads and subscriptions from the
// short request-path commands so neither starves the other's pool.
type RedisClients struct {
	Cache  *redis.Client
	Queue  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(ctx context.Context, redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clients := &RedisClients{}
	targets := []struct {
		name string
		dst  **redis.Client
	}{
		{"cache", &clients.Cache},
		{"queue", &clients.Queue},
		{"pubsub", &clients.PubSub},
	}

	for _, t := range targets {
		o := *opt
		c := redis.NewClient(&o)
		if err := c.Ping(ctx).Err(); err != nil {
			c.Close()
			clients.Close()
			return nil, fmt.Errorf("failed to ping Redis (%s): %w", t.name, err)
		}
		*t.dst = c
	}

	return clients, nil
}

func (r *RedisClients) Close() {
	for _, c := range []*redis.Client{r.Cache, r.Queue, r.PubSub} {
		if c != nil {
			c.Close()
		}
	}
}
