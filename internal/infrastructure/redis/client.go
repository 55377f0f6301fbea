package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient is shared by the presence tracker and the broadcast relay.
type RedisClient struct {
	client *redis.Client
}

func NewRedisClient(host, port, password string) *RedisClient {
	return newClient(&redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: password,
	})
}

// NewRedisClientFromAddr is used by tests pointing at an in-process server.
func NewRedisClientFromAddr(addr string) *RedisClient {
	return newClient(&redis.Options{Addr: addr})
}

func newClient(opts *redis.Options) *RedisClient {
	// Presence lookups sit on the send path; fail fast instead of stalling it.
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = time.Second
	opts.WriteTimeout = time.Second
	return &RedisClient{client: redis.NewClient(opts)}
}

func (r *RedisClient) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
