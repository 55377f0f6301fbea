package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// releaseScript deletes the key only while it still holds the caller's handle.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func presenceKey(userID string) string {
	return fmt.Sprintf("presence:user:%s", userID)
}

// PresenceTracker shares presence between instances. It satisfies
// presence.Tracker.
type PresenceTracker struct {
	client *RedisClient
}

func NewPresenceTracker(client *RedisClient) *PresenceTracker {
	return &PresenceTracker{client: client}
}

func (p *PresenceTracker) SetOnline(ctx context.Context, userID, handle string) (string, error) {
	previous, err := p.client.client.GetSet(ctx, presenceKey(userID), handle).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return previous, err
}

func (p *PresenceTracker) SetOffline(ctx context.Context, userID string) error {
	return p.client.client.Del(ctx, presenceKey(userID)).Err()
}

func (p *PresenceTracker) Release(ctx context.Context, userID, handle string) (bool, error) {
	n, err := releaseScript.Run(ctx, p.client.client, []string{presenceKey(userID)}, handle).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PresenceTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p *PresenceTracker) HandleFor(ctx context.Context, userID string) (string, bool, error) {
	handle, err := p.client.client.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return handle, true, nil
}
