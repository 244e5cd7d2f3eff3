package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// clearScript deletes the key only while it still holds the given order id.
var clearScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis stores entries as active_order:{user_id} with a TTL, so an entry
// left behind by a crashed process eventually disappears.
func NewRedis(client *redis.Client, ttl time.Duration) ActiveOrderGuard {
	return &redisGuard{client: client, ttl: ttl}
}

func key(userID int64) string {
	return fmt.Sprintf("active_order:%d", userID)
}

func (g *redisGuard) Set(ctx context.Context, userID int64, orderID string) error {
	if err := g.client.Set(ctx, key(userID), orderID, g.ttl).Err(); err != nil {
		return fmt.Errorf("guard set %d: %w", userID, err)
	}
	return nil
}

func (g *redisGuard) Clear(ctx context.Context, userID int64, orderID string) error {
	if err := clearScript.Run(ctx, g.client, []string{key(userID)}, orderID).Err(); err != nil {
		return fmt.Errorf("guard clear %d: %w", userID, err)
	}
	return nil
}

func (g *redisGuard) IsSet(ctx context.Context, userID int64) (bool, error) {
	n, err := g.client.Exists(ctx, key(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("guard lookup %d: %w", userID, err)
	}
	return n == 1, nil
}
