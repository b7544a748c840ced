// Package limiter caps how often confirmation and reset tokens can be issued
// for one account.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rpiotaix/userbundle/internal/models"
)

const keyPrefix = "throttle:"

var ErrThrottleUnavailable = errors.New("throttle store unavailable")

// Throttle decides whether another request for key may proceed
type Throttle interface {
	Allow(ctx context.Context, key string) error
}

// RedisThrottle is a fixed-window counter: the first hit in a window sets the
// expiry, every hit beyond Limit is refused until the key expires. The
// increment and the expiry run in one MULTI/EXEC so a counter is never left
// without a TTL.
type RedisThrottle struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRedisThrottle(client *redis.Client, limit int, window time.Duration) *RedisThrottle {
	return &RedisThrottle{redis: client, limit: limit, window: window}
}

// Allow returns models.ErrRateLimited once the window is used up
func (t *RedisThrottle) Allow(ctx context.Context, key string) error {
	key = keyPrefix + key

	var incr *redis.IntCmd
	_, err := t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, t.window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrThrottleUnavailable, err)
	}

	count := incr.Val()
	if count > int64(t.limit) {
		return models.ErrRateLimited
	}

	return nil
}

// Noop never refuses; used when no redis is configured
type Noop struct{}

func (Noop) Allow(context.Context, string) error { return nil }

// Key builds the throttle key for one purpose and one account
func Key(purpose, accountID string) string {
	return purpose + ":" + accountID
}
