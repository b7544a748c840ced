package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rpiotaix/userbundle/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisThrottle_FixedWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	throttle := NewRedisThrottle(client, 3, 20*time.Minute)
	ctx := context.Background()
	key := Key("reset", "acc-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, throttle.Allow(ctx, key), "request %d should pass", i+1)
	}
	assert.ErrorIs(t, throttle.Allow(ctx, key), models.ErrRateLimited)

	assert.Equal(t, 20*time.Minute, mr.TTL(keyPrefix+key))

	mr.FastForward(21 * time.Minute)
	assert.NoError(t, throttle.Allow(ctx, key), "window should have reset")
}

func TestRedisThrottle_LaterHitsDoNotExtendWindow(t *testing.T) {
	mr, client := newTestRedis(t)
	throttle := NewRedisThrottle(client, 5, 20*time.Minute)
	ctx := context.Background()
	key := Key("confirm", "acc-1")

	require.NoError(t, throttle.Allow(ctx, key))
	mr.FastForward(5 * time.Minute)
	require.NoError(t, throttle.Allow(ctx, key))

	assert.Equal(t, 15*time.Minute, mr.TTL(keyPrefix+key))
}

func TestRedisThrottle_RepairsCounterWithoutTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	throttle := NewRedisThrottle(client, 5, time.Minute)
	key := Key("reset", "acc-1")
	require.NoError(t, mr.Set(keyPrefix+key, "2"))

	require.NoError(t, throttle.Allow(context.Background(), key))

	assert.Equal(t, time.Minute, mr.TTL(keyPrefix+key))
	got, err := mr.Get(keyPrefix + key)
	require.NoError(t, err)
	assert.Equal(t, "3", got)
}

func TestRedisThrottle_KeysAreIndependent(t *testing.T) {
	_, client := newTestRedis(t)
	throttle := NewRedisThrottle(client, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, throttle.Allow(ctx, Key("reset", "a")))
	assert.ErrorIs(t, throttle.Allow(ctx, Key("reset", "a")), models.ErrRateLimited)

	assert.NoError(t, throttle.Allow(ctx, Key("reset", "b")))
	assert.NoError(t, throttle.Allow(ctx, Key("confirm", "a")))
}

func TestRedisThrottle_Unavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	throttle := NewRedisThrottle(client, 3, time.Minute)
	mr.Close()

	err := throttle.Allow(context.Background(), Key("reset", "a"))

	assert.ErrorIs(t, err, ErrThrottleUnavailable)
	assert.NotErrorIs(t, err, models.ErrRateLimited)
}

func TestNoop(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.NoError(t, Noop{}.Allow(context.Background(), "k"))
	}
}
