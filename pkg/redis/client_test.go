package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewFromRaw(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestFixedWindowAllow(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	allowed, count, err := client.FixedWindowAllow(ctx, "login:ip", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
	require.EqualValues(t, 1, count)
	require.Equal(t, time.Minute, mr.TTL("portal:rate_limit:login:ip"))

	mr.FastForward(10 * time.Second)
	allowed, count, err = client.FixedWindowAllow(ctx, "login:ip", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
	require.EqualValues(t, 2, count)
	// later hits in the window must not extend it
	require.Equal(t, 50*time.Second, mr.TTL("portal:rate_limit:login:ip"))

	allowed, _, err = client.FixedWindowAllow(ctx, "login:ip", 2, time.Minute)
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(time.Minute)
	allowed, count, err = client.FixedWindowAllow(ctx, "login:ip", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, allowed)
	require.EqualValues(t, 1, count)
}

func TestFixedWindowRejectsZeroWindow(t *testing.T) {
	client, _ := newTestClient(t)
	_, _, err := client.FixedWindowAllow(context.Background(), "x", 1, 0)
	require.Error(t, err)
}

func TestSessionKeyLifecycle(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	key := client.ClientBindingKey("client-1")
	require.NoError(t, client.Set(ctx, key, "access-1", 10*time.Minute))

	value, err := client.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "access-1", value)
	require.Equal(t, 10*time.Minute, mr.TTL(key))

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	require.ErrorIs(t, err, redis.Nil)
}

func TestSetNXAndIdempotencyKey(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	key := client.IdempotencyKey("evt:processed:provisioner", "evt-1")
	require.Equal(t, "portal:idempotency:evt:processed:provisioner:evt-1", key)

	set, err := client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	require.True(t, set)

	set, err = client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	require.False(t, set)
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	require.ErrorIs(t, client.Ping(context.Background()), errNotConnected)
	_, err := client.Get(context.Background(), "k")
	require.ErrorIs(t, err, errNotConnected)
	require.NoError(t, client.Close())
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	require.Equal(t, "portal:rate_limit:scope", client.RateLimitKey("scope"))
	require.Equal(t, "portal:session:access:abc", client.AccessSessionKey("abc"))
	require.Equal(t, "portal:client:tab-7:session", client.ClientBindingKey("tab-7"))
	require.Equal(t, "portal:client:session", client.ClientBindingKey(" "))
}

func TestOptions(t *testing.T) {
	_, err := Options(config.RedisConfig{})
	require.Error(t, err)

	opts, err := Options(config.RedisConfig{
		URL:         "redis://:secret@cache:6380/3",
		DB:          7,
		PoolSize:    20,
		DialTimeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, "cache:6380", opts.Addr)
	require.Equal(t, "secret", opts.Password)
	require.Equal(t, 3, opts.DB)
	require.Equal(t, 20, opts.PoolSize)
	require.Equal(t, 2*time.Second, opts.DialTimeout)

	opts, err = Options(config.RedisConfig{Address: "localhost:6379", DB: 1, MinIdleConns: 4})
	require.NoError(t, err)
	require.Equal(t, "localhost:6379", opts.Addr)
	require.Equal(t, 1, opts.DB)
	require.Equal(t, 4, opts.MinIdleConns)
}
