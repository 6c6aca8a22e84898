package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lapor-warga/portal-backend/pkg/config"
	"github.com/lapor-warga/portal-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Key layout: portal:<area>:<parts...>. Blank parts are dropped.
const keyNamespace = "portal"

const (
	areaRateLimit   = "rate_limit"
	areaSession     = "session"
	areaClient      = "client"
	areaIdempotency = "idempotency"
)

var errNotConnected = errors.New("redis client not initialized")

// fixedWindow increments the counter and arms its expiry on the first hit of a
// window, in one round trip.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Client is the portal's handle on Redis: session records, client bindings,
// rate-limit counters and provisioning markers.
type Client struct {
	rdb *redis.Client
}

type Pinger interface {
	Ping(context.Context) error
}

// RateLimiter is what the auth rate-limit middleware needs.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// IdempotencyStore is what event consumers need to remember processed ids.
type IdempotencyStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// New dials Redis from config and fails unless PING succeeds.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"redis_addr": opts.Addr,
			"redis_db":   opts.DB,
		}), "redis.connected")
	}
	return &Client{rdb: rdb}, nil
}

// NewFromRaw wraps an already configured go-redis client without pinging it.
func NewFromRaw(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Options turns RedisConfig into go-redis options. A URL wins over the
// discrete address fields; pool and timeout settings fill whatever the URL
// left unset.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	var opts *redis.Options
	switch {
	case cfg.URL != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case cfg.Address != "":
		opts = &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	default:
		return nil, errors.New("redis url or address is required")
	}

	fill(&opts.DB, cfg.DB)
	fill(&opts.PoolSize, cfg.PoolSize)
	fill(&opts.MinIdleConns, cfg.MinIdleConns)
	fill(&opts.DialTimeout, cfg.DialTimeout)
	fill(&opts.ReadTimeout, cfg.ReadTimeout)
	fill(&opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func fill[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

func (c *Client) conn() (*redis.Client, error) {
	if c == nil || c.rdb == nil {
		return nil, errNotConnected
	}
	return c.rdb, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	return rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX stores value only when key is absent and reports whether it won.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, err
	}
	return rdb.SetNX(ctx, key, value, ttl).Result()
}

// Get returns redis.Nil when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	rdb, err := c.conn()
	if err != nil {
		return "", err
	}
	return rdb.Get(ctx, key).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	return rdb.Del(ctx, keys...).Err()
}

// FixedWindowAllow counts a hit against scope and reports whether the count is
// still within limit for the current window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	rdb, err := c.conn()
	if err != nil {
		return false, 0, err
	}
	if window <= 0 {
		return false, 0, fmt.Errorf("rate limit window must be positive")
	}
	count, err := fixedWindow.Run(ctx, rdb, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	return count <= limit, count, nil
}

func (c *Client) Ping(ctx context.Context) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}
	return rdb.Ping(ctx).Err()
}

// Close is a no-op on an unconnected client.
func (c *Client) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Client) RateLimitKey(scope string) string {
	return key(areaRateLimit, scope)
}

// AccessSessionKey addresses the session record for one access id.
func (c *Client) AccessSessionKey(accessID string) string {
	return key(areaSession, "access", accessID)
}

// ClientBindingKey addresses the access id a portal client is signed in with.
func (c *Client) ClientBindingKey(clientID string) string {
	return key(areaClient, clientID, areaSession)
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return key(areaIdempotency, scope, id)
}

func key(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
