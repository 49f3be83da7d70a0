package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "pointshub:ratelimit:"

const tokenBucketLua = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])

if rate <= 0 or burst <= 0 then
  return {1, 0, burst}
end

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
end
if ts == nil then
  ts = now
end

local delta = math.max(0, now - ts)
local refill = (delta * rate) / 1000.0
tokens = math.min(burst, tokens + refill)

local allowed = tokens >= requested
local wait_ms = 0
if allowed then
  tokens = tokens - requested
else
  wait_ms = math.ceil((requested - tokens) * 1000.0 / rate)
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, math.ceil((burst / rate) * 1000.0 * 2))

return {allowed and 1 or 0, wait_ms, tokens}
`

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// TokenBucket 基于 Redis 的令牌桶，每个 key 一个桶，多实例共享。
type TokenBucket struct {
	rdb    *redis.Client
	name   string
	rate   float64
	burst  float64
	logger *slog.Logger
	script *redis.Script
}

// NewTokenBucket 创建令牌桶限流器。rate 或 burst 非正时不限流。
func NewTokenBucket(rdb *redis.Client, logger *slog.Logger, name string, rate float64, burst float64) *TokenBucket {
	if name == "" {
		name = "default"
	}
	return &TokenBucket{
		rdb:    rdb,
		name:   name,
		rate:   rate,
		burst:  burst,
		logger: logger,
		script: redis.NewScript(tokenBucketLua),
	}
}

// Allow 尝试取出一个令牌，不阻塞。拒绝时返回建议的等待时间。
func (r *TokenBucket) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		return true, 0, nil
	}

	now := time.Now().UnixMilli()
	res, err := r.script.Run(ctx, r.rdb, []string{r.bucketKey(key)}, r.rate, r.burst, now, 1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit eval: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) < 2 {
		return false, 0, fmt.Errorf("ratelimit invalid result")
	}

	allowed := toInt64(values[0]) == 1
	wait := time.Duration(toInt64(values[1])) * time.Millisecond
	if !allowed && r.logger != nil {
		r.logger.Debug("token bucket exhausted", slog.String("limiter", r.name), slog.String("key", key))
	}
	return allowed, wait, nil
}

func (r *TokenBucket) bucketKey(key string) string {
	return keyPrefix + r.name + ":" + key
}

// Window 在 ttl 内对同一 key 只放行一次（SET NX PX），过期由 Redis 回收。
type Window struct {
	rdb  *redis.Client
	name string
	ttl  time.Duration
}

// NewWindow 创建固定冷却窗口限流器。
func NewWindow(rdb *redis.Client, name string, ttl time.Duration) *Window {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if name == "" {
		name = "window"
	}
	return &Window{rdb: rdb, name: name, ttl: ttl}
}

// Allow 首次调用占用窗口并返回 true；窗口内的后续调用返回 false 及剩余时间。
func (w *Window) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if w == nil || w.rdb == nil {
		return true, 0, nil
	}
	k := keyPrefix + w.name + ":" + key
	ok, err := w.rdb.SetNX(ctx, k, "1", w.ttl).Result()
	if err != nil {
		return false, 0, fmt.Errorf("window setnx: %w", err)
	}
	if ok {
		return true, 0, nil
	}
	remain, err := w.rdb.PTTL(ctx, k).Result()
	if err != nil || remain < 0 {
		remain = w.ttl
	}
	return false, remain, nil
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
