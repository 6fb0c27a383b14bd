package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/scribesnap/clog"
	"github.com/ceyewan/scribesnap/xerrors"
)

// slidingWindowScript 基于有序集合的滑动窗口
//
// KEYS[1]: 限流 key
// ARGV[1]: 窗口长度（毫秒）
// ARGV[2]: 窗口内允许的请求数
// ARGV[3]: 本次请求的唯一成员
//
// 返回 {allowed, remaining, retry_after_ms}
const slidingWindowScript = `
local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local window = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
  local earliest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local wait = tonumber(earliest[2]) + window - now
  return {0, 0, wait}
end

redis.call('ZADD', KEYS[1], now, ARGV[3])
redis.call('PEXPIRE', KEYS[1], window)
return {1, limit - count - 1, 0}
`

// redisLimiter 多实例共享的滑动窗口限流器，过期 key 由 PEXPIRE 回收
type redisLimiter struct {
	client  *redis.Client
	prefix  string
	limit   int
	window  time.Duration
	script  *redis.Script
	logger  clog.Logger
	metrics *limiterMetrics
}

func newRedisLimiter(cfg *Config, o *options) (*redisLimiter, error) {
	if o.redisConn == nil {
		return nil, ErrConnectorNil
	}
	return &redisLimiter{
		client:  o.redisConn.GetClient(),
		prefix:  cfg.Prefix,
		limit:   cfg.Limit,
		window:  cfg.Window,
		script:  redis.NewScript(slidingWindowScript),
		logger:  o.logger,
		metrics: newLimiterMetrics(o.meter, DriverRedis),
	}, nil
}

func (l *redisLimiter) Admit(ctx context.Context, key string) (Decision, error) {
	if key == "" {
		return Decision{}, ErrKeyEmpty
	}

	res, err := l.script.Run(ctx, l.client, []string{l.prefix + key},
		l.window.Milliseconds(), l.limit, uuid.NewString()).Int64Slice()
	if err != nil {
		l.metrics.backendError(ctx)
		l.logger.ErrorContext(ctx, "failed to run sliding window script",
			clog.String("key", key),
			clog.Error(err))
		return Decision{}, xerrors.Wrapf(ErrBackend, "redis: %v", err)
	}
	if len(res) != 3 {
		l.metrics.backendError(ctx)
		return Decision{}, xerrors.Wrapf(ErrBackend, "unexpected script result length %d", len(res))
	}

	d := Decision{Allowed: res[0] == 1, Limit: l.limit, Remaining: int(res[1])}
	if !d.Allowed {
		d.RetryAfter = retryAfter(time.Duration(res[2]) * time.Millisecond)
	}
	l.metrics.decision(ctx, d.Allowed)
	return d, nil
}

func (l *redisLimiter) Close() error {
	return nil
}
