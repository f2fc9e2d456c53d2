package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spigell/shortlister/internal/utils"
)

// Returns {1, 0} when the call is admitted, otherwise {0, pttl of the window}.
const windowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return {0, redis.call("PTTL", KEYS[1])}
end
return {1, 0}
`

const (
	minBackoff   = 10 * time.Millisecond
	redisTimeout = 250 * time.Millisecond
)

var wait = utils.WaitFor

// Redis is a fixed-window limiter shared by every process using the same key.
// Redis errors admit the call so a broken cache never stalls a batch.
type Redis struct {
	client redis.Scripter
	key    string
	limit  int
	window time.Duration
	script *redis.Script
	logger *zap.Logger
}

func NewRedis(client redis.Scripter, key string, limit int, window time.Duration, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		key:    key,
		limit:  limit,
		window: window,
		script: redis.NewScript(windowScript),
		logger: logger,
	}
}

func (l *Redis) Wait(ctx context.Context) error {
	if l == nil || l.client == nil || l.limit <= 0 || l.window <= 0 {
		return ctx.Err()
	}

	ttl := l.window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, redisTimeout)
		res, err := l.script.Run(callCtx, l.client, []string{l.key}, ttl, l.limit).Int64Slice()
		cancel()
		if err != nil {
			l.logger.Warn("rate limiter unavailable, admitting call", zap.String("key", l.key), zap.Error(err))
			return nil
		}

		if len(res) > 0 && res[0] == 1 {
			return nil
		}

		backoff := minBackoff
		if len(res) > 1 && time.Duration(res[1])*time.Millisecond > backoff {
			backoff = time.Duration(res[1]) * time.Millisecond
		}
		l.logger.Debug("rate limit reached, waiting", zap.String("key", l.key), zap.Duration("wait", backoff))

		if err := wait(ctx, backoff); err != nil {
			return err
		}
	}
}
