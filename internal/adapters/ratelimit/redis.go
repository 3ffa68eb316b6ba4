// Package ratelimit bounds verification attempts with a Redis fixed window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// Atomic INCR with PEXPIRE on the first hit. Returns {count, ttl_ms}.
const fixedWindowScript = `
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {c, ttl}
`

// FixedWindowLimiter allows at most limit attempts per key per window.
// A nil client or a non-positive limit allows everything.
type FixedWindowLimiter struct {
	rdb    goredis.Scripter
	limit  int
	window time.Duration
	script *goredis.Script
}

func NewFixedWindowLimiter(rdb goredis.Scripter, limit int, window time.Duration) *FixedWindowLimiter {
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &FixedWindowLimiter{
		rdb:    rdb,
		limit:  limit,
		window: window,
		script: goredis.NewScript(fixedWindowScript),
	}
}

// Allow counts one attempt for key and reports whether it is within the limit.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if l == nil || l.rdb == nil || l.limit <= 0 {
		return true, nil
	}

	ttlms := l.window.Milliseconds()
	if ttlms <= 0 {
		ttlms = 60000
	}
	res, err := l.script.Run(ctx, l.rdb, []string{keyPrefix + key}, ttlms).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit redis eval: %w", err)
	}
	arr, ok := res.([]any)
	if !ok || len(arr) != 2 {
		return false, fmt.Errorf("ratelimit redis eval: unexpected result type %T", res)
	}
	count, ok := arr[0].(int64)
	if !ok {
		return false, fmt.Errorf("ratelimit redis eval: unexpected count type %T", arr[0])
	}
	return count <= int64(l.limit), nil
}
