package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Limiter implements a token bucket rate limiter backed by Redis so buckets
// are shared by every API replica.
type Limiter struct {
	rdb    *redis.Client
	limit  int           // max tokens per window
	window time.Duration // window for limit
	prefix string
	now    func() time.Time
}

// New returns a new Limiter. limit is the maximum number of requests per window.
// prefix namespaces keys in Redis so multiple limiters can coexist.
func New(rdb *redis.Client, limit int, window time.Duration, prefix string) *Limiter {
	if prefix == "" {
		prefix = "rl:"
	} else if !strings.HasPrefix(prefix, "rl:") {
		prefix = "rl:" + prefix
	}
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: prefix, now: time.Now}
}

// Allow consumes a token for the given key if available.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.rdb == nil || l.limit <= 0 {
		return true, nil
	}
	interval := l.window.Milliseconds() / int64(l.limit)
	if interval < 1 {
		interval = 1
	}
	res, err := l.rdb.Eval(ctx, luaScript, []string{l.prefix + key}, l.limit, interval, l.now().UnixMilli()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// AuthKey buckets authenticated requests by the credential the auth
// middleware stored, falling back to the client IP.
func AuthKey(c *gin.Context) string {
	if v := c.GetString("auth_key"); v != "" {
		return v
	}
	return "ip:" + c.ClientIP()
}

// Middleware returns a Gin middleware that rate limits based on keyFunc.
// Redis failures let the request through.
func (l *Limiter) Middleware(keyFunc func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)
		ok, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Str("key", key).Msg("rate limit check failed")
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
			return
		}
		c.Next()
	}
}

// luaScript implements a token bucket in Redis. It stores the remaining tokens
// and last refill timestamp in a hash per key.
const luaScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local interval = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
else
  local add = math.floor((now - ts) / interval)
  if add > 0 then
    tokens = math.min(tokens + add, capacity)
    ts = ts + add * interval
  end
end
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HMSET', key, 'tokens', tokens, 'ts', ts)
redis.call('PEXPIRE', key, interval * capacity)
return allowed
`
