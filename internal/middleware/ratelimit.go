package middleware

import (
	"net/http"
	"strconv"
	"time"

	rds "abada_sales/pkg/redis"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// slidingWindow 有序集合滑动窗口，毫秒精度。
// KEYS[1]=限流 key；ARGV: now(ms), window(ms), limit, member
// 返回 {剩余次数, 最早一条记录离开窗口还需的毫秒数}；剩余 < 0 表示被限流。
var slidingWindow = rd.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  local wait = window
  if oldest[2] then
    wait = tonumber(oldest[2]) + window - now
  end
  return {-1, wait}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {limit - count - 1, 0}
`)

// RedisRateLimit 按 scope + 客户端 IP 限流（token 查询/核销接口防暴力枚举）。
// rdb 为 nil 或 Redis 出错时放行。
func RedisRateLimit(rdb *rd.Client, scope string, limit int, window time.Duration) gin.HandlerFunc {
	windowMs := window.Milliseconds()
	if windowMs < 1 {
		windowMs = 1
	}
	return func(c *gin.Context) {
		if rdb == nil {
			c.Next()
			return
		}
		key := rds.RateLimitKey(scope, c.ClientIP())
		now := time.Now().UnixMilli()

		res, err := slidingWindow.Run(c.Request.Context(), rdb, []string{key},
			now, windowMs, limit, uuid.NewString()).Int64Slice()
		if err != nil || len(res) != 2 {
			log.WithError(err).WithField("scope", scope).Warn("rate limiter unavailable")
			c.Next()
			return
		}

		if res[0] < 0 {
			retry := (res[1] + 999) / 1000
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retry, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "too many requests, try again later",
			})
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res[0], 10))
		c.Next()
	}
}
