package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// luaReleaseClaimIfMatch 仅当 claim 值匹配时才删除，避免误删后来者的 claim。
const luaReleaseClaimIfMatch = `
local claimKey = KEYS[1]
local claimID = ARGV[1]
if redis.call('GET', claimKey) == claimID then
  return redis.call('DEL', claimKey)
end
return 0
`

// ClaimWebhook 在 ttl 窗口内为一次投递占位。claimed=false 表示同一次投递已被处理过（通道重发）。
func ClaimWebhook(ctx context.Context, rdb *rd.Client, paymentID, deliveryID, claimID string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, WebhookClaimKey(paymentID, deliveryID), claimID, ttl).Result()
}

// ReleaseWebhookIfMatch 处理失败时释放占位，让通道的重试或下一次通知可以重新处理。
func ReleaseWebhookIfMatch(ctx context.Context, rdb *rd.Client, paymentID, deliveryID, claimID string) error {
	_, err := rdb.Eval(ctx, luaReleaseClaimIfMatch, []string{WebhookClaimKey(paymentID, deliveryID)}, claimID).Int()
	return err
}
