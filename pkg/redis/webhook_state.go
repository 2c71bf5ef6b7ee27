package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const (
	WebhookProcessed = "processed"
	WebhookFailed    = "failed"
	WebhookSkipped   = "skipped"
)

// WebhookState 最近一次通知的处理结果，供排查用。
type WebhookState struct {
	PaymentID string
	Outcome   string
	OrderID   string
	Status    string
	Reason    string
}

// GetWebhookState 查询 payment id 最近一次处理结果。found=false 表示 key 不存在或已过期。
func GetWebhookState(ctx context.Context, rdb *rd.Client, paymentID string) (WebhookState, bool, error) {
	m, err := rdb.HGetAll(ctx, WebhookStateKey(paymentID)).Result()
	if err != nil {
		return WebhookState{}, false, err
	}
	if len(m) == 0 {
		return WebhookState{}, false, nil
	}
	return WebhookState{
		PaymentID: paymentID,
		Outcome:   m["outcome"],
		OrderID:   m["order_id"],
		Status:    m["status"],
		Reason:    m["reason"],
	}, true, nil
}

// PutWebhookState 写入处理结果并刷新 TTL。
func PutWebhookState(ctx context.Context, rdb *rd.Client, st WebhookState, ttl time.Duration) error {
	key := WebhookStateKey(st.PaymentID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"payment_id", st.PaymentID,
		"outcome", st.Outcome,
		"order_id", st.OrderID,
		"status", st.Status,
		"reason", st.Reason,
	)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
