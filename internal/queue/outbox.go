package queue

import (
	"context"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// 只保留最近的事件，Relay 正常时积压远小于该值。
const outboxMaxLen = 100000

// StreamOutbox 把事件写入 Redis Stream，由 Relay 异步转发 Kafka，API 请求不直接依赖 Kafka 可用性。
type StreamOutbox struct {
	rdb    *rd.Client
	stream string
}

func NewStreamOutbox(rdb *rd.Client, stream string) *StreamOutbox {
	return &StreamOutbox{rdb: rdb, stream: stream}
}

func (o *StreamOutbox) Publish(ctx context.Context, evt EntitlementEvent) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		MaxLen: outboxMaxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":       evt.EventID,
			"type":           string(evt.Type),
			"kind":           string(evt.Kind),
			"entitlement_id": evt.EntitlementID,
			"status":         evt.Status,
			"payment_status": evt.PaymentStatus,
			"actor":          evt.Actor,
			"units":          strconv.Itoa(evt.Units),
			"occurred_at":    evt.OccurredAt.Format(time.RFC3339Nano),
		},
	}).Err()
}
