package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"abada_sales/internal/model"

	rd "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Relay 将 Redis Stream 中的事件异步转发到 Kafka。
// 语义：发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb       *rd.Client
	publisher Publisher

	stream   string
	group    string
	consumer string
	block    time.Duration
}

func NewRelay(rdb *rd.Client, publisher Publisher, stream, group, consumer string) *Relay {
	return &Relay{
		rdb:       rdb,
		publisher: publisher,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		block:     2 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) {
	if err := r.ensureGroup(ctx); err != nil {
		log.WithError(err).Error("relay ensure group")
		return
	}

	for ctx.Err() == nil {
		msgs, err := r.next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			log.WithError(err).WithField("stream", r.stream).Warn("relay read")
			time.Sleep(300 * time.Millisecond)
			continue
		}
		for _, xm := range msgs {
			if err := r.processOne(ctx, xm); err != nil {
				// 未 ACK 的消息留在 pending 列表，下一轮 next 会先重放它。
				log.WithError(err).WithField("message_id", xm.ID).Warn("relay process message")
				time.Sleep(200 * time.Millisecond)
				break
			}
		}
	}
}

// next 先取本消费者名下的 pending（上次转发失败的），没有时再阻塞读取新消息。
func (r *Relay) next(ctx context.Context) ([]rd.XMessage, error) {
	msgs, err := r.readGroup(ctx, "0", 0)
	if err != nil || len(msgs) > 0 {
		return msgs, err
	}
	return r.readGroup(ctx, ">", r.block)
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	evt, err := parseEntitlementEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		log.WithError(err).WithField("message_id", xm.ID).Warn("relay drop malformed event")
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, evt); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseEntitlementEvent(values map[string]interface{}) (EntitlementEvent, error) {
	fields := make(map[string]string, 9)
	for _, key := range []string{"event_id", "type", "kind", "entitlement_id", "status", "units", "occurred_at"} {
		v, err := getStreamString(values, key)
		if err != nil {
			return EntitlementEvent{}, err
		}
		fields[key] = v
	}
	// 可选字段
	for _, key := range []string{"payment_status", "actor"} {
		if v, err := getStreamString(values, key); err == nil {
			fields[key] = v
		}
	}

	units, err := strconv.Atoi(fields["units"])
	if err != nil {
		return EntitlementEvent{}, fmt.Errorf("invalid units %q", fields["units"])
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, fields["occurred_at"])
	if err != nil {
		return EntitlementEvent{}, fmt.Errorf("invalid occurred_at %q", fields["occurred_at"])
	}

	evt := EntitlementEvent{
		EventID:       fields["event_id"],
		Type:          EventType(fields["type"]),
		Kind:          model.EntitlementKind(fields["kind"]),
		EntitlementID: fields["entitlement_id"],
		Status:        fields["status"],
		PaymentStatus: fields["payment_status"],
		Actor:         fields["actor"],
		Units:         units,
		OccurredAt:    occurredAt,
	}
	if err := evt.Validate(); err != nil {
		return EntitlementEvent{}, err
	}
	return evt, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
