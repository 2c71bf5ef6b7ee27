package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"abada_sales/internal/model"

	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// EventSink 审计事件落库，重复 event_id 返回 inserted=false。
type EventSink interface {
	SaveEvent(ctx context.Context, rec *model.EntitlementEventRecord) (bool, error)
}

// Consumer 消费生命周期事件并写入 entitlement_events 审计表。
type Consumer struct {
	r    *kafka.Reader
	sink EventSink
}

func NewConsumer(brokers []string, topic, groupID string, sink EventSink) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		sink: sink,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if err := c.handle(ctx, m.Value); err != nil {
			log.WithError(err).WithField("offset", m.Offset).Error("event consumer")
		}
	}
}

// handle 解析并落库一条事件；重复消息（event_id 冲突）视为成功。
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var evt EntitlementEvent
	if err := json.Unmarshal(value, &evt); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	inserted, err := c.sink.SaveEvent(ctx, &model.EntitlementEventRecord{
		EventID:       evt.EventID,
		Type:          string(evt.Type),
		Kind:          evt.Kind,
		EntitlementID: evt.EntitlementID,
		OccurredAt:    evt.OccurredAt,
		Payload:       datatypes.JSON(value),
	})
	if err != nil {
		return err
	}
	if !inserted {
		log.WithField("event_id", evt.EventID).Debug("duplicate event skipped")
	}
	return nil
}
