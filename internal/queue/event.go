package queue

import (
	"context"
	"fmt"
	"time"

	"abada_sales/internal/model"

	"github.com/google/uuid"
)

// EventType 凭证生命周期事件类型。
type EventType string

const (
	EventOrderCreated    EventType = "order.created"
	EventOrderPaid       EventType = "order.paid"
	EventOrderCancelled  EventType = "order.cancelled"
	EventOrderRefunded   EventType = "order.refunded"
	EventDelivered       EventType = "entitlement.delivered"
	EventRedeemed        EventType = "entitlement.redeemed"
	EventCourtesyGranted EventType = "courtesy.granted"
)

// EntitlementEvent 是写入 outbox / Kafka 的生命周期事件。
type EntitlementEvent struct {
	EventID       string                `json:"event_id"`
	Type          EventType             `json:"type"`
	Kind          model.EntitlementKind `json:"kind"`
	EntitlementID string                `json:"entitlement_id"`
	Status        string                `json:"status"`
	PaymentStatus string                `json:"payment_status,omitempty"`
	Actor         string                `json:"actor,omitempty"`
	Units         int                   `json:"units,omitempty"` // 本次发放的件数
	OccurredAt    time.Time             `json:"occurred_at"`
}

// NewEvent 以凭证当前状态构造事件，event_id 用于下游去重。
func NewEvent(t EventType, e model.Entitlement, actor string, at time.Time) EntitlementEvent {
	evt := EntitlementEvent{
		EventID:       uuid.New().String(),
		Type:          t,
		Kind:          e.Kind(),
		EntitlementID: e.EntitlementID(),
		Status:        e.CurrentStatus(),
		Actor:         actor,
		OccurredAt:    at.UTC(),
	}
	if o, ok := e.(*model.Order); ok {
		evt.PaymentStatus = string(o.PaymentStatus)
	}
	return evt
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e EntitlementEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.Kind != model.KindOrder && e.Kind != model.KindCourtesy {
		return fmt.Errorf("invalid kind %q", e.Kind)
	}
	if e.EntitlementID == "" {
		return fmt.Errorf("entitlement_id is required")
	}
	if e.Units < 0 {
		return fmt.Errorf("units must be >= 0")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// Publisher 事件发布能力。业务侧只在事务提交后发布，失败只记日志。
type Publisher interface {
	Publish(ctx context.Context, evt EntitlementEvent) error
}

// NopPublisher 未启用事件总线时使用。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, EntitlementEvent) error { return nil }
