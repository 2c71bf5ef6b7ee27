package payment

import (
	"strings"

	"abada_sales/internal/model"
)

// Mapping 支付通道状态映射后的结果；Status 为空表示订单状态不变。
type Mapping struct {
	Status        model.OrderStatus
	PaymentStatus model.PaymentStatus
}

// MapStatus 是支付状态映射的唯一来源，主动同步与 webhook 都经过这里。
func MapStatus(processorStatus string) Mapping {
	switch strings.ToLower(strings.TrimSpace(processorStatus)) {
	case "approved":
		return Mapping{Status: model.OrderPaid, PaymentStatus: model.PaymentApproved}
	case "rejected", "cancelled":
		return Mapping{Status: model.OrderCancelled, PaymentStatus: model.PaymentRejected}
	case "refunded":
		return Mapping{PaymentStatus: model.PaymentRefunded}
	default:
		return Mapping{PaymentStatus: model.PaymentPending}
	}
}

// Apply 计算订单的下一个状态。
// 已 PAID / REDEEMED 的订单只接受 refunded；迟到的 pending / rejected 不会把它降级。
func (m Mapping) Apply(status model.OrderStatus, ps model.PaymentStatus) (model.OrderStatus, model.PaymentStatus) {
	if m.Stale(status) {
		return status, ps
	}
	switch {
	case m.Status == "":
		return status, m.PaymentStatus
	case m.Status == model.OrderPaid && status == model.OrderRedeemed:
		return status, m.PaymentStatus
	default:
		return m.Status, m.PaymentStatus
	}
}

// Stale 对已结清的订单来说，除 approved / refunded 外的结论都视为过期。
func (m Mapping) Stale(status model.OrderStatus) bool {
	settled := status == model.OrderPaid || status == model.OrderRedeemed
	return settled && m.PaymentStatus != model.PaymentRefunded && m.PaymentStatus != model.PaymentApproved
}
