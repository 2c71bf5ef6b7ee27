// Package payment 把支付通道的结论落到订单上：主动同步与 webhook 共用一条对账路径。
package payment

import (
	"context"
	"time"
)

// Payment 支付通道返回的一笔支付，只保留对账需要的字段。
type Payment struct {
	ID                string
	Status            string
	StatusDetail      string
	ExternalReference string
	Amount            float64
	DateCreated       time.Time
}

type PreferenceItem struct {
	Title     string
	Quantity  int
	UnitPrice int64 // 单位：分
}

type PreferenceRequest struct {
	ExternalReference string
	Items             []PreferenceItem
	PayerName         string
	PayerEmail        string
	NotificationURL   string
	BackURL           string
}

type Preference struct {
	ID        string
	InitPoint string
}

// Processor 支付通道。所有方法都是阻塞网络调用，必须响应 ctx 取消。
type Processor interface {
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
	// LatestPaymentByReference 按 external_reference 查最近一笔支付；还没有支付时返回 nil, nil。
	LatestPaymentByReference(ctx context.Context, externalReference string) (*Payment, error)
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
}
