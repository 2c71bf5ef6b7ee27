package model

import (
	"time"
)

// OrderStatus 订单生命周期：PENDING → PAID → REDEEMED，或 → CANCELLED。
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderRedeemed  OrderStatus = "REDEEMED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// PaymentStatus 支付通道视角下的状态。
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentApproved PaymentStatus = "APPROVED"
	PaymentRejected PaymentStatus = "REJECTED"
	PaymentRefunded PaymentStatus = "REFUNDED"
)

// Order 付费订单。ID 同时作为支付通道的 external_reference。
type Order struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status        OrderStatus   `gorm:"size:16;not null;default:PENDING;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:16;not null;default:PENDING" json:"payment_status"`
	Total         int64         `gorm:"not null" json:"total"` // 单位：分
	LotID         uint          `gorm:"not null;index" json:"lot_id"`

	HolderName  string `gorm:"size:128;not null" json:"holder_name"`
	HolderPhone string `gorm:"size:32" json:"holder_phone"`
	HolderEmail string `gorm:"size:255" json:"holder_email"`

	PreferenceID      string `gorm:"size:128;index" json:"preference_id"`
	PaymentID         string `gorm:"size:64;index" json:"payment_id"`
	ExternalReference string `gorm:"size:64;index" json:"external_reference"`

	// 未支付前为 NULL，唯一索引允许多个 NULL。
	ExchangeToken *string    `gorm:"size:64;uniqueIndex" json:"exchange_token,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	RedeemedAt    *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy    string     `gorm:"size:64" json:"redeemed_by,omitempty"`

	Items []Item `gorm:"-" json:"items"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) Kind() EntitlementKind { return KindOrder }
func (o *Order) EntitlementID() string { return o.ID }
func (o *Order) CurrentStatus() string { return string(o.Status) }

func (o *Order) RedemptionToken() string {
	if o.ExchangeToken == nil {
		return ""
	}
	return *o.ExchangeToken
}

func (o *Order) HolderInfo() Holder {
	return Holder{Name: o.HolderName, Phone: o.HolderPhone, Email: o.HolderEmail}
}

func (o *Order) LineItems() []Item          { return o.Items }
func (o *Order) SetLineItems(items []Item) { o.Items = items }

func (o *Order) CanAcceptDelivery() bool { return o.Status == OrderPaid }

func (o *Order) MarkRedeemed(at time.Time, by string) bool {
	if o.Status != OrderPaid || !AllDelivered(o.Items) {
		return false
	}
	o.Status = OrderRedeemed
	o.RedeemedAt = &at
	o.RedeemedBy = by
	return true
}
