package model

import "time"

// EntitlementKind 区分两种可核销凭证：付费订单与赠票。
type EntitlementKind string

const (
	KindOrder    EntitlementKind = "order"
	KindCourtesy EntitlementKind = "courtesy"
)

// Holder 持有人信息。赠票没有邮箱。
type Holder struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// Entitlement 是订单与赠票共享的核销契约，核销引擎只依赖这个接口。
type Entitlement interface {
	Kind() EntitlementKind
	EntitlementID() string
	CurrentStatus() string
	RedemptionToken() string
	HolderInfo() Holder
	LineItems() []Item
	SetLineItems(items []Item)
	// CanAcceptDelivery 只有已支付订单 / 有效赠票可以发放实物。
	CanAcceptDelivery() bool
	// MarkRedeemed 全部明细发放完毕时切到终态并记录核销人，返回是否发生了切换。
	MarkRedeemed(at time.Time, by string) bool
}

// AllDelivered 每一行明细 delivered == quantity。
func AllDelivered(items []Item) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.Complete() {
			return false
		}
	}
	return true
}
