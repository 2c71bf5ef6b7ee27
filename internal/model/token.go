package model

import "time"

// RedemptionToken 全局 token 登记表：主键即 token，保证订单与赠票之间也不会撞号。
type RedemptionToken struct {
	Token         string          `gorm:"primaryKey;size:64" json:"token"`
	Kind          EntitlementKind `gorm:"size:16;not null" json:"kind"`
	EntitlementID string          `gorm:"size:36;not null;index" json:"entitlement_id"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (RedemptionToken) TableName() string { return "redemption_tokens" }
