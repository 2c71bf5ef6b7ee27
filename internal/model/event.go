package model

import (
	"time"

	"gorm.io/datatypes"
)

// EntitlementEventRecord 生命周期事件审计表，EventID 唯一，重复消费直接忽略。
type EntitlementEventRecord struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	CreatedAt     time.Time       `json:"created_at"`
	EventID       string          `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	Type          string          `gorm:"size:64;not null;index" json:"type"`
	Kind          EntitlementKind `gorm:"size:16;not null" json:"kind"`
	EntitlementID string          `gorm:"size:36;not null;index" json:"entitlement_id"`
	OccurredAt    time.Time       `gorm:"not null" json:"occurred_at"`
	Payload       datatypes.JSON  `json:"payload"`
}

func (EntitlementEventRecord) TableName() string { return "entitlement_events" }
