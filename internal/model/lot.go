package model

import "time"

// Lot 价格批次，只读输入：下单时冻结单价。
type Lot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name         string    `gorm:"size:64;uniqueIndex;not null" json:"name" yaml:"name"`
	PrimaryPrice int64     `gorm:"not null" json:"primary_price" yaml:"primary_price"` // 单位：分
	AddOnPrice   int64     `gorm:"not null" json:"add_on_price" yaml:"add_on_price"`
	StartsAt     time.Time `gorm:"not null" json:"starts_at" yaml:"starts_at"`
	EndsAt       time.Time `gorm:"not null" json:"ends_at" yaml:"ends_at"`
	Active       bool      `gorm:"not null;default:true" json:"active" yaml:"active"`
}

func (Lot) TableName() string { return "lots" }

// PriceFor 返回某类明细在该批次下的单价。
func (l Lot) PriceFor(t ItemType) int64 {
	if t == ItemPrimary {
		return l.PrimaryPrice
	}
	return l.AddOnPrice
}

// OpenAt 批次在 now 时刻是否可售。
func (l Lot) OpenAt(now time.Time) bool {
	return l.Active && !now.Before(l.StartsAt) && now.Before(l.EndsAt)
}
