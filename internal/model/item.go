package model

import (
	"fmt"
	"strings"
	"time"
)

// ItemType 明细类型：带尺码的 abadá 主凭证，或不带尺码的附加品。
type ItemType string

const (
	ItemPrimary ItemType = "PRIMARY_CREDENTIAL"
	ItemAddOn   ItemType = "ADD_ON"
)

// Item 订单/赠票明细，两种凭证共用一张表，用 owner_kind + owner_id 区分归属。
// 不变量：0 <= Delivered <= Quantity，Quantity 创建后不可变。
type Item struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OwnerKind EntitlementKind `gorm:"size:16;not null;index:idx_item_owner,priority:1" json:"-"`
	OwnerID   string          `gorm:"size:36;not null;index:idx_item_owner,priority:2" json:"-"`

	Type      ItemType `gorm:"size:32;not null" json:"type"`
	Size      string   `gorm:"size:8" json:"size,omitempty"`
	Quantity  int      `gorm:"not null" json:"quantity"`
	Delivered int      `gorm:"not null;default:0;check:chk_items_delivered,delivered >= 0 AND delivered <= quantity" json:"delivered"`
	UnitPrice int64    `gorm:"not null;default:0" json:"unit_price"` // 下单时从批次价格冻结，单位：分

	LastDeliveredAt *time.Time `json:"last_delivered_at,omitempty"`
	LastDeliveredBy string     `gorm:"size:64" json:"last_delivered_by,omitempty"`
}

func (Item) TableName() string { return "entitlement_items" }

func (it Item) Remaining() int { return it.Quantity - it.Delivered }

func (it Item) Complete() bool { return it.Delivered == it.Quantity }

// Validate 校验创建时的明细：尺码仅主凭证必填，附加品不允许带尺码。
func (it Item) Validate() error {
	switch it.Type {
	case ItemPrimary:
		if it.Size == "" {
			return fmt.Errorf("size is required for %s", ItemPrimary)
		}
	case ItemAddOn:
		if it.Size != "" {
			return fmt.Errorf("size is not allowed for %s", ItemAddOn)
		}
	default:
		return fmt.Errorf("unknown item type %q", it.Type)
	}
	if it.Quantity < 1 {
		return fmt.Errorf("quantity must be > 0")
	}
	if it.Delivered != 0 {
		return fmt.Errorf("delivered must start at 0")
	}
	return nil
}

// ItemRequest 创建订单或赠票时的明细输入。
type ItemRequest struct {
	Type     ItemType `json:"type" binding:"required"`
	Size     string   `json:"size"`
	Quantity int      `json:"quantity"`
}

// BuildItems 校验并转换明细：至少一行，同一尺码的主凭证只能出现一行。
func BuildItems(reqs []ItemRequest) ([]Item, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("at least one item is required")
	}
	seen := make(map[string]bool)
	items := make([]Item, 0, len(reqs))
	for i, r := range reqs {
		it := Item{
			Type:     ItemType(strings.ToUpper(strings.TrimSpace(string(r.Type)))),
			Size:     strings.ToUpper(strings.TrimSpace(r.Size)),
			Quantity: r.Quantity,
		}
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if it.Type == ItemPrimary {
			if seen[it.Size] {
				return nil, fmt.Errorf("item %d: size %s listed twice", i, it.Size)
			}
			seen[it.Size] = true
		}
		items = append(items, it)
	}
	return items, nil
}
