package model

import "time"

// ItemView 明细展示结构，附带剩余数量与是否已全部发放。
type ItemView struct {
	ID            uint     `json:"id"`
	Type          ItemType `json:"type"`
	Size          string   `json:"size,omitempty"`
	Quantity      int      `json:"quantity"`
	Delivered     int      `json:"delivered"`
	Remaining     int      `json:"remaining"`
	FullyRedeemed bool     `json:"fully_redeemed"`
}

// View 核销端看到的凭证视图。
type View struct {
	Kind       EntitlementKind `json:"kind"`
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	Holder     Holder          `json:"holder"`
	Items      []ItemView      `json:"items"`
	RedeemedAt *time.Time      `json:"redeemed_at,omitempty"`
	RedeemedBy string          `json:"redeemed_by,omitempty"`
}

func NewView(e Entitlement) *View {
	v := &View{
		Kind:   e.Kind(),
		ID:     e.EntitlementID(),
		Status: e.CurrentStatus(),
		Holder: e.HolderInfo(),
		Items:  make([]ItemView, 0, len(e.LineItems())),
	}
	for _, it := range e.LineItems() {
		v.Items = append(v.Items, ItemView{
			ID:            it.ID,
			Type:          it.Type,
			Size:          it.Size,
			Quantity:      it.Quantity,
			Delivered:     it.Delivered,
			Remaining:     it.Remaining(),
			FullyRedeemed: it.Complete(),
		})
	}
	switch x := e.(type) {
	case *Order:
		v.RedeemedAt, v.RedeemedBy = x.RedeemedAt, x.RedeemedBy
	case *Courtesy:
		v.RedeemedAt, v.RedeemedBy = x.RedeemedAt, x.RedeemedBy
	}
	return v
}
