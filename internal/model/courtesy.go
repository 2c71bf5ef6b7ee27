package model

import "time"

// CourtesyStatus 赠票只有两个状态，没有支付阶段。
type CourtesyStatus string

const (
	CourtesyActive   CourtesyStatus = "ACTIVE"
	CourtesyRedeemed CourtesyStatus = "REDEEMED"
)

// Courtesy 由工作人员直接发放的赠票，创建时即分配核销 token。
type Courtesy struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Status      CourtesyStatus `gorm:"size:16;not null;default:ACTIVE;index" json:"status"`
	Token       string         `gorm:"size:64;uniqueIndex;not null" json:"token"`
	HolderName  string         `gorm:"size:128;not null" json:"holder_name"`
	HolderPhone string         `gorm:"size:32" json:"holder_phone"`
	GrantedBy   string         `gorm:"size:64;not null" json:"granted_by"`

	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy string     `gorm:"size:64" json:"redeemed_by,omitempty"`

	Items []Item `gorm:"-" json:"items"`
}

func (Courtesy) TableName() string { return "courtesies" }

func (c *Courtesy) Kind() EntitlementKind   { return KindCourtesy }
func (c *Courtesy) EntitlementID() string   { return c.ID }
func (c *Courtesy) CurrentStatus() string   { return string(c.Status) }
func (c *Courtesy) RedemptionToken() string { return c.Token }

func (c *Courtesy) HolderInfo() Holder {
	return Holder{Name: c.HolderName, Phone: c.HolderPhone}
}

func (c *Courtesy) LineItems() []Item          { return c.Items }
func (c *Courtesy) SetLineItems(items []Item) { c.Items = items }

func (c *Courtesy) CanAcceptDelivery() bool { return c.Status == CourtesyActive }

func (c *Courtesy) MarkRedeemed(at time.Time, by string) bool {
	if c.Status != CourtesyActive || !AllDelivered(c.Items) {
		return false
	}
	c.Status = CourtesyRedeemed
	c.RedeemedAt = &at
	c.RedeemedBy = by
	return true
}
