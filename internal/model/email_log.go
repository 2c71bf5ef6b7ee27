package model

import "time"

type EmailStatus string

const (
	EmailSent   EmailStatus = "sent"
	EmailFailed EmailStatus = "failed"
)

// EmailLog 记录每次 token 通知邮件的发送结果。
type EmailLog struct {
	ID             uint        `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time   `json:"created_at"`
	OrderID        string      `gorm:"size:36;not null;index" json:"order_id"`
	RecipientEmail string      `gorm:"size:255;not null" json:"recipient_email"`
	Subject        string      `gorm:"size:255" json:"subject"`
	Status         EmailStatus `gorm:"size:16;not null" json:"status"`
	ErrorMessage   string      `gorm:"size:512" json:"error_message,omitempty"`
	Attempts       int         `gorm:"not null;default:1" json:"attempts"`
}

func (EmailLog) TableName() string { return "email_logs" }
