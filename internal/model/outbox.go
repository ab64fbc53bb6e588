package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 积分事件类型
const (
	EventCreditsGranted  = "credits.granted"
	EventCreditsDeducted = "credits.deducted"
	EventCreditsRefunded = "credits.refunded"
	EventCreditsPurchase = "credits.purchased"
)

type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// CreditEvent 写入 outbox 的积分变动事件
type CreditEvent struct {
	Event         string    `json:"event"`
	TransactionNo string    `json:"transaction_no"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	ServiceType   string    `json:"service_type"`
	BalanceAfter  int64     `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}
