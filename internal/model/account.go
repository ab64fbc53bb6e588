package model

import (
	"time"
)

// CreditAccount 用户积分账户表
// credits 是流水的缓存投影：任何时刻 credits 都等于该用户全部流水 amount 之和
type CreditAccount struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`                       // 认证系统中的用户ID
	Credits     int64     `gorm:"not null;default:0;check:chk_credit_account_credits,credits >= 0" json:"credits"` // 可用积分，不允许为负
	UsedCredits int64     `gorm:"not null;default:0" json:"used_credits"`                                     // 累计消耗（只增不减）
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CreditAccount) TableName() string {
	return "credit_account"
}
