package model

import (
	"time"
)

// ============================================================================
// 业务类型常量
// ============================================================================

const (
	ServiceTypeImageGeneration = "image_generation" // 图片生成
	ServiceTypeImageEditing    = "image_editing"    // 图片编辑
	ServiceTypeArtCard         = "art_card"         // 艺术卡片
	ServiceTypeCoverGenerator  = "cover_generator"  // 封面生成
	ServiceTypeChat            = "chat"             // AI 对话
	ServiceTypePurchase        = "purchase"         // 购买充值
	ServiceTypeRefund          = "refund"           // 退还
	ServiceTypeSystem          = "system"           // 系统发放（新用户初始积分等）
)

// ============================================================================
// 积分流水实体
// ============================================================================

// CreditTransaction 积分流水表
//
// 【重要】流水表设计原则：
// 1. 只追加，不修改，不删除：余额历史展示与对账的唯一依据
// 2. 与余额变更在同一个数据库事务中提交：不存在没有流水的余额变动
// 3. (user_id, request_id) 唯一：网络重试时不会重复扣费，不同用户的幂等键互不影响
type CreditTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"` // 流水号（全局唯一）
	UserID        string    `gorm:"type:varchar(64);index:idx_user_created,priority:1;uniqueIndex:idx_user_request,priority:1;not null" json:"user_id"`
	Amount        int64     `gorm:"not null" json:"amount"` // 正数入账，负数消耗
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	ServiceType   string    `gorm:"type:varchar(32);index;not null" json:"service_type"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`                    // 交易后余额
	RequestID     *string   `gorm:"type:varchar(128);uniqueIndex:idx_user_request,priority:2" json:"request_id"` // 幂等键（带操作类型前缀），可为空
	CreatedAt     time.Time `gorm:"autoCreateTime;index:idx_user_created,priority:2" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transaction"
}
