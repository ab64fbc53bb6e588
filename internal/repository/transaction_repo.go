package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.CreditTransaction) error {
	return r.conn(tx).WithContext(ctx).Create(trans).Error
}

// GetByRequestID 按用户与幂等键查询，不存在时返回 nil, nil
func (r *TransactionRepository) GetByRequestID(ctx context.Context, tx *gorm.DB, userID, requestID string) (*model.CreditTransaction, error) {
	var trans model.CreditTransaction
	err := r.conn(tx).WithContext(ctx).Where("user_id = ? AND request_id = ?", userID, requestID).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// ListByUserID 分页查询用户流水，page 从 0 开始，按时间倒序
// created_at 相同时按 id 倒序，保证翻页结果稳定
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string, page, pageSize int) ([]*model.CreditTransaction, int64, error) {
	var transactions []*model.CreditTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.CreditTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset(page * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumByUserID 返回用户流水金额之和与条数
func (r *TransactionRepository) SumByUserID(ctx context.Context, tx *gorm.DB, userID string) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := r.conn(tx).WithContext(ctx).
		Model(&model.CreditTransaction{}).
		Select("COALESCE(SUM(amount), 0) AS total, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Scan(&row).Error
	return row.Total, row.Count, err
}
