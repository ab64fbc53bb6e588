package repository

import (
	"context"
	"errors"

	"creditledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("积分账户不存在")
	ErrCreditsNotEnough = errors.New("积分不足")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// 事务内必须使用 tx；传 nil 时使用普通连接
func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.CreditAccount, error) {
	var account model.CreditAccount
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// CreateIfAbsent 账户不存在时创建，返回本次调用是否真正插入了记录
//
// 【关键点】并发首次查询时，多个请求都会执行 INSERT，
// 依靠 user_id 唯一索引 + ON CONFLICT DO NOTHING，只有一个请求的 RowsAffected 为 1，
// 只有它负责写入"初始积分"流水，保证账户与流水成对出现
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, account *model.CreditAccount) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Deduct 条件扣减
//
// UPDATE credit_account SET credits = credits - ?, used_credits = used_credits + ?
// WHERE user_id = ? AND credits >= ?
//
// 余额检查与扣减是同一条语句，不存在"先查后改"的并发窗口
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	db := r.conn(tx)
	result := db.WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("user_id = ? AND credits >= ?", userID, amount).
		Updates(map[string]interface{}{
			"credits":      gorm.Expr("credits - ?", amount),
			"used_credits": gorm.Expr("used_credits + ?", amount),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, db, userID); err != nil {
			return err
		}
		return ErrCreditsNotEnough
	}

	return nil
}

// Increase 增加可用积分，不影响 used_credits
func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, userID string, amount int64) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.CreditAccount{}).
		Where("user_id = ?", userID).
		Update("credits", gorm.Expr("credits + ?", amount))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// ListAfterID 按主键游标分批读取账户，供对账任务使用
func (r *AccountRepository) ListAfterID(ctx context.Context, afterID int64, limit int) ([]*model.CreditAccount, error) {
	var accounts []*model.CreditAccount
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// GetByUserIDForUpdate 加行锁读取（当前读）
// MySQL 可重复读隔离级别下，普通 SELECT 读快照，看不到并发事务刚提交的账户；
// 事务内写之后的读取必须使用当前读。sqlite 不支持行锁，驱动会忽略该子句
func (r *AccountRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.CreditAccount, error) {
	var account model.CreditAccount
	err := r.conn(tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}
