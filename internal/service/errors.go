package service

import (
	"errors"
	"fmt"

	"creditledger/internal/repository"
)

var (
	// ErrInsufficientCredits 余额不足，调用方不得继续调用收费的外部接口
	ErrInsufficientCredits = errors.New("积分不足")
	// ErrInvalidArgument 参数不合法，不会访问存储
	ErrInvalidArgument = errors.New("参数不合法")
	// ErrStorage 存储不可用，本次操作未生效
	ErrStorage = errors.New("积分存储异常")
	// ErrBusy 获取用户锁超时，可稍后重试
	ErrBusy = errors.New("系统繁忙，请稍后重试")
	// ErrAccountNotFound 只在对账等不做懒创建的场景返回
	ErrAccountNotFound = repository.ErrAccountNotFound
)

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// wrapStorageErr 业务错误原样返回，其余一律视为存储错误
func wrapStorageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrBusy),
		errors.Is(err, ErrStorage):
		return err
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	}
}
