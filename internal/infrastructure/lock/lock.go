package lock

import (
	"context"
	"errors"
)

// ============================================================================
// 用户维度的互斥锁
// ============================================================================
//
// 【为什么需要用户锁？】
//
// 场景：用户同时发起两次图片生成（比如前端重复提交）
//
// 如果没有锁，并且账本是"先查后改"：
//   请求1: 查询余额=15 -> 扣除15 -> 余额=0   OK
//   请求2: 查询余额=15 -> 扣除15 -> 余额=-15 超扣了！
//
// 账本本身已经使用条件更新（credits >= cost）防止超扣，
// 用户锁在此基础上把同一用户的"检查-扣减-记流水"整体串行化，
// 让交易后余额等读出的数据与提交顺序一致。
//
// 【按用户维度加锁】
//   不同用户之间完全并发，同一用户的写操作串行
//
// ============================================================================

var ErrLockFailed = errors.New("获取用户锁失败")

// UserLocker 按用户加锁，返回的 unlock 可以重复调用
type UserLocker interface {
	LockUser(ctx context.Context, userID string) (unlock func(), err error)
}

func userLockKey(userID string) string {
	return "credit:lock:user:" + userID
}
