package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"github.com/rs/zerolog"
)

// RedisLocker 基于 Redis 的分布式用户锁，多实例部署时使用
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key value NX PX timeout
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - PX: 设置过期时间（持有锁的进程崩溃时自动释放，防止死锁）
//   - value: 随机值，释放时校验，防止误删别人的锁
//
// 释放锁：Lua 脚本先比较 value 再 DEL，保证原子性
//
// 以上逻辑由 redsync 实现
type RedisLocker struct {
	rs            *redsync.Redsync
	expiry        time.Duration
	retryInterval time.Duration
	tries         int
	log           zerolog.Logger
}

func NewRedisLocker(client *redis.Client, expiry, retryInterval time.Duration, tries int, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		rs:            redsync.New(goredis.NewPool(client)),
		expiry:        expiry,
		retryInterval: retryInterval,
		tries:         tries,
		log:           log,
	}
}

func (l *RedisLocker) LockUser(ctx context.Context, userID string) (func(), error) {
	mutex := l.rs.NewMutex(
		userLockKey(userID),
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),
		redsync.WithRetryDelay(l.retryInterval),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: user=%s: %v", ErrLockFailed, userID, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 使用独立的 ctx：请求 ctx 已取消时也要释放锁
			unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if ok, err := mutex.UnlockContext(unlockCtx); err != nil || !ok {
				l.log.Warn().Err(err).Str("user_id", userID).Msg("释放用户锁失败，等待自动过期")
			}
		})
	}, nil
}
