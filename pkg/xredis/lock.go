package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// 释放锁必须校验持有者，不能把别人的锁删掉
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// RefLock 基于 SetNX 的单笔串行锁
// 同一个链上交易 (externalRef) 的对账、同一高度的扫块，同一时刻只允许一个节点处理
type RefLock struct {
	rdb *redis.Client
	id  string // 当前节点的唯一ID
}

func NewRefLock(rdb *redis.Client) *RefLock {
	id := fmt.Sprintf("%s-%d", uuid.New().String(), time.Now().Nanosecond())
	return &RefLock{
		rdb: rdb,
		id:  id,
	}
}

// TryAcquire 抢锁。带过期时间，节点挂了锁会自动释放
func (r *RefLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, r.id, ttl).Result()
}

// Release 只释放自己持有的锁 (Lua 保证 GET+DEL 原子)
func (r *RefLock) Release(ctx context.Context, key string) error {
	return r.rdb.Eval(ctx, releaseScript, []string{key}, r.id).Err()
}

// DepositLockKey 充值对账锁 Key
// 例: custody:lock:deposit:BTC:<txid>
func DepositLockKey(currency, externalRef string) string {
	return fmt.Sprintf("custody:lock:deposit:%s:%s", currency, externalRef)
}

// SweepLockKey 归集锁 Key，同一个地址同一时刻只归集一次
func SweepLockKey(currency, address string) string {
	return fmt.Sprintf("custody:lock:sweep:%s:%s", currency, address)
}
