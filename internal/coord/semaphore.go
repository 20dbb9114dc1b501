package coord

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// 信号量参数
const (
	semaphoreTTL  = 120 * time.Second       // 持有者崩溃后的自动回收时间
	acquirePollMs = 500 * time.Millisecond  // 获取失败后的轮询间隔
)

// SemaphoreLimits 两级并发上限
type SemaphoreLimits struct {
	MaxGlobal  int // 全局并发上限
	PerChannel int // 单渠道并发上限
}

// Semaphore 两级计数信号量：全局计数 + 渠道计数，都带 TTL 防止孤儿占位。
type Semaphore struct {
	rdb *redis.Client
}

// NewSemaphore 创建信号量
func NewSemaphore(rdb *redis.Client) *Semaphore {
	return &Semaphore{rdb: rdb}
}

// releaseScript 原子释放两级计数。任一计数递减后 ≤0 时直接删键：
// 队列被强制清空后残留的正计数不能阻塞后续获取；计数被竞争减到负数时，
// 删键等于归零，恢复正确状态。
var releaseScript = redis.NewScript(`
local g = redis.call('DECR', KEYS[1])
if g <= 0 then
	redis.call('DEL', KEYS[1])
end
local c = redis.call('DECR', KEYS[2])
if c <= 0 then
	redis.call('DEL', KEYS[2])
end
return 1
`)

// Acquire 获取全局 + 渠道各一个槽位，拿不到时每 500ms 重试，直到 ctx 取消。
func (s *Semaphore) Acquire(ctx context.Context, channelID string, limits SemaphoreLimits) error {
	globalKey := KeySemaphoreGlobal
	channelKey := KeySemaphoreChan + channelID

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		global, err := s.rdb.Incr(ctx, globalKey).Result()
		if err != nil {
			return err
		}
		if global > int64(limits.MaxGlobal) {
			if err := s.rdb.Decr(ctx, globalKey).Err(); err != nil {
				return err
			}
			if err := sleepCtx(ctx, acquirePollMs); err != nil {
				return err
			}
			continue
		}
		if err := s.rdb.Expire(ctx, globalKey, semaphoreTTL).Err(); err != nil {
			return err
		}

		channel, err := s.rdb.Incr(ctx, channelKey).Result()
		if err != nil {
			return err
		}
		if channel > int64(limits.PerChannel) {
			// 回退渠道和全局计数后重试
			if err := s.rdb.Decr(ctx, channelKey).Err(); err != nil {
				return err
			}
			if err := s.rdb.Decr(ctx, globalKey).Err(); err != nil {
				return err
			}
			if err := sleepCtx(ctx, acquirePollMs); err != nil {
				return err
			}
			continue
		}
		if err := s.rdb.Expire(ctx, channelKey, semaphoreTTL).Err(); err != nil {
			return err
		}
		return nil
	}
}

// Release 释放槽位。信号量操作出错必须上抛，否则会泄漏槽位。
func (s *Semaphore) Release(ctx context.Context, channelID string) error {
	return releaseScript.Run(ctx, s.rdb,
		[]string{KeySemaphoreGlobal, KeySemaphoreChan + channelID}).Err()
}

// GlobalCount 当前全局持有数（测试与快照用）
func (s *Semaphore) GlobalCount(ctx context.Context) int64 {
	n, _ := s.rdb.Get(ctx, KeySemaphoreGlobal).Int64()
	return n
}

// ChannelCount 当前渠道持有数
func (s *Semaphore) ChannelCount(ctx context.Context, channelID string) int64 {
	n, _ := s.rdb.Get(ctx, KeySemaphoreChan+channelID).Int64()
	return n
}

// sleepCtx 可取消的睡眠
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
