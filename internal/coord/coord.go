// Package coord 封装协调存储（Redis）：检测队列、两级信号量、停止标志和进度发布订阅。
// 所有访问都走 Redis 的原子原语（INCR/DECR/EXPIRE/DEL/PUBLISH/SUBSCRIBE），
// 测试用 miniredis 替换真实实例。
package coord

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// 协调存储键名
const (
	KeyStopped         = "detection:stopped"
	KeySemaphoreGlobal = "detection:semaphore:global"
	KeySemaphoreChan   = "detection:semaphore:channel:" // + channelId
	TopicProgress      = "detection:progress"

	queueWaitingKey   = "detection-queue:waiting"
	queueActiveKey    = "detection-queue:active"
	queueCompletedKey = "detection-queue:completed"
	queueFailedKey    = "detection-queue:failed"
)

// Connect 按 REDIS_URL 建立连接并验证可达
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("解析 REDIS_URL 失败: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// Flag 停止标志。置位后工作协程不再发起探测，弹出的任务直接合成失败。
type Flag struct {
	rdb *redis.Client
}

// NewFlag 创建停止标志访问器
func NewFlag(rdb *redis.Client) *Flag {
	return &Flag{rdb: rdb}
}

// Set 置位停止标志
func (f *Flag) Set(ctx context.Context) error {
	return f.rdb.Set(ctx, KeyStopped, "1", 0).Err()
}

// Clear 清除停止标志
func (f *Flag) Clear(ctx context.Context) error {
	return f.rdb.Del(ctx, KeyStopped).Err()
}

// IsSet 查询停止标志是否置位
func (f *Flag) IsSet(ctx context.Context) bool {
	n, err := f.rdb.Exists(ctx, KeyStopped).Result()
	if err != nil {
		// 协调存储异常时宁可继续探测，也不要误判为停止
		return false
	}
	return n > 0
}
