package detect

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BenedictKing/model-radar/internal/coord"
)

// ProgressEvent 单次探测完成后发布的进度事件
type ProgressEvent struct {
	ChannelID       string `json:"channelId"`
	ModelID         string `json:"modelId"`
	ModelName       string `json:"modelName"`
	EndpointType    string `json:"endpointType"`
	Status          string `json:"status"`
	Latency         int64  `json:"latency"`
	Timestamp       int64  `json:"timestamp"`
	IsModelComplete bool   `json:"isModelComplete"`
}

// Snapshot 检测进度快照（轮询端点返回）
type Snapshot struct {
	Waiting         int64    `json:"waiting"`
	Active          int64    `json:"active"`
	Completed       int64    `json:"completed"`
	Failed          int64    `json:"failed"`
	IsRunning       bool     `json:"isRunning"`
	Progress        int      `json:"progress"`
	TestingModelIDs []string `json:"testingModelIds"`
}

// ProgressBus 进度总线：向 Redis 发布进度事件、计算进度快照。
type ProgressBus struct {
	rdb   *redis.Client
	queue *coord.Queue
}

// NewProgressBus 创建进度总线
func NewProgressBus(rdb *redis.Client, queue *coord.Queue) *ProgressBus {
	return &ProgressBus{rdb: rdb, queue: queue}
}

// Publish 发布进度事件。发布失败只记日志，绝不影响任务本身。
func (b *ProgressBus) Publish(ctx context.Context, event *ProgressEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[Progress-Publish] 序列化进度事件失败: %v", err)
		return
	}
	if err := b.rdb.Publish(ctx, coord.TopicProgress, data).Err(); err != nil {
		log.Printf("[Progress-Publish] 发布进度事件失败: %v", err)
	}
}

// Subscribe 订阅进度主题，返回原始 JSON 消息通道。调用方负责 Close。
func (b *ProgressBus) Subscribe(ctx context.Context) *redis.PubSub {
	return b.rdb.Subscribe(ctx, coord.TopicProgress)
}

// Snapshot 计算进度快照。
// progress = round(100·(completed+failed)/(total+completed+failed))，无任务时为 0。
func (b *ProgressBus) Snapshot(ctx context.Context) (*Snapshot, error) {
	stats, err := b.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	testing, err := b.queue.TestingModelIDs(ctx, "")
	if err != nil {
		return nil, err
	}
	if testing == nil {
		testing = []string{}
	}

	snap := &Snapshot{
		Waiting:         stats.Waiting,
		Active:          stats.Active,
		Completed:       stats.Completed,
		Failed:          stats.Failed,
		IsRunning:       stats.Waiting > 0 || stats.Active > 0,
		TestingModelIDs: testing,
	}
	done := stats.Completed + stats.Failed
	denom := stats.Total + done
	if denom > 0 {
		snap.Progress = int(math.Round(float64(done) * 100 / float64(denom)))
	}
	return snap, nil
}
