package coord

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job 一次探测任务的载荷
type Job struct {
	ID           string `json:"id"`
	ChannelID    string `json:"channelId"`
	ModelID      string `json:"modelId"`
	ModelName    string `json:"modelName"`
	BaseURL      string `json:"baseUrl"`
	APIKey       string `json:"apiKey"`
	Proxy        string `json:"proxy,omitempty"`
	EndpointType string `json:"endpointType"`
}

// QueueStats 队列统计
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"` // waiting + active
}

// JobState 任务状态视图
type JobState string

const (
	JobStateWaiting JobState = "waiting"
	JobStateActive  JobState = "active"
)

// ErrQueueClosed 队列上下文已取消
var ErrQueueClosed = errors.New("detection queue closed")

// Queue 持久化 FIFO 检测队列。
// waiting 用 Redis list（RPUSH/BLPOP），active 用 hash，completed/failed 是计数器。
type Queue struct {
	rdb *redis.Client
}

// NewQueue 创建队列访问器
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// EnqueueBulk 批量入队。单条 RPUSH 携带全部载荷，对调用方原子：要么全部追加要么全不追加。
// 返回按序分配的任务 ID。
func (q *Queue) EnqueueBulk(ctx context.Context, jobs []Job) ([]string, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(jobs))
	payloads := make([]interface{}, len(jobs))
	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = uuid.NewString()
		}
		ids[i] = jobs[i].ID
		data, err := json.Marshal(jobs[i])
		if err != nil {
			return nil, err
		}
		payloads[i] = string(data)
	}

	if err := q.rdb.RPush(ctx, queueWaitingKey, payloads...).Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Pop 阻塞弹出一个任务并移入 active。没有任务时最多阻塞 timeout，返回 (nil, nil)。
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*Job, error) {
	vals, err := q.rdb.BLPop(ctx, timeout, queueWaitingKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrQueueClosed
		}
		return nil, err
	}
	if len(vals) < 2 {
		return nil, nil
	}

	var job Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, err
	}
	if err := q.rdb.HSet(ctx, queueActiveKey, job.ID, vals[1]).Err(); err != nil {
		return nil, err
	}
	return &job, nil
}

// Ack 任务完成：移出 active 并累加完成/失败计数
func (q *Queue) Ack(ctx context.Context, jobID string, success bool) error {
	pipe := q.rdb.TxPipeline()
	pipe.HDel(ctx, queueActiveKey, jobID)
	if success {
		pipe.Incr(ctx, queueCompletedKey)
	} else {
		pipe.Incr(ctx, queueFailedKey)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Stats 队列统计。total = waiting + active（剩余任务数）。
func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	pipe := q.rdb.Pipeline()
	waitingCmd := pipe.LLen(ctx, queueWaitingKey)
	activeCmd := pipe.HLen(ctx, queueActiveKey)
	completedCmd := pipe.Get(ctx, queueCompletedKey)
	failedCmd := pipe.Get(ctx, queueFailedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	stats := &QueueStats{
		Waiting: waitingCmd.Val(),
		Active:  activeCmd.Val(),
	}
	stats.Completed, _ = completedCmd.Int64()
	stats.Failed, _ = failedCmd.Int64()
	stats.Total = stats.Waiting + stats.Active
	return stats, nil
}

// JobsByState 分页查看指定状态的任务
func (q *Queue) JobsByState(ctx context.Context, state JobState, offset, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	switch state {
	case JobStateWaiting:
		vals, err := q.rdb.LRange(ctx, queueWaitingKey, offset, offset+limit-1).Result()
		if err != nil {
			return nil, err
		}
		return decodeJobs(vals), nil
	case JobStateActive:
		all, err := q.rdb.HVals(ctx, queueActiveKey).Result()
		if err != nil {
			return nil, err
		}
		if offset >= int64(len(all)) {
			return nil, nil
		}
		end := offset + limit
		if end > int64(len(all)) {
			end = int64(len(all))
		}
		return decodeJobs(all[offset:end]), nil
	default:
		return nil, nil
	}
}

// TestingModelIDs 正在检测的模型 ID 集合（waiting + active 的并集）。
// excludeJobID 非空时跳过该任务，用于发布进度时判断 isModelComplete。
func (q *Queue) TestingModelIDs(ctx context.Context, excludeJobID string) ([]string, error) {
	pipe := q.rdb.Pipeline()
	waitingCmd := pipe.LRange(ctx, queueWaitingKey, 0, -1)
	activeCmd := pipe.HVals(ctx, queueActiveKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	collect := func(vals []string) {
		for _, v := range vals {
			var job Job
			if err := json.Unmarshal([]byte(v), &job); err != nil {
				continue
			}
			if excludeJobID != "" && job.ID == excludeJobID {
				continue
			}
			if !seen[job.ModelID] {
				seen[job.ModelID] = true
				ids = append(ids, job.ModelID)
			}
		}
	}
	collect(waitingCmd.Val())
	collect(activeCmd.Val())
	return ids, nil
}

// HasPendingForModel 队列中是否还有该模型的其他任务（不含 excludeJobID）
func (q *Queue) HasPendingForModel(ctx context.Context, modelID, excludeJobID string) (bool, error) {
	ids, err := q.TestingModelIDs(ctx, excludeJobID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == modelID {
			return true, nil
		}
	}
	return false, nil
}

// recoverScript 原子地把 active 中的任务搬回 waiting 队首并清空 active
var recoverScript = redis.NewScript(`
local vals = redis.call('HVALS', KEYS[1])
if #vals > 0 then
	redis.call('LPUSH', KEYS[2], unpack(vals))
	redis.call('DEL', KEYS[1])
end
return #vals
`)

// RecoverActive 启动时调用：上一个进程崩溃或中断时留在 active 里的任务
// 重新入队（插到队首优先执行），返回恢复的任务数。active 表没有 TTL，
// 不做这次清扫残留条目会让 isRunning 永远为真。
func (q *Queue) RecoverActive(ctx context.Context) (int64, error) {
	return recoverScript.Run(ctx, q.rdb, []string{queueActiveKey, queueWaitingKey}).Int64()
}

// Drain 清空 waiting 队列。active 中的任务由停止标志短路。
func (q *Queue) Drain(ctx context.Context) error {
	return q.rdb.Del(ctx, queueWaitingKey).Err()
}

// ResetCounters 清零完成/失败计数（新一轮检测开始时调用）
func (q *Queue) ResetCounters(ctx context.Context) error {
	return q.rdb.Del(ctx, queueCompletedKey, queueFailedKey).Err()
}

func decodeJobs(vals []string) []Job {
	jobs := make([]Job, 0, len(vals))
	for _, v := range vals {
		var job Job
		if err := json.Unmarshal([]byte(v), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs
}
