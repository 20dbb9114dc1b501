package detect

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/BenedictKing/model-radar/internal/coord"
	"github.com/BenedictKing/model-radar/internal/probe"
	"github.com/BenedictKing/model-radar/internal/store"
)

// stoppedErrMsg 停止标志置位时合成失败的固定文案
const stoppedErrMsg = "Detection stopped by user"

// popTimeout 阻塞弹出的单次等待时间，到期后重新检查 ctx
const popTimeout = 5 * time.Second

// WorkerPool 固定大小的检测工作协程池。
// 每个协程循环：弹出任务 → 停止检查 → 抢占槽位 → 二次停止检查 → 礼貌延迟 →
// 探测 → 落库 + 发布进度 → 释放槽位 → 确认任务。
type WorkerPool struct {
	queue     *coord.Queue
	semaphore *coord.Semaphore
	flag      *coord.Flag
	executor  *probe.Executor
	store     *store.Store
	bus       *ProgressBus
	config    *ConfigCache

	concurrency int
	wg          sync.WaitGroup
}

// NewWorkerPool 创建工作池
func NewWorkerPool(
	queue *coord.Queue,
	semaphore *coord.Semaphore,
	flag *coord.Flag,
	executor *probe.Executor,
	st *store.Store,
	bus *ProgressBus,
	cfg *ConfigCache,
	concurrency int,
) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &WorkerPool{
		queue:       queue,
		semaphore:   semaphore,
		flag:        flag,
		executor:    executor,
		store:       st,
		bus:         bus,
		config:      cfg,
		concurrency: concurrency,
	}
}

// Start 启动全部工作协程，ctx 取消后逐个退出
func (p *WorkerPool) Start(ctx context.Context) {
	log.Printf("[Worker-Start] 启动 %d 个检测工作协程", p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
}

// Wait 等待全部工作协程退出
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, workerID int) {
	for {
		job, err := p.queue.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[Worker-%d] 弹出任务失败: %v", workerID, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		p.process(ctx, workerID, job)
	}
}

// process 处理单个任务。无论结果如何都会确认任务，避免 active 表残留。
func (p *WorkerPool) process(ctx context.Context, workerID int, job *coord.Job) {
	// 停止标志置位时直接合成失败，不碰信号量、不发 HTTP
	if p.flag.IsSet(ctx) {
		p.finishStopped(ctx, job)
		return
	}

	cfg := p.config.Get()
	limits := coord.SemaphoreLimits{
		MaxGlobal:  cfg.MaxGlobalConcurrency,
		PerChannel: cfg.ChannelConcurrency,
	}
	if err := p.semaphore.Acquire(ctx, job.ChannelID, limits); err != nil {
		// ctx 取消：任务留在 active，由 TTL 和重启恢复
		log.Printf("[Worker-%d] 获取并发槽位失败: %v", workerID, err)
		return
	}

	func() {
		defer func() {
			if err := p.semaphore.Release(context.Background(), job.ChannelID); err != nil {
				log.Printf("[Worker-%d] 释放并发槽位失败: %v", workerID, err)
			}
		}()

		// 拿到槽位后二次检查：置位则释放槽位并合成失败
		if p.flag.IsSet(ctx) {
			p.finishStopped(ctx, job)
			return
		}

		// 礼貌延迟，避免对上游打出突刺
		delay := jitter(cfg.MinDelayMs, cfg.MaxDelayMs)
		if delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}

		// 延迟期间可能收到停止请求，发起 HTTP 前最后查一次
		if p.flag.IsSet(ctx) {
			p.finishStopped(ctx, job)
			return
		}

		result := p.executor.Probe(ctx, probe.Job{
			ChannelID:    job.ChannelID,
			ModelID:      job.ModelID,
			ModelName:    job.ModelName,
			BaseURL:      job.BaseURL,
			APIKey:       job.APIKey,
			Proxy:        job.Proxy,
			EndpointType: job.EndpointType,
		})
		p.finalize(ctx, job, result)
	}()
}

// finishStopped 合成停止失败并完成任务
func (p *WorkerPool) finishStopped(ctx context.Context, job *coord.Job) {
	p.finalize(ctx, job, &probe.Result{
		Status:       probe.StatusFail,
		Latency:      0,
		EndpointType: job.EndpointType,
		ErrorMsg:     stoppedErrMsg,
	})
}

// finalize 落库、发布进度、确认任务
func (p *WorkerPool) finalize(ctx context.Context, job *coord.Job, result *probe.Result) {
	success := result.Status == probe.StatusSuccess

	if err := p.store.RecordProbeOutcome(&store.ProbeOutcome{
		ModelID:         job.ModelID,
		EndpointType:    job.EndpointType,
		Success:         success,
		Latency:         result.Latency,
		StatusCode:      result.StatusCode,
		ResponseContent: result.ResponseContent,
		ErrorMsg:        result.ErrorMsg,
	}); err != nil {
		log.Printf("[Worker-Record] 模型 %s 结果落库失败: %v", job.ModelName, err)
	}

	complete, err := p.queue.HasPendingForModel(ctx, job.ModelID, job.ID)
	if err != nil {
		log.Printf("[Worker-Progress] 查询模型剩余任务失败: %v", err)
	}
	p.bus.Publish(ctx, &ProgressEvent{
		ChannelID:       job.ChannelID,
		ModelID:         job.ModelID,
		ModelName:       job.ModelName,
		EndpointType:    job.EndpointType,
		Status:          result.Status,
		Latency:         result.Latency,
		IsModelComplete: err == nil && !complete,
	})

	if err := p.queue.Ack(context.Background(), job.ID, success); err != nil {
		log.Printf("[Worker-Ack] 确认任务 %s 失败: %v", job.ID, err)
	}
}

// jitter 返回 [minMs, maxMs] 内的均匀随机延迟
func jitter(minMs, maxMs int) time.Duration {
	if maxMs <= 0 {
		return 0
	}
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	return time.Duration(minMs+rand.Intn(maxMs-minMs+1)) * time.Millisecond
}
