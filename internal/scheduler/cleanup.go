package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BenedictKing/model-radar/internal/config"
	"github.com/BenedictKing/model-radar/internal/store"
)

// CleanupJob 检测日志清理任务：按 CLEANUP_SCHEDULE 定时删除超过保留期的 CheckLog。
type CleanupJob struct {
	store         *store.Store
	schedule      string
	retentionDays int

	mu     sync.Mutex
	runner *cron.Cron
}

// NewCleanupJob 创建清理任务
func NewCleanupJob(st *store.Store, env *config.EnvConfig) *CleanupJob {
	return &CleanupJob{
		store:         st,
		schedule:      env.CleanupSchedule,
		retentionDays: env.LogRetentionDays,
	}
}

// Start 启动清理计划
func (j *CleanupJob) Start(loc *time.Location) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.runner != nil {
		return
	}
	runner := cron.New(cron.WithLocation(loc))
	if _, err := runner.AddFunc(j.schedule, j.Run); err != nil {
		log.Printf("[Cleanup-Start] 无效的清理计划 %q: %v", j.schedule, err)
		return
	}
	runner.Start()
	j.runner = runner
	log.Printf("[Cleanup-Start] 日志清理计划已生效: %s（保留 %d 天）", j.schedule, j.retentionDays)
}

// Stop 停止清理计划
func (j *CleanupJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runner != nil {
		j.runner.Stop()
		j.runner = nil
	}
}

// Run 执行一次清理
func (j *CleanupJob) Run() {
	deleted, err := j.store.CleanupCheckLogs(j.retentionDays)
	if err != nil {
		log.Printf("[Cleanup-Run] 清理检测日志失败: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("[Cleanup-Run] 已删除 %d 条过期检测日志", deleted)
	}
}

// NextRun 下次清理时刻
func (j *CleanupJob) NextRun() *time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.runner == nil {
		return nil
	}
	for _, entry := range j.runner.Entries() {
		next := entry.Next
		if !next.IsZero() {
			return &next
		}
	}
	return nil
}

// RetentionDays 当前保留天数
func (j *CleanupJob) RetentionDays() int {
	return j.retentionDays
}

// Schedule 当前清理计划串
func (j *CleanupJob) Schedule() string {
	return j.schedule
}
