package scheduler

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BenedictKing/model-radar/internal/config"
	"github.com/BenedictKing/model-radar/internal/detect"
	"github.com/BenedictKing/model-radar/internal/store"
)

// Scheduler 自动检测调度器。
// 计划串支持两种语法：用 || 连接的多个五段 cron 表达式，或 interval 语法（见 interval.go）。
type Scheduler struct {
	store   *store.Store
	service *detect.Service
	env     *config.EnvConfig

	mu             sync.Mutex
	cronRunner     *cron.Cron
	intervalCancel context.CancelFunc
	intervalSched  *IntervalSchedule
	enabled        bool
	running        bool
	schedule       string
	timezone       string
}

// New 创建调度器
func New(st *store.Store, service *detect.Service, env *config.EnvConfig) *Scheduler {
	return &Scheduler{store: st, service: service, env: env}
}

// Start 启动调度器：加载配置单例，不存在时用环境变量默认值创建。
// 配置存储不可读时禁用调度，避免用过期默认值误触发。
func (s *Scheduler) Start(ctx context.Context) {
	cfg, err := s.store.GetSchedulerConfig()
	if err != nil && !errors.Is(err, store.ErrConfigNotFound) {
		log.Printf("[Scheduler-Start] 读取调度配置失败，调度器保持禁用: %v", err)
		return
	}
	if cfg == nil {
		cfg = &store.SchedulerConfig{
			ID:                   store.SchedulerConfigID,
			Enabled:              s.env.AutoDetectEnabled,
			CronSchedule:         s.env.CronSchedule,
			Timezone:             s.env.CronTimezone,
			ChannelConcurrency:   s.env.ChannelConcurrency,
			MaxGlobalConcurrency: s.env.MaxGlobalConcurrency,
			MinDelayMs:           s.env.DetectionMinDelayMs,
			MaxDelayMs:           s.env.DetectionMaxDelayMs,
			DetectAllChannels:    s.env.AutoDetectAllChannels,
		}
		if err := s.store.SaveSchedulerConfig(cfg); err != nil {
			log.Printf("[Scheduler-Start] 初始化调度配置失败，调度器保持禁用: %v", err)
			return
		}
	}
	s.Reload(cfg)
}

// Reload 应用新的调度配置：停掉旧计划，按新计划重建
func (s *Scheduler) Reload(cfg *store.SchedulerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.enabled = cfg.Enabled
	s.schedule = cfg.CronSchedule
	s.timezone = cfg.Timezone
	if s.timezone == "" {
		s.timezone = s.env.CronTimezone
	}

	if !cfg.Enabled || strings.TrimSpace(cfg.CronSchedule) == "" {
		log.Printf("[Scheduler-Reload] 自动检测已禁用")
		return
	}

	if IsIntervalSchedule(cfg.CronSchedule) {
		sched, err := ParseInterval(cfg.CronSchedule)
		if err != nil {
			log.Printf("[Scheduler-Reload] 解析 interval 计划失败，调度器禁用: %v", err)
			s.enabled = false
			return
		}
		s.intervalSched = sched
		ctx, cancel := context.WithCancel(context.Background())
		s.intervalCancel = cancel
		go s.runInterval(ctx, sched)
		log.Printf("[Scheduler-Reload] interval 计划已生效: %s，下次运行 %s",
			cfg.CronSchedule, sched.Next(time.Now()).Format(time.RFC3339))
		return
	}

	loc, err := time.LoadLocation(s.timezone)
	if err != nil {
		log.Printf("[Scheduler-Reload] 无效时区 %s，回退 UTC", s.timezone)
		loc = time.UTC
	}

	runner := cron.New(cron.WithLocation(loc))
	added := 0
	for _, expr := range strings.Split(cfg.CronSchedule, "||") {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}
		if _, err := runner.AddFunc(expr, s.fire); err != nil {
			log.Printf("[Scheduler-Reload] 无效 cron 表达式 %q: %v", expr, err)
			continue
		}
		added++
	}
	if added == 0 {
		log.Printf("[Scheduler-Reload] 没有可用的 cron 表达式，调度器禁用")
		s.enabled = false
		return
	}

	runner.Start()
	s.cronRunner = runner
	log.Printf("[Scheduler-Reload] cron 计划已生效: %s (%s)", cfg.CronSchedule, s.timezone)
}

// Stop 停止调度
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cronRunner != nil {
		s.cronRunner.Stop()
		s.cronRunner = nil
	}
	if s.intervalCancel != nil {
		s.intervalCancel()
		s.intervalCancel = nil
	}
	s.intervalSched = nil
}

// runInterval interval 计划的触发循环
func (s *Scheduler) runInterval(ctx context.Context, sched *IntervalSchedule) {
	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire()
		}
	}
}

// fire 执行一轮定时检测。失败只记日志，调度循环继续。
func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("[Scheduler-Fire] 上一轮检测尚未结束，跳过本次触发")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cfg, err := s.store.GetSchedulerConfig()
	if err != nil || cfg == nil {
		log.Printf("[Scheduler-Fire] 读取调度配置失败，跳过本次触发: %v", err)
		return
	}

	ctx := context.Background()
	if cfg.DetectAllChannels {
		if _, err := s.service.TriggerFullDetection(ctx, true); err != nil {
			log.Printf("[Scheduler-Fire] 全量检测触发失败: %v", err)
		}
		return
	}
	if _, err := s.service.TriggerSelectiveDetection(ctx, cfg.SelectedChannels(), cfg.SelectedModels()); err != nil {
		log.Printf("[Scheduler-Fire] 选择性检测触发失败: %v", err)
	}
}

// NextRun 所有计划分支里最早的下次触发时刻，调度未启用时返回 nil
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return nil
	}
	if s.intervalSched != nil {
		next := s.intervalSched.Next(time.Now())
		return &next
	}
	if s.cronRunner == nil {
		return nil
	}

	var earliest *time.Time
	for _, entry := range s.cronRunner.Entries() {
		next := entry.Next
		if next.IsZero() {
			continue
		}
		if earliest == nil || next.Before(*earliest) {
			earliest = &next
		}
	}
	return earliest
}

// Status 调度状态快照
type Status struct {
	Enabled  bool       `json:"enabled"`
	Running  bool       `json:"running"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"nextRun"`
}

// Status 返回当前调度状态
func (s *Scheduler) Status() Status {
	next := s.NextRun()
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:  s.enabled,
		Running:  s.running,
		Schedule: s.schedule,
		NextRun:  next,
	}
}

// --- 旧版 cron 计划的展示迁移 ---

var legacyPatterns = []struct {
	re   *regexp.Regexp
	unit string
}{
	{regexp.MustCompile(`^\*/(\d+) \* \* \* \*$`), "minute"},
	{regexp.MustCompile(`^0 \*/(\d+) \* \* \*$`), "hour"},
	{regexp.MustCompile(`^0 0 \*/(\d+) \* \*$`), "day"},
}

// LegacyInterval 识别 */N 形式的旧版 cron，返回等价的 interval 单位和数值。
// 仅用于展示，触发仍按原始 cron 串执行。
func LegacyInterval(cronExpr string) (unit string, value int, ok bool) {
	expr := strings.TrimSpace(cronExpr)
	for _, p := range legacyPatterns {
		if m := p.re.FindStringSubmatch(expr); m != nil {
			v, err := strconv.Atoi(m[1])
			if err != nil {
				return "", 0, false
			}
			return p.unit, v, true
		}
	}
	return "", 0, false
}
