package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/BenedictKing/model-radar/internal/detect"
	"github.com/BenedictKing/model-radar/internal/scheduler"
	"github.com/BenedictKing/model-radar/internal/store"
)

// GetSchedulerConfig GET /api/scheduler/config 读取调度配置单例
func GetSchedulerConfig(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := st.GetSchedulerConfig()
		if errors.Is(err, store.ErrConfigNotFound) {
			c.JSON(404, gin.H{"error": "调度配置不存在", "code": "CONFIG_NOT_FOUND"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}
		c.JSON(200, schedulerConfigView(cfg))
	}
}

// schedulerConfigRequest PUT /api/scheduler/config 请求体
type schedulerConfigRequest struct {
	Enabled              *bool               `json:"enabled"`
	CronSchedule         *string             `json:"cronSchedule"`
	Timezone             *string             `json:"timezone"`
	ChannelConcurrency   *int                `json:"channelConcurrency"`
	MaxGlobalConcurrency *int                `json:"maxGlobalConcurrency"`
	MinDelayMs           *int                `json:"minDelayMs"`
	MaxDelayMs           *int                `json:"maxDelayMs"`
	DetectAllChannels    *bool               `json:"detectAllChannels"`
	SelectedChannelIDs   []string            `json:"selectedChannelIds"`
	SelectedModelIDs     map[string][]string `json:"selectedModelIds"`
}

// SaveSchedulerConfig PUT /api/scheduler/config 保存配置并热生效
func SaveSchedulerConfig(st *store.Store, sched *scheduler.Scheduler, cache *detect.ConfigCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := st.GetSchedulerConfig()
		if errors.Is(err, store.ErrConfigNotFound) {
			cfg = &store.SchedulerConfig{ID: store.SchedulerConfigID}
			err = nil
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}

		var req schedulerConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "无效的请求体: " + err.Error(), "code": "INVALID_REQUEST"})
			return
		}

		if req.CronSchedule != nil && scheduler.IsIntervalSchedule(*req.CronSchedule) {
			if _, err := scheduler.ParseInterval(*req.CronSchedule); err != nil {
				c.JSON(400, gin.H{"error": err.Error(), "code": "INVALID_SCHEDULE"})
				return
			}
		}

		if req.Enabled != nil {
			cfg.Enabled = *req.Enabled
		}
		if req.CronSchedule != nil {
			cfg.CronSchedule = *req.CronSchedule
		}
		if req.Timezone != nil {
			cfg.Timezone = *req.Timezone
		}
		if req.ChannelConcurrency != nil {
			cfg.ChannelConcurrency = *req.ChannelConcurrency
		}
		if req.MaxGlobalConcurrency != nil {
			cfg.MaxGlobalConcurrency = *req.MaxGlobalConcurrency
		}
		if req.MinDelayMs != nil {
			cfg.MinDelayMs = *req.MinDelayMs
		}
		if req.MaxDelayMs != nil {
			cfg.MaxDelayMs = *req.MaxDelayMs
		}
		if req.DetectAllChannels != nil {
			cfg.DetectAllChannels = *req.DetectAllChannels
		}
		if req.SelectedChannelIDs != nil {
			cfg.SetSelectedChannels(req.SelectedChannelIDs)
		}
		if req.SelectedModelIDs != nil {
			cfg.SetSelectedModels(req.SelectedModelIDs)
		}

		if err := st.SaveSchedulerConfig(cfg); err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}

		// 保存即生效：重建调度计划，作废工作协程的配置缓存
		sched.Reload(cfg)
		cache.Invalidate()

		c.JSON(200, schedulerConfigView(cfg))
	}
}

// SchedulerStatus GET /api/scheduler 调度状态总览
func SchedulerStatus(st *store.Store, sched *scheduler.Scheduler, cleanup *scheduler.CleanupJob) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := st.GetSchedulerConfig()
		if err != nil && !errors.Is(err, store.ErrConfigNotFound) {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}

		status := sched.Status()
		detection := gin.H{
			"enabled":  status.Enabled,
			"running":  status.Running,
			"schedule": status.Schedule,
			"nextRun":  status.NextRun,
		}
		// */N 形式的旧版 cron 以 interval 形式展示
		if unit, value, ok := scheduler.LegacyInterval(status.Schedule); ok {
			detection["display"] = gin.H{"type": "interval", "unit": unit, "value": value}
		}

		var cfgView gin.H
		if cfg != nil {
			cfgView = schedulerConfigView(cfg)
		}

		c.JSON(200, gin.H{
			"detection": detection,
			"config":    cfgView,
			"cleanup": gin.H{
				"schedule":      cleanup.Schedule(),
				"nextRun":       cleanup.NextRun(),
				"retentionDays": cleanup.RetentionDays(),
			},
		})
	}
}

// schedulerConfigView 把选择集 JSON 列展开成响应字段
func schedulerConfigView(cfg *store.SchedulerConfig) gin.H {
	return gin.H{
		"id":                   cfg.ID,
		"enabled":              cfg.Enabled,
		"cronSchedule":         cfg.CronSchedule,
		"timezone":             cfg.Timezone,
		"channelConcurrency":   cfg.ChannelConcurrency,
		"maxGlobalConcurrency": cfg.MaxGlobalConcurrency,
		"minDelayMs":           cfg.MinDelayMs,
		"maxDelayMs":           cfg.MaxDelayMs,
		"detectAllChannels":    cfg.DetectAllChannels,
		"selectedChannelIds":   cfg.SelectedChannels(),
		"selectedModelIds":     cfg.SelectedModels(),
		"updatedAt":            cfg.UpdatedAt,
	}
}
