// Package detect 实现检测服务：任务编排、工作协程池、状态落库与进度发布。
package detect

import (
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BenedictKing/model-radar/internal/config"
	"github.com/BenedictKing/model-radar/internal/store"
)

// configCacheTTL 工作协程配置缓存时间。过期后下次读取触发重载。
const configCacheTTL = 5 * time.Second

// WorkerConfig 工作协程需要的热更新配置
type WorkerConfig struct {
	ChannelConcurrency   int
	MaxGlobalConcurrency int
	MinDelayMs           int
	MaxDelayMs           int
}

// ConfigCache 带 TTL 的配置缓存。并发重载用 singleflight 合并成一次 DB 读。
// 读库失败时沿用缓存值或环境变量默认值。
type ConfigCache struct {
	store    *store.Store
	defaults WorkerConfig

	mu       sync.RWMutex
	cached   WorkerConfig
	loadedAt time.Time

	group singleflight.Group
}

// NewConfigCache 创建配置缓存，defaults 来自环境变量
func NewConfigCache(st *store.Store, env *config.EnvConfig) *ConfigCache {
	return &ConfigCache{
		store: st,
		defaults: normalizeWorkerConfig(WorkerConfig{
			ChannelConcurrency:   env.ChannelConcurrency,
			MaxGlobalConcurrency: env.MaxGlobalConcurrency,
			MinDelayMs:           env.DetectionMinDelayMs,
			MaxDelayMs:           env.DetectionMaxDelayMs,
		}),
	}
}

// Get 返回当前配置，必要时重载
func (c *ConfigCache) Get() WorkerConfig {
	c.mu.RLock()
	if !c.loadedAt.IsZero() && time.Since(c.loadedAt) < configCacheTTL {
		cfg := c.cached
		c.mu.RUnlock()
		return cfg
	}
	c.mu.RUnlock()

	v, _, _ := c.group.Do("worker-config", func() (interface{}, error) {
		return c.reload(), nil
	})
	return v.(WorkerConfig)
}

// Invalidate 配置保存后强制下次读取重载
func (c *ConfigCache) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func (c *ConfigCache) reload() WorkerConfig {
	cfg, err := c.store.GetSchedulerConfig()
	if errors.Is(err, store.ErrConfigNotFound) {
		// 配置尚未创建，用环境变量默认值并正常缓存
		c.mu.Lock()
		c.cached = c.defaults
		c.loadedAt = time.Now()
		c.mu.Unlock()
		return c.defaults
	}
	if err != nil {
		log.Printf("[Detect-Config] 读取调度配置失败，沿用旧值: %v", err)
		c.mu.RLock()
		defer c.mu.RUnlock()
		if !c.loadedAt.IsZero() {
			return c.cached
		}
		return c.defaults
	}

	next := normalizeWorkerConfig(WorkerConfig{
		ChannelConcurrency:   cfg.ChannelConcurrency,
		MaxGlobalConcurrency: cfg.MaxGlobalConcurrency,
		MinDelayMs:           cfg.MinDelayMs,
		MaxDelayMs:           cfg.MaxDelayMs,
	})

	c.mu.Lock()
	c.cached = next
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return next
}

// normalizeWorkerConfig 并发数钳到 ≥1，延迟钳到 ≥0 且 max ≥ min
func normalizeWorkerConfig(cfg WorkerConfig) WorkerConfig {
	if cfg.ChannelConcurrency < 1 {
		cfg.ChannelConcurrency = 1
	}
	if cfg.MaxGlobalConcurrency < 1 {
		cfg.MaxGlobalConcurrency = 1
	}
	if cfg.MinDelayMs < 0 {
		cfg.MinDelayMs = 0
	}
	if cfg.MaxDelayMs < cfg.MinDelayMs {
		cfg.MaxDelayMs = cfg.MinDelayMs
	}
	return cfg
}
