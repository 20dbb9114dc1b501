package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store 目录仓库，封装所有数据库访问
type Store struct {
	db *gorm.DB
}

// Open 打开数据库并执行迁移
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据库目录失败: %w", err)
		}
	}

	// busy_timeout 避免并发写入时直接报 SQLITE_BUSY
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if err := db.AutoMigrate(
		&Channel{}, &ChannelKey{}, &Model{}, &ModelEndpoint{},
		&CheckLog{}, &SchedulerConfig{}, &ModelKeyword{},
	); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}

	return &Store{db: db}, nil
}

// OpenInMemory 打开内存数据库（测试用）
func OpenInMemory() (*Store, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&Channel{}, &ChannelKey{}, &Model{}, &ModelEndpoint{},
		&CheckLog{}, &SchedulerConfig{}, &ModelKeyword{},
	); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB 暴露底层连接（仅健康检查使用）
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping 检查数据库可达性
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// --- SchedulerConfig 单例 ---

// ErrConfigNotFound 调度配置单例行不存在
var ErrConfigNotFound = errors.New("scheduler config not found")

// GetSchedulerConfig 读取调度配置单例
func (s *Store) GetSchedulerConfig() (*SchedulerConfig, error) {
	var cfg SchedulerConfig
	err := s.db.First(&cfg, "id = ?", SchedulerConfigID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveSchedulerConfig 保存调度配置单例（不存在则创建）
func (s *Store) SaveSchedulerConfig(cfg *SchedulerConfig) error {
	cfg.ID = SchedulerConfigID
	if cfg.MinDelayMs < 0 {
		cfg.MinDelayMs = 0
	}
	if cfg.MaxDelayMs < cfg.MinDelayMs {
		cfg.MaxDelayMs = cfg.MinDelayMs
	}
	if cfg.ChannelConcurrency < 1 {
		cfg.ChannelConcurrency = 1
	}
	if cfg.MaxGlobalConcurrency < 1 {
		cfg.MaxGlobalConcurrency = 1
	}
	return s.db.Save(cfg).Error
}

// SelectedChannels 解码 selectedChannelIds（nil 表示未选择）
func (c *SchedulerConfig) SelectedChannels() []string {
	if c.SelectedChannelIDs == nil || *c.SelectedChannelIDs == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(*c.SelectedChannelIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SelectedModels 解码 selectedModelIds（channelId -> modelIds，nil 表示未选择）
func (c *SchedulerConfig) SelectedModels() map[string][]string {
	if c.SelectedModelIDs == nil || *c.SelectedModelIDs == "" {
		return nil
	}
	var m map[string][]string
	if err := json.Unmarshal([]byte(*c.SelectedModelIDs), &m); err != nil {
		return nil
	}
	return m
}

// SetSelectedChannels 编码 selectedChannelIds
func (c *SchedulerConfig) SetSelectedChannels(ids []string) {
	if ids == nil {
		c.SelectedChannelIDs = nil
		return
	}
	data, _ := json.Marshal(ids)
	str := string(data)
	c.SelectedChannelIDs = &str
}

// SetSelectedModels 编码 selectedModelIds
func (c *SchedulerConfig) SetSelectedModels(m map[string][]string) {
	if m == nil {
		c.SelectedModelIDs = nil
		return
	}
	data, _ := json.Marshal(m)
	str := string(data)
	c.SelectedModelIDs = &str
}

// --- 探测结果落库 ---

// ProbeOutcome 一次探测的最终结果
type ProbeOutcome struct {
	ModelID         string
	EndpointType    string
	Success         bool
	Latency         int64
	StatusCode      *int
	ResponseContent string
	ErrorMsg        string
}

// RecordProbeOutcome 在单个事务内合并探测结果：
// 成功 upsert 端点旁表、失败删除对应行，然后按旁表剩余数量重算 lastStatus，
// 最后追加一条 CheckLog。旁表操作对单行原子，并发端点探测不会丢更新。
func (s *Store) RecordProbeOutcome(o *ProbeOutcome) error {
	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if o.Success {
			// INSERT OR IGNORE 语义：已存在时不报错
			if err := tx.Exec(
				"INSERT INTO model_endpoints (model_id, endpoint_type, created_at) VALUES (?, ?, ?) ON CONFLICT(model_id, endpoint_type) DO NOTHING",
				o.ModelID, o.EndpointType, now,
			).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Where("model_id = ? AND endpoint_type = ?", o.ModelID, o.EndpointType).
				Delete(&ModelEndpoint{}).Error; err != nil {
				return err
			}
		}

		var count int64
		if err := tx.Model(&ModelEndpoint{}).Where("model_id = ?", o.ModelID).Count(&count).Error; err != nil {
			return err
		}

		lastStatus := count > 0
		if err := tx.Model(&Model{}).Where("id = ?", o.ModelID).Updates(map[string]any{
			"last_status":     lastStatus,
			"last_latency":    o.Latency,
			"last_checked_at": now,
			"updated_at":      now,
		}).Error; err != nil {
			return err
		}

		status := CheckStatusFail
		if o.Success {
			status = CheckStatusSuccess
		}
		entry := &CheckLog{
			ID:              uuid.NewString(),
			ModelID:         o.ModelID,
			EndpointType:    o.EndpointType,
			Status:          status,
			Latency:         o.Latency,
			StatusCode:      o.StatusCode,
			ResponseContent: o.ResponseContent,
			ErrorMsg:        o.ErrorMsg,
			CreatedAt:       now,
		}
		return tx.Create(entry).Error
	})
}

// ResetModelStates 将目标模型的探测状态清为未知（新一轮检测开始前调用）
func (s *Store) ResetModelStates(modelIDs []string) error {
	if len(modelIDs) == 0 {
		return nil
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("model_id IN ?", modelIDs).Delete(&ModelEndpoint{}).Error; err != nil {
			return err
		}
		return tx.Model(&Model{}).Where("id IN ?", modelIDs).Updates(map[string]any{
			"last_status":     nil,
			"last_latency":    nil,
			"last_checked_at": nil,
		}).Error
	})
}

// --- CheckLog ---

// ListCheckLogs 分页查询探测日志（按时间倒序），modelID 为空时不过滤
func (s *Store) ListCheckLogs(modelID string, offset, limit int) ([]CheckLog, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := s.db.Model(&CheckLog{})
	if modelID != "" {
		query = query.Where("model_id = ?", modelID)
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var logs []CheckLog
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error
	return logs, total, err
}

// CleanupCheckLogs 删除超过保留天数的探测日志，返回删除行数
func (s *Store) CleanupCheckLogs(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result := s.db.Where("created_at < ?", cutoff).Delete(&CheckLog{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[Store-Cleanup] 已删除 %d 条过期探测日志 (保留 %d 天)", result.RowsAffected, retentionDays)
	}
	return result.RowsAffected, nil
}

// --- ModelKeyword ---

// ListEnabledKeywords 获取启用的模型关键字
func (s *Store) ListEnabledKeywords() ([]ModelKeyword, error) {
	var keywords []ModelKeyword
	err := s.db.Where("enabled = ?", true).Find(&keywords).Error
	return keywords, err
}

// ListKeywords 获取全部关键字
func (s *Store) ListKeywords() ([]ModelKeyword, error) {
	var keywords []ModelKeyword
	err := s.db.Order("created_at ASC").Find(&keywords).Error
	return keywords, err
}

// SaveKeyword 新建或更新关键字
func (s *Store) SaveKeyword(kw *ModelKeyword) error {
	if kw.ID == "" {
		kw.ID = uuid.NewString()
		kw.CreatedAt = time.Now()
	}
	return s.db.Save(kw).Error
}

// DeleteKeyword 删除关键字
func (s *Store) DeleteKeyword(id string) error {
	return s.db.Delete(&ModelKeyword{}, "id = ?", id).Error
}
