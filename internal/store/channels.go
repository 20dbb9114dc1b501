package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrChannelNotFound 渠道不存在
var ErrChannelNotFound = errors.New("channel not found")

// ErrModelNotFound 模型不存在
var ErrModelNotFound = errors.New("model not found")

// NormalizeBaseURL 规整渠道 baseUrl：去尾部斜杠
func NormalizeBaseURL(baseURL string) string {
	return strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
}

// ListChannels 获取全部渠道（含 Key 和模型，按排序字段排列）
func (s *Store) ListChannels() ([]Channel, error) {
	var channels []Channel
	err := s.db.Preload("Keys").Preload("Models").
		Order("sort_order ASC, created_at ASC").Find(&channels).Error
	if err != nil {
		return nil, err
	}
	for i := range channels {
		s.fillDetectedEndpoints(channels[i].Models)
	}
	return channels, nil
}

// ListEnabledChannels 获取启用的渠道（含 Key 和模型）
func (s *Store) ListEnabledChannels() ([]Channel, error) {
	var channels []Channel
	err := s.db.Preload("Keys").Preload("Models").
		Where("enabled = ?", true).
		Order("sort_order ASC, created_at ASC").Find(&channels).Error
	return channels, err
}

// GetChannel 获取单个渠道（含 Key 和模型）
func (s *Store) GetChannel(id string) (*Channel, error) {
	var channel Channel
	err := s.db.Preload("Keys").Preload("Models").First(&channel, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, err
	}
	s.fillDetectedEndpoints(channel.Models)
	return &channel, nil
}

// CreateChannel 新建渠道
func (s *Store) CreateChannel(ch *Channel) error {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	ch.BaseURL = NormalizeBaseURL(ch.BaseURL)
	if ch.KeyMode == "" {
		ch.KeyMode = KeyModeSingle
	}
	if ch.RouteStrategy == "" {
		ch.RouteStrategy = RouteRoundRobin
	}
	for i := range ch.Keys {
		if ch.Keys[i].ID == "" {
			ch.Keys[i].ID = uuid.NewString()
		}
		ch.Keys[i].ChannelID = ch.ID
	}
	return s.db.Create(ch).Error
}

// UpdateChannel 更新渠道基础字段
func (s *Store) UpdateChannel(ch *Channel) error {
	ch.BaseURL = NormalizeBaseURL(ch.BaseURL)
	result := s.db.Model(&Channel{}).Where("id = ?", ch.ID).Updates(map[string]any{
		"name":           ch.Name,
		"base_url":       ch.BaseURL,
		"api_key":        ch.APIKey,
		"proxy_url":      ch.ProxyURL,
		"enabled":        ch.Enabled,
		"sort_order":     ch.SortOrder,
		"key_mode":       ch.KeyMode,
		"route_strategy": ch.RouteStrategy,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// DeleteChannel 删除渠道及其 Key、模型、端点旁表
func (s *Store) DeleteChannel(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var modelIDs []string
		if err := tx.Model(&Model{}).Where("channel_id = ?", id).Pluck("id", &modelIDs).Error; err != nil {
			return err
		}
		if len(modelIDs) > 0 {
			if err := tx.Where("model_id IN ?", modelIDs).Delete(&ModelEndpoint{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("channel_id = ?", id).Delete(&Model{}).Error; err != nil {
			return err
		}
		if err := tx.Where("channel_id = ?", id).Delete(&ChannelKey{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&Channel{}, "id = ?", id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrChannelNotFound
		}
		return nil
	})
}

// AddChannelKey 给渠道添加额外 Key
func (s *Store) AddChannelKey(key *ChannelKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	return s.db.Create(key).Error
}

// DeleteChannelKey 删除额外 Key，并解除绑定它的模型
func (s *Store) DeleteChannelKey(channelID, keyID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Model{}).
			Where("channel_id = ? AND channel_key_id = ?", channelID, keyID).
			Update("channel_key_id", nil).Error; err != nil {
			return err
		}
		return tx.Where("channel_id = ? AND id = ?", channelID, keyID).Delete(&ChannelKey{}).Error
	})
}

// SetChannelKeyValid 更新 Key 的校验状态
func (s *Store) SetChannelKeyValid(keyID string, valid bool) error {
	return s.db.Model(&ChannelKey{}).Where("id = ?", keyID).Update("valid", valid).Error
}

// --- Model 查询 ---

// GetModel 获取单个模型
func (s *Store) GetModel(id string) (*Model, error) {
	var model Model
	err := s.db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, err
	}
	models := []Model{model}
	s.fillDetectedEndpoints(models)
	return &models[0], nil
}

// ListModelsByChannel 获取渠道下的模型，modelIDs 非空时只取子集
func (s *Store) ListModelsByChannel(channelID string, modelIDs []string) ([]Model, error) {
	query := s.db.Where("channel_id = ?", channelID)
	if len(modelIDs) > 0 {
		query = query.Where("id IN ?", modelIDs)
	}
	var models []Model
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	s.fillDetectedEndpoints(models)
	return models, nil
}

// ModelSignature 模型在 multi 模式下的唯一身份：modelName + NUL + keyId（无绑定时为 __main__）
func ModelSignature(modelName string, channelKeyID *string) string {
	keyID := MainKeyID
	if channelKeyID != nil && *channelKeyID != "" {
		keyID = *channelKeyID
	}
	return modelName + "\x00" + keyID
}

// ReconcileResult 模型目录对账结果
type ReconcileResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Total   int `json:"total"`
}

// ModelTarget 对账目标：一个 (modelName, channelKeyId) 组合
type ModelTarget struct {
	ModelName    string
	ChannelKeyID *string
}

// ReconcileModels 按签名对账渠道的模型目录：
// 目标集中没有的行删除，目标集中新出现的签名插入，已存在的行不动。
// 重复执行同一目标集时 added=removed=0（幂等）。
func (s *Store) ReconcileModels(channelID string, targets []ModelTarget) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing []Model
		if err := tx.Where("channel_id = ?", channelID).Find(&existing).Error; err != nil {
			return err
		}

		targetSet := make(map[string]ModelTarget, len(targets))
		for _, t := range targets {
			targetSet[ModelSignature(t.ModelName, t.ChannelKeyID)] = t
		}

		existingSet := make(map[string]bool, len(existing))
		now := time.Now()

		// 删除目标集中不存在的行
		for _, m := range existing {
			sig := ModelSignature(m.ModelName, m.ChannelKeyID)
			if _, ok := targetSet[sig]; !ok {
				if err := tx.Where("model_id = ?", m.ID).Delete(&ModelEndpoint{}).Error; err != nil {
					return err
				}
				if err := tx.Delete(&Model{}, "id = ?", m.ID).Error; err != nil {
					return err
				}
				result.Removed++
				continue
			}
			existingSet[sig] = true
		}

		// 插入新签名
		for sig, t := range targetSet {
			if existingSet[sig] {
				continue
			}
			model := &Model{
				ID:           uuid.NewString(),
				ChannelID:    channelID,
				ModelName:    t.ModelName,
				ChannelKeyID: t.ChannelKeyID,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.Create(model).Error; err != nil {
				return err
			}
			result.Added++
		}

		var total int64
		if err := tx.Model(&Model{}).Where("channel_id = ?", channelID).Count(&total).Error; err != nil {
			return err
		}
		result.Total = int(total)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fillDetectedEndpoints 将端点旁表聚合到模型的只读视图字段
func (s *Store) fillDetectedEndpoints(models []Model) {
	if len(models) == 0 {
		return
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var endpoints []ModelEndpoint
	if err := s.db.Where("model_id IN ?", ids).Find(&endpoints).Error; err != nil {
		return
	}
	byModel := make(map[string][]string)
	for _, ep := range endpoints {
		byModel[ep.ModelID] = append(byModel[ep.ModelID], ep.EndpointType)
	}
	for i := range models {
		eps := byModel[models[i].ID]
		if eps == nil {
			eps = []string{}
		}
		models[i].DetectedEndpoints = eps
	}
}

// --- 导入导出 ---

// ChannelExport 导出格式
type ChannelExport struct {
	Name          string       `json:"name"`
	BaseURL       string       `json:"baseUrl"`
	APIKey        string       `json:"apiKey"`
	ProxyURL      string       `json:"proxyUrl,omitempty"`
	Enabled       bool         `json:"enabled"`
	SortOrder     int          `json:"sortOrder"`
	KeyMode       string       `json:"keyMode"`
	RouteStrategy string       `json:"routeStrategy"`
	ChannelKeys   []KeyExport  `json:"channelKeys,omitempty"`
}

// KeyExport 额外 Key 的导出格式
type KeyExport struct {
	APIKey string `json:"apiKey"`
	Name   string `json:"name,omitempty"`
}

// ExportChannels 导出全部渠道（含额外 Key，不含模型和探测状态）
func (s *Store) ExportChannels() ([]ChannelExport, error) {
	channels, err := s.ListChannels()
	if err != nil {
		return nil, err
	}
	exports := make([]ChannelExport, 0, len(channels))
	for _, ch := range channels {
		exp := ChannelExport{
			Name:          ch.Name,
			BaseURL:       ch.BaseURL,
			APIKey:        ch.APIKey,
			ProxyURL:      ch.ProxyURL,
			Enabled:       ch.Enabled,
			SortOrder:     ch.SortOrder,
			KeyMode:       ch.KeyMode,
			RouteStrategy: ch.RouteStrategy,
		}
		for _, key := range ch.Keys {
			exp.ChannelKeys = append(exp.ChannelKeys, KeyExport{APIKey: key.APIKey, Name: key.Name})
		}
		exports = append(exports, exp)
	}
	return exports, nil
}

// ImportChannels 导入渠道。mode=replace 清空后重建；mode=merge 按 (baseUrl, apiKey) 或名称合并。
// 导入流程中 baseUrl 必须唯一。
func (s *Store) ImportChannels(exports []ChannelExport, mode string) (added, updated int, err error) {
	seen := make(map[string]bool)
	for _, exp := range exports {
		normalized := NormalizeBaseURL(exp.BaseURL)
		if normalized == "" {
			return 0, 0, fmt.Errorf("导入数据包含空 baseUrl: %s", exp.Name)
		}
		if seen[normalized] {
			return 0, 0, fmt.Errorf("导入数据包含重复 baseUrl: %s", normalized)
		}
		seen[normalized] = true
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if mode == "replace" {
			for _, table := range []any{&ModelEndpoint{}, &Model{}, &ChannelKey{}, &Channel{}} {
				if err := tx.Where("1 = 1").Delete(table).Error; err != nil {
					return err
				}
			}
		}

		for _, exp := range exports {
			var match Channel
			found := false
			if mode != "replace" {
				// 合并身份：先按 (baseUrl, apiKey)，再按名称
				err := tx.Where("base_url = ? AND api_key = ?", NormalizeBaseURL(exp.BaseURL), exp.APIKey).
					First(&match).Error
				if err == nil {
					found = true
				} else if errors.Is(err, gorm.ErrRecordNotFound) {
					if err := tx.Where("name = ?", exp.Name).First(&match).Error; err == nil {
						found = true
					}
				} else {
					return err
				}
			}

			if found {
				if err := tx.Model(&Channel{}).Where("id = ?", match.ID).Updates(map[string]any{
					"name":           exp.Name,
					"base_url":       NormalizeBaseURL(exp.BaseURL),
					"api_key":        exp.APIKey,
					"proxy_url":      exp.ProxyURL,
					"enabled":        exp.Enabled,
					"sort_order":     exp.SortOrder,
					"key_mode":       exp.KeyMode,
					"route_strategy": exp.RouteStrategy,
				}).Error; err != nil {
					return err
				}
				// 导出携带的额外 Key 也要并入，按密钥串去重
				if len(exp.ChannelKeys) > 0 {
					var existing []ChannelKey
					if err := tx.Where("channel_id = ?", match.ID).Find(&existing).Error; err != nil {
						return err
					}
					have := make(map[string]bool, len(existing))
					for _, key := range existing {
						have[key.APIKey] = true
					}
					for _, key := range exp.ChannelKeys {
						if have[key.APIKey] {
							continue
						}
						have[key.APIKey] = true
						if err := tx.Create(&ChannelKey{
							ID:        uuid.NewString(),
							ChannelID: match.ID,
							APIKey:    key.APIKey,
							Name:      key.Name,
						}).Error; err != nil {
							return err
						}
					}
				}
				updated++
				continue
			}

			ch := &Channel{
				ID:            uuid.NewString(),
				Name:          exp.Name,
				BaseURL:       NormalizeBaseURL(exp.BaseURL),
				APIKey:        exp.APIKey,
				ProxyURL:      exp.ProxyURL,
				Enabled:       exp.Enabled,
				SortOrder:     exp.SortOrder,
				KeyMode:       exp.KeyMode,
				RouteStrategy: exp.RouteStrategy,
			}
			if ch.KeyMode == "" {
				ch.KeyMode = KeyModeSingle
			}
			if ch.RouteStrategy == "" {
				ch.RouteStrategy = RouteRoundRobin
			}
			for _, key := range exp.ChannelKeys {
				ch.Keys = append(ch.Keys, ChannelKey{
					ID:     uuid.NewString(),
					APIKey: key.APIKey,
					Name:   key.Name,
				})
			}
			if err := tx.Create(ch).Error; err != nil {
				return err
			}
			added++
		}
		return nil
	})
	return added, updated, err
}
