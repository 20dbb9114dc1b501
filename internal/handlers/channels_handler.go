package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/BenedictKing/model-radar/internal/modelsync"
	"github.com/BenedictKing/model-radar/internal/store"
)

// ListChannels GET /api/channels 渠道列表（含密钥与模型）
func ListChannels(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		channels, err := st.ListChannels()
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}
		c.JSON(200, channels)
	}
}

// GetChannel GET /api/channels/:id 渠道详情
func GetChannel(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := st.GetChannel(c.Param("id"))
		if errors.Is(err, store.ErrChannelNotFound) {
			c.JSON(404, gin.H{"error": "渠道不存在", "code": "CHANNEL_NOT_FOUND"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}
		c.JSON(200, ch)
	}
}

// channelRequest 创建/更新渠道的请求体
type channelRequest struct {
	Name          string `json:"name"`
	BaseURL       string `json:"baseUrl"`
	APIKey        string `json:"apiKey"`
	ProxyURL      string `json:"proxyUrl"`
	Enabled       *bool  `json:"enabled"`
	SortOrder     int    `json:"sortOrder"`
	KeyMode       string `json:"keyMode"`
	RouteStrategy string `json:"routeStrategy"`
}

func (r *channelRequest) validate() string {
	if strings.TrimSpace(r.Name) == "" {
		return "渠道名称不能为空"
	}
	if strings.TrimSpace(r.BaseURL) == "" {
		return "baseUrl 不能为空"
	}
	if r.KeyMode != "" && r.KeyMode != store.KeyModeSingle && r.KeyMode != store.KeyModeMulti {
		return "无效的 keyMode"
	}
	return ""
}

// CreateChannel POST /api/channels 创建渠道
func CreateChannel(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req channelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "无效的请求体: " + err.Error(), "code": "INVALID_REQUEST"})
			return
		}
		if msg := req.validate(); msg != "" {
			c.JSON(400, gin.H{"error": msg, "code": "INVALID_REQUEST"})
			return
		}

		ch := &store.Channel{
			ID:            uuid.NewString(),
			Name:          req.Name,
			BaseURL:       store.NormalizeBaseURL(req.BaseURL),
			APIKey:        req.APIKey,
			ProxyURL:      req.ProxyURL,
			Enabled:       req.Enabled == nil || *req.Enabled,
			SortOrder:     req.SortOrder,
			KeyMode:       req.KeyMode,
			RouteStrategy: req.RouteStrategy,
		}
		if err := st.CreateChannel(ch); err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}
		c.JSON(201, ch)
	}
}

// UpdateChannel PUT /api/channels/:id 更新渠道
func UpdateChannel(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ch, err := st.GetChannel(c.Param("id"))
		if errors.Is(err, store.ErrChannelNotFound) {
			c.JSON(404, gin.H{"error": "渠道不存在", "code": "CHANNEL_NOT_FOUND"})
			return
		}
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}

		var req channelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "无效的请求体: " + err.Error(), "code": "INVALID_REQUEST"})
			return
		}
		if msg := req.validate(); msg != "" {
			c.JSON(400, gin.H{"error": msg, "code": "INVALID_REQUEST"})
			return
		}

		ch.Name = req.Name
		ch.BaseURL = store.NormalizeBaseURL(req.BaseURL)
		if req.APIKey != "" {
			ch.APIKey = req.APIKey
		}
		ch.ProxyURL = req.ProxyURL
		if req.Enabled != nil {
			ch.Enabled = *req.Enabled
		}
		ch.SortOrder = req.SortOrder
		if req.KeyMode != "" {
			ch.KeyMode = req.KeyMode
		}
		if req.RouteStrategy != "" {
			ch.RouteStrategy = req.RouteStrategy
		}

		if err := st.UpdateChannel(ch); err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}
		c.JSON(200, ch)
	}
}

// DeleteChannel DELETE /api/channels/:id 删除渠道及其密钥、模型
func DeleteChannel(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := st.DeleteChannel(c.Param("id")); err != nil {
			if errors.Is(err, store.ErrChannelNotFound) {
				c.JSON(404, gin.H{"error": "渠道不存在", "code": "CHANNEL_NOT_FOUND"})
				return
			}
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}
		c.JSON(200, gin.H{"message": "渠道已删除"})
	}
}

// AddChannelKey POST /api/channels/:id/keys 新增附加密钥
func AddChannelKey(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			APIKey string `json:"apiKey"`
			Name   string `json:"name"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
			c.JSON(400, gin.H{"error": "apiKey 不能为空", "code": "INVALID_REQUEST"})
			return
		}

		key := &store.ChannelKey{
			ID:        uuid.NewString(),
			ChannelID: c.Param("id"),
			APIKey:    req.APIKey,
			Name:      req.Name,
		}
		if err := st.AddChannelKey(key); err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}
		c.JSON(201, key)
	}
}

// DeleteChannelKey DELETE /api/channels/:id/keys/:keyId 删除附加密钥并解绑其模型
func DeleteChannelKey(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := st.DeleteChannelKey(c.Param("id"), c.Param("keyId")); err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}
		c.JSON(200, gin.H{"message": "密钥已删除"})
	}
}

// syncRequest POST /api/channels/:id/sync 请求体
type syncRequest struct {
	SelectedModels     []string              `json:"selectedModels"`
	SelectedModelPairs []modelsync.ModelPair `json:"selectedModelPairs"`
}

// SyncChannelModels POST /api/channels/:id/sync 同步渠道模型目录
func SyncChannelModels(pipeline *modelsync.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req syncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(400, gin.H{"error": "无效的请求体: " + err.Error(), "code": "INVALID_REQUEST"})
				return
			}
		}

		result, err := pipeline.SyncChannelModels(c.Request.Context(), c.Param("id"), req.SelectedModels, req.SelectedModelPairs)
		if err != nil {
			if errors.Is(err, store.ErrChannelNotFound) {
				c.JSON(404, gin.H{"error": "渠道不存在", "code": "CHANNEL_NOT_FOUND"})
				return
			}
			c.JSON(500, gin.H{"error": err.Error(), "code": "SYNC_ERROR"})
			return
		}
		c.JSON(200, result)
	}
}

// ExportChannels GET /api/channels/export 导出全部渠道配置
func ExportChannels(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		exports, err := st.ExportChannels()
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}
		c.JSON(200, gin.H{"channels": exports})
	}
}

// ImportChannels POST /api/channels/import 导入渠道配置。
// mode=replace 清空后导入，mode=merge 按 (baseUrl, apiKey) 合并。
func ImportChannels(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Mode     string                `json:"mode"`
			Channels []store.ChannelExport `json:"channels"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "无效的请求体: " + err.Error(), "code": "INVALID_REQUEST"})
			return
		}
		if req.Mode == "" {
			req.Mode = "merge"
		}
		if req.Mode != "merge" && req.Mode != "replace" {
			c.JSON(400, gin.H{"error": "无效的导入模式: " + req.Mode, "code": "INVALID_REQUEST"})
			return
		}

		added, updated, err := st.ImportChannels(req.Channels, req.Mode)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}
		c.JSON(200, gin.H{"added": added, "updated": updated})
	}
}

// GuestValidate POST /api/guest/validate 游客校验渠道三元组 (name, baseUrl, key)
func GuestValidate(pipeline *modelsync.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name    string `json:"name"`
			BaseURL string `json:"baseUrl"`
			Key     string `json:"key"`
		}
		if err := c.ShouldBindJSON(&req); err != nil ||
			strings.TrimSpace(req.BaseURL) == "" || strings.TrimSpace(req.Key) == "" {
			c.JSON(400, gin.H{"error": "baseUrl 和 key 不能为空", "code": "INVALID_REQUEST"})
			return
		}

		models, err := pipeline.ValidateGuest(c.Request.Context(), req.BaseURL, req.Key)
		if err != nil {
			if errors.Is(err, modelsync.ErrModelFetchFailed) {
				c.JSON(422, gin.H{"error": "无法从上游获取模型列表", "code": "MODEL_FETCH_FAILED"})
				return
			}
			c.JSON(500, gin.H{"error": err.Error(), "code": "SYNC_ERROR"})
			return
		}
		c.JSON(200, gin.H{"name": req.Name, "models": models, "total": len(models)})
	}
}

// ListKeywords GET /api/keywords 模型过滤关键字列表
func ListKeywords(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		keywords, err := st.ListKeywords()
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}
		c.JSON(200, keywords)
	}
}

// SaveKeyword POST /api/keywords 新增或更新关键字
func SaveKeyword(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var kw store.ModelKeyword
		if err := c.ShouldBindJSON(&kw); err != nil || strings.TrimSpace(kw.Keyword) == "" {
			c.JSON(400, gin.H{"error": "keyword 不能为空", "code": "INVALID_REQUEST"})
			return
		}
		if kw.ID == "" {
			kw.ID = uuid.NewString()
		}
		if err := st.SaveKeyword(&kw); err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}
		c.JSON(200, kw)
	}
}

// DeleteKeyword DELETE /api/keywords/:id 删除关键字
func DeleteKeyword(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := st.DeleteKeyword(c.Param("id")); err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "SAVE_ERROR"})
			return
		}
		c.JSON(200, gin.H{"message": "关键字已删除"})
	}
}
