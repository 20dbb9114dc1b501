package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/BenedictKing/model-radar/internal/detect"
	"github.com/BenedictKing/model-radar/internal/store"
)

// triggerRequest POST /api/detect 请求体。scope 决定检测范围。
type triggerRequest struct {
	Scope             string              `json:"scope"` // full | channel | model | selective
	SyncFirst         bool                `json:"syncFirst"`
	ChannelID         string              `json:"channelId"`
	ModelID           string              `json:"modelId"`
	ModelIDs          []string            `json:"modelIds"`
	ChannelIDs        []string            `json:"channelIds"`
	ModelIDsByChannel map[string][]string `json:"modelIdsByChannel"`
}

// TriggerDetection POST /api/detect 按 scope 触发检测
func TriggerDetection(service *detect.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req triggerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": "无效的请求体: " + err.Error(), "code": "INVALID_REQUEST"})
			return
		}

		var result *detect.TriggerResult
		var err error
		switch req.Scope {
		case "", "full":
			result, err = service.TriggerFullDetection(c.Request.Context(), req.SyncFirst)
		case "channel":
			if req.ChannelID == "" {
				c.JSON(400, gin.H{"error": "缺少 channelId", "code": "INVALID_REQUEST"})
				return
			}
			result, err = service.TriggerChannelDetection(c.Request.Context(), req.ChannelID, req.ModelIDs)
		case "model":
			if req.ModelID == "" {
				c.JSON(400, gin.H{"error": "缺少 modelId", "code": "INVALID_REQUEST"})
				return
			}
			result, err = service.TriggerModelDetection(c.Request.Context(), req.ModelID)
		case "selective":
			result, err = service.TriggerSelectiveDetection(c.Request.Context(), req.ChannelIDs, req.ModelIDsByChannel)
		default:
			c.JSON(400, gin.H{"error": "无效的 scope: " + req.Scope, "code": "INVALID_REQUEST"})
			return
		}

		if err != nil {
			switch {
			case errors.Is(err, store.ErrChannelNotFound):
				c.JSON(404, gin.H{"error": "渠道不存在", "code": "CHANNEL_NOT_FOUND"})
			case errors.Is(err, store.ErrModelNotFound):
				c.JSON(404, gin.H{"error": "模型不存在", "code": "MODEL_NOT_FOUND"})
			default:
				c.JSON(500, gin.H{"error": err.Error(), "code": "DETECT_ERROR"})
			}
			return
		}
		c.JSON(200, gin.H{"message": "检测已启动", "models": result.Models, "jobs": result.Jobs})
	}
}

// StopDetection DELETE /api/detect 置位停止标志并清空等待队列
func StopDetection(service *detect.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.Stop(c.Request.Context()); err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "DETECT_ERROR"})
			return
		}
		c.JSON(200, gin.H{"message": "检测已停止"})
	}
}

// DetectionProgress GET /api/detect 进度快照
func DetectionProgress(bus *detect.ProgressBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := bus.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}
		c.JSON(200, snap)
	}
}

// ListDetectionLogs GET /api/detect/logs 分页查询检测日志
func ListDetectionLogs(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		modelID := c.Query("modelId")
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if limit < 1 || limit > 200 {
			limit = 50
		}
		if offset < 0 {
			offset = 0
		}

		logs, total, err := st.ListCheckLogs(modelID, offset, limit)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error(), "code": "FETCH_ERROR"})
			return
		}
		c.JSON(200, gin.H{
			"logs":   logs,
			"total":  total,
			"offset": offset,
			"limit":  limit,
		})
	}
}
