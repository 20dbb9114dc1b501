// Package handlers 定义面向控制台前端的管理 API 处理器。
// 统一错误信封为 {error, code}，HTTP 状态码与信封语义一致。
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BenedictKing/model-radar/internal/config"
	"github.com/BenedictKing/model-radar/internal/store"
)

var startTime = time.Now()

// 编译时通过 -ldflags 注入
var (
	versionString = "v0.0.0-dev"
	buildTime     = "unknown"
	gitCommit     = "unknown"
)

// SetVersionInfo 设置版本信息（从 main 调用）
func SetVersionInfo(version, build, commit string) {
	versionString = version
	buildTime = build
	gitCommit = commit
}

// HealthCheck 健康检查处理器
func HealthCheck(envCfg *config.EnvConfig, st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "healthy"
		if err := st.Ping(); err != nil {
			dbStatus = "unreachable"
		}

		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(startTime).Seconds(),
			"mode":      envCfg.Env,
			"database":  dbStatus,
			"version": gin.H{
				"version":   versionString,
				"buildTime": buildTime,
				"gitCommit": gitCommit,
			},
		})
	}
}
