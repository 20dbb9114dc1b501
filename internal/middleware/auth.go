package middleware

import (
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BenedictKing/model-radar/internal/config"
)

// AuthMiddleware 管理 API 访问控制中间件
func AuthMiddleware(envCfg *config.EnvConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		// 公开端点直接放行（健康检查固定为 /health）
		if path == "/health" || path == "/api/guest/validate" {
			c.Next()
			return
		}

		// 检查访问密钥（仅对管理 API 请求）
		if strings.HasPrefix(path, "/api") {
			providedKey := getAPIKey(c)
			expectedKey := envCfg.ProxyAccessKey

			clientIP := c.ClientIP()
			timestamp := time.Now().Format(time.RFC3339)

			if providedKey == "" || providedKey != expectedKey {
				reason := "密钥无效"
				if providedKey == "" {
					reason = "密钥缺失"
				}
				log.Printf("[Auth-Failed] IP: %s | Path: %s | Time: %s | Reason: %s",
					clientIP, path, timestamp, reason)

				c.JSON(401, gin.H{
					"error": "Invalid or missing access key",
					"code":  "UNAUTHORIZED",
				})
				c.Abort()
				return
			}

			// 认证成功。启用了 QuietPollingLogs 时静默轮询端点日志
			if !(envCfg.QuietPollingLogs && isPollingEndpoint(path)) {
				log.Printf("[Auth-Success] IP: %s | Path: %s | Time: %s", clientIP, path, timestamp)
			}
		}

		c.Next()
	}
}

// isPollingEndpoint 判断是否为轮询端点（前缀匹配，兼容 query string 和尾部斜杠）
func isPollingEndpoint(path string) bool {
	if idx := strings.Index(path, "?"); idx != -1 {
		path = path[:idx]
	}
	path = strings.TrimSuffix(path, "/")

	// 使用前缀匹配，与 FilteredLogger 保持一致
	pollingPrefixes := []string{
		"/api/detect",
		"/api/scheduler",
	}
	for _, prefix := range pollingPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// getAPIKey 获取 API 密钥。SSE 客户端无法设置请求头，支持从查询参数取。
func getAPIKey(c *gin.Context) string {
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if key := c.Query("key"); key != "" {
		return key
	}
	return ""
}
