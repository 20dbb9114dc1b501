package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BenedictKing/model-radar/internal/detect"
)

// ProgressStream GET /api/sse/progress 进度事件 SSE 流。
// 订阅进度主题并逐条转发，直到客户端断开或进程退出。
func ProgressStream(bus *detect.ProgressBus) gin.HandlerFunc {
	return func(c *gin.Context) {
		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.JSON(500, gin.H{"error": "streaming unsupported", "code": "SSE_ERROR"})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		sub := bus.Subscribe(c.Request.Context())
		defer sub.Close()

		ch := sub.Channel()
		flusher.Flush()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", msg.Payload); err != nil {
					log.Printf("[SSE-Progress] 写入客户端失败，关闭连接: %v", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}
