package probe

import (
	"bufio"
	"io"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// thinkPattern 去掉推理模型输出里的 <think> 块
var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StreamResult 流式响应解析结果
type StreamResult struct {
	Content   string // 拼接后的增量内容（已去 <think>）
	LastEvent string // 最后一个可解析的 JSON 事件，用于隐藏错误检查
}

// ParseStream 按端点家族重组 SSE 增量响应。
// 逐行读取 data: 事件，遇到 [DONE] 结束。
func ParseStream(endpointType string, r io.Reader) (*StreamResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var sb strings.Builder
	var lastEvent string
	var codexFinal string // response.output_text.done 出现时整段覆盖

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		if !gjson.Valid(data) {
			continue
		}
		lastEvent = data
		event := gjson.Parse(data)

		switch endpointType {
		case EndpointClaude:
			if event.Get("type").Str == "content_block_delta" {
				sb.WriteString(event.Get("delta.text").Str)
			}
		case EndpointCodex:
			switch event.Get("type").Str {
			case "response.output_text.delta":
				sb.WriteString(event.Get("delta").Str)
			case "response.output_text.done":
				codexFinal = event.Get("text").Str
			}
		default: // CHAT 及兼容格式
			for _, choice := range event.Get("choices").Array() {
				sb.WriteString(choice.Get("delta.content").Str)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	content := sb.String()
	if codexFinal != "" {
		content = codexFinal
	}
	return &StreamResult{
		Content:   StripThink(content),
		LastEvent: lastEvent,
	}, nil
}

// StripThink 移除 <think>…</think> 推理块，包括结尾未闭合的 <think>。
// 全部剥空时保留原文，避免把纯推理输出误判为空响应。
func StripThink(s string) string {
	stripped := thinkPattern.ReplaceAllString(s, "")
	if idx := strings.Index(stripped, "<think>"); idx >= 0 {
		stripped = stripped[:idx]
	}
	stripped = strings.TrimSpace(stripped)
	if stripped == "" {
		return s
	}
	return stripped
}
