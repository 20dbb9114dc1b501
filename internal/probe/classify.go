package probe

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BenedictKing/model-radar/internal/utils"
)

// maxCaptureLen 写入检测日志的响应/错误内容上限
const maxCaptureLen = 500

// HiddenError 检查 2xx 响应体里伪装成功的错误。命中时返回可读错误消息。
// 部分聚合网关会用 200 返回配额耗尽、渠道失效等业务错误。
func HiddenError(body string) (string, bool) {
	if !gjson.Valid(body) {
		return "", false
	}
	root := gjson.Parse(body)

	// error 字段：非空字符串，或带 message 的对象
	if errField := root.Get("error"); errField.Exists() {
		switch errField.Type {
		case gjson.String:
			if errField.Str != "" {
				return errField.Str, true
			}
		case gjson.JSON:
			if msg := errField.Get("message"); msg.Type == gjson.String {
				return msg.Str, true
			}
		}
	}

	// success=false + message
	if success := root.Get("success"); success.Exists() && success.Type == gjson.False {
		if msg := root.Get("message"); msg.Type == gjson.String {
			return msg.Str, true
		}
	}

	// code 非零 + message
	if code := root.Get("code"); code.Type == gjson.Number && code.Num != 0 {
		if msg := root.Get("message"); msg.Type == gjson.String {
			return fmt.Sprintf("[%s] %s", code.Raw, msg.Str), true
		}
	}

	// status=error/fail/failed
	if status := root.Get("status"); status.Type == gjson.String {
		switch strings.ToLower(status.Str) {
		case "error", "fail", "failed":
			msg := status.Str
			if m := root.Get("message"); m.Type == gjson.String && m.Str != "" {
				msg = m.Str
			}
			return msg, true
		}
	}

	return "", false
}

// ExtractContent 按端点家族从非流式 JSON 响应中提取文本内容，最多保留 500 字符。
func ExtractContent(endpointType, body string) string {
	root := gjson.Parse(body)

	var content string
	switch endpointType {
	case EndpointClaude:
		for _, block := range root.Get("content").Array() {
			if block.Get("type").Str == "text" {
				content = block.Get("text").Str
				break
			}
		}
		if content == "" {
			content = root.Get("content.0.text").Str
		}
	case EndpointGemini:
		parts := root.Get("candidates.0.content.parts").Array()
		for _, part := range parts {
			if part.Get("thought").Type == gjson.True {
				continue
			}
			if text := part.Get("text"); text.Type == gjson.String {
				content = text.Str
				break
			}
		}
		if content == "" {
			for _, part := range parts {
				if text := part.Get("text"); text.Type == gjson.String {
					content = text.Str
					break
				}
			}
		}
	case EndpointCodex:
		for _, item := range root.Get("output").Array() {
			for _, block := range item.Get("content").Array() {
				if block.Get("type").Str == "output_text" {
					content = block.Get("text").Str
					break
				}
			}
			if content != "" {
				break
			}
		}
		if content == "" {
			for _, item := range root.Get("output").Array() {
				if text := item.Get("text"); text.Type == gjson.String {
					content = text.Str
					break
				}
			}
		}
	case EndpointImage:
		content = describeImage(root)
	default: // CHAT
		for _, path := range []string{
			"choices.0.message.content",
			"choices.0.message.reasoning_content",
			"choices.0.message.refusal",
			"choices.0.delta.content",
			"choices.0.text",
		} {
			if v := root.Get(path); v.Type == gjson.String && v.Str != "" {
				content = v.Str
				break
			}
		}
	}

	return utils.Truncate(content, maxCaptureLen)
}

// describeImage 图片端点不回传文本，合成一段描述性内容
func describeImage(root gjson.Result) string {
	first := root.Get("data.0")
	if url := first.Get("url"); url.Type == gjson.String && url.Str != "" {
		return "[Image URL: " + url.Str + "]"
	}
	if b64 := first.Get("b64_json"); b64.Type == gjson.String && b64.Str != "" {
		return fmt.Sprintf("[Image generated: base64 data, %d chars]", len(b64.Str))
	}
	if prompt := first.Get("revised_prompt"); prompt.Type == gjson.String && prompt.Str != "" {
		return "[Image generated with prompt: " + prompt.Str + "]"
	}
	return ""
}
