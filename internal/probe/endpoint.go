// Package probe 实现探测协议分发：按端点家族构造请求、执行并解析流式/JSON 响应、归类结果。
package probe

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/sjson"
)

// 端点家族
const (
	EndpointChat   = "CHAT"
	EndpointClaude = "CLAUDE"
	EndpointGemini = "GEMINI"
	EndpointCodex  = "CODEX"
	EndpointImage  = "IMAGE"
)

// DefaultPrompt 默认探测提示词
const DefaultPrompt = "1+1=2? yes or no"

// imagePattern 识别图片生成模型
var imagePattern = regexp.MustCompile(`dall-e|dalle|image|midjourney|stable-diffusion|sd-|sdxl|flux|ideogram|playground`)

// gpt5CodexPattern gpt-5.1/5.2/5.3 系列走 Responses API
var gpt5CodexPattern = regexp.MustCompile(`gpt-5\.[123]`)

// ClassifyModel 根据模型名决定要测试的端点家族集合
func ClassifyModel(modelName string) []string {
	name := strings.ToLower(modelName)

	if strings.Contains(name, "codex") {
		return []string{EndpointCodex}
	}
	if imagePattern.MatchString(name) {
		return []string{EndpointImage}
	}

	endpoints := []string{EndpointChat}
	switch {
	case strings.Contains(name, "claude"):
		endpoints = append(endpoints, EndpointClaude)
	case strings.Contains(name, "gemini"):
		endpoints = append(endpoints, EndpointGemini)
	case gpt5CodexPattern.MatchString(name):
		endpoints = append(endpoints, EndpointCodex)
	}
	return endpoints
}

// Request 一次探测的请求模板
type Request struct {
	URL     string
	Headers map[string]string
	Body    []byte
	Stream  bool // 期望流式响应
}

// NormalizeBaseURL 规整上游地址：去尾部斜杠；以 /v1 结尾时去掉该后缀
func NormalizeBaseURL(baseURL string) string {
	base := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	if strings.HasSuffix(base, "/v1") {
		base = base[:len(base)-3]
		base = strings.TrimSuffix(base, "/")
	}
	return base
}

// BuildRequest 按端点家族构造请求模板
func BuildRequest(endpointType, baseURL, modelName, apiKey, prompt string) *Request {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	base := NormalizeBaseURL(baseURL)

	switch endpointType {
	case EndpointClaude:
		return buildClaudeRequest(base, modelName, apiKey, prompt)
	case EndpointGemini:
		body, _ := json.Marshal(map[string]any{
			"contents": []map[string]any{
				{"parts": []map[string]string{{"text": prompt}}},
			},
			"generationConfig": map[string]int{"maxOutputTokens": 10},
		})
		return &Request{
			URL: base + "/v1beta/models/" + modelName + ":generateContent",
			Headers: map[string]string{
				"Content-Type":   "application/json",
				"x-goog-api-key": apiKey,
			},
			Body: body,
		}
	case EndpointCodex:
		body, _ := json.Marshal(map[string]any{
			"model": modelName,
			"input": []map[string]any{
				{
					"role": "user",
					"content": []map[string]string{
						{"type": "input_text", "text": prompt},
					},
				},
			},
			"stream": true,
		})
		return &Request{
			URL: base + "/v1/responses",
			Headers: map[string]string{
				"Content-Type":  "application/json",
				"Authorization": "Bearer " + apiKey,
			},
			Body:   body,
			Stream: true,
		}
	case EndpointImage:
		body, _ := json.Marshal(map[string]any{
			"model":           modelName,
			"prompt":          "A simple red circle on white background",
			"n":               1,
			"size":            "256x256",
			"response_format": "url",
		})
		return &Request{
			URL: base + "/v1/images/generations",
			Headers: map[string]string{
				"Content-Type":  "application/json",
				"Authorization": "Bearer " + apiKey,
			},
			Body: body,
		}
	default: // CHAT
		body, _ := json.Marshal(map[string]any{
			"model":      modelName,
			"max_tokens": 50,
			"stream":     true,
			"messages": []map[string]string{
				{"role": "user", "content": prompt},
			},
		})
		return &Request{
			URL: base + "/v1/chat/completions",
			Headers: map[string]string{
				"Content-Type":  "application/json",
				"Authorization": "Bearer " + apiKey,
			},
			Body:   body,
			Stream: true,
		}
	}
}

// buildClaudeRequest 构造 Claude Messages 请求
func buildClaudeRequest(base, modelName, apiKey, prompt string) *Request {
	body, _ := json.Marshal(map[string]any{
		"model":      modelName,
		"max_tokens": 50,
		"stream":     true,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	})
	return &Request{
		URL: base + "/v1/messages",
		Headers: map[string]string{
			"Content-Type":      "application/json",
			"x-api-key":         apiKey,
			"anthropic-version": "2023-06-01",
		},
		Body:   body,
		Stream: true,
	}
}

// BuildClaudeThinkingRequest Claude 带 thinking 的补测请求模板：
// 在普通请求体上叠加推理配置并放宽 max_tokens（必须大于 budget_tokens）。
func BuildClaudeThinkingRequest(baseURL, modelName, apiKey, prompt string) *Request {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	req := buildClaudeRequest(NormalizeBaseURL(baseURL), modelName, apiKey, prompt)
	req.Body, _ = sjson.SetBytes(req.Body, "max_tokens", 2048)
	req.Body, _ = sjson.SetBytes(req.Body, "thinking", map[string]any{
		"type":          "enabled",
		"budget_tokens": 1024,
	})
	return req
}
