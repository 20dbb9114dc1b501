package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/BenedictKing/model-radar/internal/httpclient"
	"github.com/BenedictKing/model-radar/internal/utils"
)

// probeTimeout 单次探测的硬超时
const probeTimeout = 30 * time.Second

// 状态常量与 CheckLog 对齐
const (
	StatusSuccess = "SUCCESS"
	StatusFail    = "FAIL"
)

// timeoutErrMsg 超时的固定错误文案
const timeoutErrMsg = "Timeout after 30000ms"

// Job 一次探测任务
type Job struct {
	ChannelID    string
	ModelID      string
	ModelName    string
	BaseURL      string
	APIKey       string
	Proxy        string
	EndpointType string
}

// Result 探测结果。探测边界永远返回 Result，不向上抛错。
type Result struct {
	Status          string
	Latency         int64 // 毫秒
	StatusCode      *int
	EndpointType    string
	ErrorMsg        string
	ResponseContent string
}

// Executor 探测执行器：构造请求、发起 HTTP 调用、解析并归类响应。
type Executor struct {
	clients *httpclient.Manager
	// DefaultProxy 任务未指定代理时的全局默认
	DefaultProxy string
	// Prompt 探测提示词
	Prompt string
}

// NewExecutor 创建执行器
func NewExecutor(clients *httpclient.Manager, defaultProxy, prompt string) *Executor {
	return &Executor{clients: clients, DefaultProxy: defaultProxy, Prompt: prompt}
}

// Probe 执行一次探测。CLAUDE 首次失败时自动带 thinking 补测一次，
// 补测成功覆盖首次结果，延迟从首次开始计。
func (e *Executor) Probe(ctx context.Context, job Job) *Result {
	start := time.Now()
	req := BuildRequest(job.EndpointType, job.BaseURL, job.ModelName, job.APIKey, e.Prompt)
	result := e.doProbe(ctx, job, req, start)

	if job.EndpointType == EndpointClaude && needsThinkingRetry(result) {
		log.Printf("[Probe-Retry] 模型 %s 首测失败，尝试 thinking 模式补测", job.ModelName)
		retryReq := BuildClaudeThinkingRequest(job.BaseURL, job.ModelName, job.APIKey, e.Prompt)
		retry := e.doProbe(ctx, job, retryReq, start)
		if retry.Status == StatusSuccess {
			return retry
		}
	}
	return result
}

// needsThinkingRetry 首测为非 2xx 或传输错误（含超时）时才补测；2xx 隐藏错误不重试
func needsThinkingRetry(result *Result) bool {
	if result.Status != StatusFail {
		return false
	}
	return result.StatusCode == nil || *result.StatusCode < 200 || *result.StatusCode >= 300
}

// doProbe 单次请求的完整生命周期
func (e *Executor) doProbe(ctx context.Context, job Job, req *Request, start time.Time) *Result {
	result := &Result{EndpointType: job.EndpointType}

	proxy := job.Proxy
	if proxy == "" {
		proxy = e.DefaultProxy
	}
	client, err := e.clients.GetClient(proxy)
	if err != nil {
		result.Status = StatusFail
		result.Latency = time.Since(start).Milliseconds()
		result.ErrorMsg = utils.Truncate("代理配置无效: "+err.Error(), maxCaptureLen)
		return result
	}

	reqCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		result.Status = StatusFail
		result.Latency = time.Since(start).Milliseconds()
		result.ErrorMsg = utils.Truncate(err.Error(), maxCaptureLen)
		return result
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		result.Status = StatusFail
		result.Latency = time.Since(start).Milliseconds()
		result.ErrorMsg = transportErrMsg(reqCtx, err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = &resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		result.Status = StatusFail
		result.Latency = time.Since(start).Milliseconds()
		result.ErrorMsg = utils.Truncate(fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), maxCaptureLen)
		return result
	}

	// 2xx：按流式或 JSON 解析，再做隐藏错误检查
	content, lastEvent, parseErr := e.readBody(job.EndpointType, resp)
	result.Latency = time.Since(start).Milliseconds()

	if parseErr != nil {
		if reqCtx.Err() != nil {
			result.Status = StatusFail
			result.ErrorMsg = timeoutErrMsg
			return result
		}
		// HTTP 层已成功，解析失败不改判
		result.Status = StatusSuccess
		return result
	}

	if msg, hidden := HiddenError(lastEvent); hidden {
		result.Status = StatusFail
		result.ErrorMsg = utils.Truncate(msg, maxCaptureLen)
		return result
	}

	result.Status = StatusSuccess
	result.ResponseContent = utils.Truncate(content, maxCaptureLen)
	return result
}

// readBody 读取响应体。返回提取的内容和用于隐藏错误检查的原始 JSON。
func (e *Executor) readBody(endpointType string, resp *http.Response) (content, rawJSON string, err error) {
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		stream, err := ParseStream(endpointType, resp.Body)
		if err != nil {
			return "", "", err
		}
		return stream.Content, stream.LastEvent, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", "", err
	}
	text := string(body)
	return StripThink(ExtractContent(endpointType, text)), text, nil
}

// transportErrMsg 传输层错误归类为固定文案
func transportErrMsg(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutErrMsg
	}
	return utils.Truncate(err.Error(), maxCaptureLen)
}
