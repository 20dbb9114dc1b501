package probe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BenedictKing/model-radar/internal/httpclient"
)

func newTestExecutor() *Executor {
	return NewExecutor(httpclient.GetManager(), "", "")
}

func TestProbeStreamingSuccess(t *testing.T) {
	// Healthy chat model: 200 with streamed deltas
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ye\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"s\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	result := newTestExecutor().Probe(context.Background(), Job{
		ModelName:    "gpt-4o",
		BaseURL:      srv.URL,
		APIKey:       "sk-test",
		EndpointType: EndpointChat,
	})

	if result.Status != StatusSuccess {
		t.Fatalf("status = %q, want %q (errorMsg=%q)", result.Status, StatusSuccess, result.ErrorMsg)
	}
	if result.ResponseContent != "yes" {
		t.Fatalf("responseContent = %q, want %q", result.ResponseContent, "yes")
	}
	if result.StatusCode == nil || *result.StatusCode != 200 {
		t.Fatalf("statusCode = %v", result.StatusCode)
	}
	if result.Latency < 0 {
		t.Fatalf("latency = %d", result.Latency)
	}
}

func TestProbeHiddenErrorBody(t *testing.T) {
	// 200 response whose body smuggles a business error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":false,"message":"quota exceeded"}`)
	}))
	defer srv.Close()

	result := newTestExecutor().Probe(context.Background(), Job{
		ModelName:    "gpt-4o",
		BaseURL:      srv.URL,
		APIKey:       "sk-test",
		EndpointType: EndpointChat,
	})

	if result.Status != StatusFail {
		t.Fatalf("status = %q, want %q", result.Status, StatusFail)
	}
	if result.ErrorMsg != "quota exceeded" {
		t.Fatalf("errorMsg = %q, want %q", result.ErrorMsg, "quota exceeded")
	}
}

func TestProbeUpstreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(503)
		io.WriteString(w, "upstream unavailable")
	}))
	defer srv.Close()

	result := newTestExecutor().Probe(context.Background(), Job{
		ModelName:    "gpt-4o",
		BaseURL:      srv.URL,
		APIKey:       "sk-test",
		EndpointType: EndpointChat,
	})

	if result.Status != StatusFail {
		t.Fatalf("status = %q, want %q", result.Status, StatusFail)
	}
	if !strings.HasPrefix(result.ErrorMsg, "HTTP 503") {
		t.Fatalf("errorMsg = %q, want HTTP 503 prefix", result.ErrorMsg)
	}
}

func TestProbeClaudeThinkingRetry(t *testing.T) {
	// First call fails with 400, the thinking-enabled retry succeeds
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "thinking") {
			w.WriteHeader(400)
			io.WriteString(w, `{"error":{"message":"thinking required"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"yes\"}}\n\n")
		io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	result := newTestExecutor().Probe(context.Background(), Job{
		ModelName:    "claude-sonnet-4",
		BaseURL:      srv.URL,
		APIKey:       "sk-ant",
		EndpointType: EndpointClaude,
	})

	if calls != 2 {
		t.Fatalf("upstream calls = %d, want 2", calls)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %q, want %q (errorMsg=%q)", result.Status, StatusSuccess, result.ErrorMsg)
	}
	if result.ResponseContent != "yes" {
		t.Fatalf("responseContent = %q", result.ResponseContent)
	}
}

func TestNeedsThinkingRetry(t *testing.T) {
	code := func(n int) *int { return &n }
	cases := []struct {
		name   string
		result Result
		want   bool
	}{
		{"success never retries", Result{Status: StatusSuccess, StatusCode: code(200)}, false},
		{"non-2xx retries", Result{Status: StatusFail, StatusCode: code(503), ErrorMsg: "HTTP 503"}, true},
		{"transport error retries", Result{Status: StatusFail, ErrorMsg: "connection refused"}, true},
		{"transport timeout retries", Result{Status: StatusFail, ErrorMsg: timeoutErrMsg}, true},
		{"hidden error on 2xx does not retry", Result{Status: StatusFail, StatusCode: code(200), ErrorMsg: "quota exceeded"}, false},
		{"mid-stream timeout on 2xx does not retry", Result{Status: StatusFail, StatusCode: code(200), ErrorMsg: timeoutErrMsg}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := needsThinkingRetry(&tc.result); got != tc.want {
				t.Fatalf("needsThinkingRetry = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProbeAcceptHeader(t *testing.T) {
	// Streaming templates announce event-stream support, non-streaming ones don't
	accepts := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "generateContent") {
			accepts["gemini"] = r.Header.Get("Accept")
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"yes"}]}}]}`)
			return
		}
		accepts["chat"] = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"yes\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	executor := newTestExecutor()
	executor.Probe(context.Background(), Job{
		ModelName: "gpt-4o", BaseURL: srv.URL, APIKey: "sk-test", EndpointType: EndpointChat,
	})
	executor.Probe(context.Background(), Job{
		ModelName: "gemini-2.0-flash", BaseURL: srv.URL, APIKey: "sk-test", EndpointType: EndpointGemini,
	})

	if accepts["chat"] != "text/event-stream" {
		t.Fatalf("chat Accept = %q, want text/event-stream", accepts["chat"])
	}
	if accepts["gemini"] == "text/event-stream" {
		t.Fatalf("gemini Accept = %q, must not request a stream", accepts["gemini"])
	}
}

func TestProbeTransportError(t *testing.T) {
	// Connection refused: no server listening on this port
	result := newTestExecutor().Probe(context.Background(), Job{
		ModelName:    "gpt-4o",
		BaseURL:      "http://127.0.0.1:1",
		APIKey:       "sk-test",
		EndpointType: EndpointChat,
	})

	if result.Status != StatusFail {
		t.Fatalf("status = %q, want %q", result.Status, StatusFail)
	}
	if result.ErrorMsg == "" {
		t.Fatal("errorMsg should carry the transport cause")
	}
	if result.StatusCode != nil {
		t.Fatalf("statusCode = %v, want nil", *result.StatusCode)
	}
}
