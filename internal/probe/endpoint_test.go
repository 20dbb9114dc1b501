package probe

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestClassifyModel(t *testing.T) {
	cases := []struct {
		name  string
		model string
		want  []string
	}{
		{"plain chat model", "gpt-4o", []string{EndpointChat}},
		{"claude gets messages endpoint", "claude-sonnet-4", []string{EndpointChat, EndpointClaude}},
		{"gemini gets native endpoint", "gemini-2.0-flash", []string{EndpointChat, EndpointGemini}},
		{"gpt-5.1 gets responses endpoint", "gpt-5.1-preview", []string{EndpointChat, EndpointCodex}},
		{"gpt-5.2 gets responses endpoint", "gpt-5.2", []string{EndpointChat, EndpointCodex}},
		{"codex is responses only", "codex-mini", []string{EndpointCodex}},
		{"dall-e is image only", "dall-e-3", []string{EndpointImage}},
		{"flux is image only", "flux-pro", []string{EndpointImage}},
		{"sdxl is image only", "sdxl-turbo", []string{EndpointImage}},
		{"case insensitive", "Claude-Opus-4", []string{EndpointChat, EndpointClaude}},
		{"gpt-5 base stays chat only", "gpt-5", []string{EndpointChat}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ClassifyModel(tc.model)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ClassifyModel(%q) = %v, want %v", tc.model, got, tc.want)
			}
		})
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://api.example.com", "https://api.example.com"},
		{"https://api.example.com/", "https://api.example.com"},
		{"https://api.example.com/v1", "https://api.example.com"},
		{"https://api.example.com/v1/", "https://api.example.com"},
		{"https://api.example.com/openai/v1", "https://api.example.com/openai"},
	}
	for _, tc := range cases {
		if got := NormalizeBaseURL(tc.in); got != tc.want {
			t.Fatalf("NormalizeBaseURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildRequest(t *testing.T) {
	t.Run("chat request", func(t *testing.T) {
		req := BuildRequest(EndpointChat, "https://api.example.com/v1/", "gpt-4o", "sk-test", "")
		if req.URL != "https://api.example.com/v1/chat/completions" {
			t.Fatalf("url = %q", req.URL)
		}
		if req.Headers["Authorization"] != "Bearer sk-test" {
			t.Fatalf("auth header = %q", req.Headers["Authorization"])
		}
		if !req.Stream {
			t.Fatal("chat request should expect streaming")
		}

		var body map[string]any
		if err := json.Unmarshal(req.Body, &body); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if body["model"] != "gpt-4o" || body["stream"] != true {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("claude request uses x-api-key", func(t *testing.T) {
		req := BuildRequest(EndpointClaude, "https://api.example.com", "claude-sonnet-4", "sk-ant", "")
		if req.URL != "https://api.example.com/v1/messages" {
			t.Fatalf("url = %q", req.URL)
		}
		if req.Headers["x-api-key"] != "sk-ant" {
			t.Fatalf("x-api-key = %q", req.Headers["x-api-key"])
		}
		if req.Headers["anthropic-version"] == "" {
			t.Fatal("missing anthropic-version header")
		}
		if strings.Contains(string(req.Body), "thinking") {
			t.Fatal("base claude request must not carry thinking config")
		}
	})

	t.Run("claude thinking retry template", func(t *testing.T) {
		req := BuildClaudeThinkingRequest("https://api.example.com", "claude-sonnet-4", "sk-ant", "")
		var body map[string]any
		if err := json.Unmarshal(req.Body, &body); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		thinking, ok := body["thinking"].(map[string]any)
		if !ok {
			t.Fatal("missing thinking config")
		}
		if thinking["type"] != "enabled" || thinking["budget_tokens"] != float64(1024) {
			t.Fatalf("thinking = %v", thinking)
		}
		if body["max_tokens"] != float64(2048) {
			t.Fatalf("max_tokens = %v", body["max_tokens"])
		}
	})

	t.Run("gemini request", func(t *testing.T) {
		req := BuildRequest(EndpointGemini, "https://api.example.com", "gemini-2.0-flash", "key-g", "")
		want := "https://api.example.com/v1beta/models/gemini-2.0-flash:generateContent"
		if req.URL != want {
			t.Fatalf("url = %q, want %q", req.URL, want)
		}
		if req.Headers["x-goog-api-key"] != "key-g" {
			t.Fatalf("x-goog-api-key = %q", req.Headers["x-goog-api-key"])
		}
		if req.Stream {
			t.Fatal("gemini probe is not streaming")
		}
	})

	t.Run("codex request", func(t *testing.T) {
		req := BuildRequest(EndpointCodex, "https://api.example.com", "gpt-5.1", "sk-test", "")
		if req.URL != "https://api.example.com/v1/responses" {
			t.Fatalf("url = %q", req.URL)
		}
		if !strings.Contains(string(req.Body), "input_text") {
			t.Fatal("codex body must use input_text blocks")
		}
	})

	t.Run("image request", func(t *testing.T) {
		req := BuildRequest(EndpointImage, "https://api.example.com", "dall-e-3", "sk-test", "")
		if req.URL != "https://api.example.com/v1/images/generations" {
			t.Fatalf("url = %q", req.URL)
		}
		var body map[string]any
		if err := json.Unmarshal(req.Body, &body); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		if body["size"] != "256x256" || body["n"] != float64(1) {
			t.Fatalf("body = %v", body)
		}
	})
}
