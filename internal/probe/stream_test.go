package probe

import (
	"strings"
	"testing"
)

func TestParseStream(t *testing.T) {
	t.Run("chat deltas concatenated", func(t *testing.T) {
		raw := "data: {\"choices\":[{\"delta\":{\"content\":\"ye\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"s\"}}]}\n\n" +
			"data: [DONE]\n\n"
		result, err := ParseStream(EndpointChat, strings.NewReader(raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if result.Content != "yes" {
			t.Fatalf("content = %q, want %q", result.Content, "yes")
		}
	})

	t.Run("lines after DONE ignored", func(t *testing.T) {
		raw := "data: {\"choices\":[{\"delta\":{\"content\":\"yes\"}}]}\n\n" +
			"data: [DONE]\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"no\"}}]}\n\n"
		result, err := ParseStream(EndpointChat, strings.NewReader(raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if result.Content != "yes" {
			t.Fatalf("content = %q", result.Content)
		}
	})

	t.Run("claude content_block_delta", func(t *testing.T) {
		raw := "data: {\"type\":\"message_start\"}\n\n" +
			"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"ye\"}}\n\n" +
			"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"s\"}}\n\n" +
			"data: {\"type\":\"message_stop\"}\n\n"
		result, err := ParseStream(EndpointClaude, strings.NewReader(raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if result.Content != "yes" {
			t.Fatalf("content = %q", result.Content)
		}
	})

	t.Run("codex done text overrides deltas", func(t *testing.T) {
		raw := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"partial\"}\n\n" +
			"data: {\"type\":\"response.output_text.done\",\"text\":\"final answer\"}\n\n"
		result, err := ParseStream(EndpointCodex, strings.NewReader(raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if result.Content != "final answer" {
			t.Fatalf("content = %q", result.Content)
		}
	})

	t.Run("last event preserved for hidden-error check", func(t *testing.T) {
		raw := "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\n" +
			"data: {\"error\":{\"message\":\"stream broke\"}}\n\n"
		result, err := ParseStream(EndpointChat, strings.NewReader(raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if msg, hit := HiddenError(result.LastEvent); !hit || msg != "stream broke" {
			t.Fatalf("hidden error from last event = %q, %v", msg, hit)
		}
	})

	t.Run("malformed lines skipped", func(t *testing.T) {
		raw := "data: not-json\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n"
		result, err := ParseStream(EndpointChat, strings.NewReader(raw))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		if result.Content != "ok" {
			t.Fatalf("content = %q", result.Content)
		}
	})
}

func TestStripThink(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"closed block removed", "<think>reasoning</think>yes", "yes"},
		{"unclosed trailing block removed", "yes<think>half-done reasoning", "yes"},
		{"multiple blocks removed", "<think>a</think>ye<think>b</think>s", "yes"},
		{"no block untouched", "plain answer", "plain answer"},
		{"all-think keeps original", "<think>only reasoning</think>", "<think>only reasoning</think>"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripThink(tc.in); got != tc.want {
				t.Fatalf("StripThink(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
