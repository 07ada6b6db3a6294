package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

func TestExtractContent(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		payload string
		want    string
	}{
		{"prompt", TypeUserPromptSubmit, `{"prompt":"fix the race"}`, "fix the race"},
		{"prompt blocks", TypeUserPromptSubmit, `{"prompt":[{"type":"text","text":"look at this"},{"type":"image","data":"x"}]}`, "look at this"},
		{"response", TypeAssistantResponse, `{"response":"done"}`, "done"},
		{"response content fallback", TypeAssistantResponse, `{"content":"done"}`, "done"},
		{"bash pre", TypePreToolUse, `{"tool_name":"Bash","tool_input":{"command":"go vet ./...","description":"vet"}}`, "Running: go vet ./... (vet)"},
		{"bash pre no desc", TypePreToolUse, `{"tool_name":"Bash","tool_input":{"command":"ls"}}`, "Running: ls"},
		{"read pre", TypePreToolUse, `{"tool_name":"Read","tool_input":{"file_path":"/tmp/a.go"}}`, "Reading file: /tmp/a.go"},
		{"write pre", TypePreToolUse, `{"tool_name":"Write","tool_input":{"file_path":"/tmp/b.go"}}`, "Writing file: /tmp/b.go"},
		{"edit pre", TypePreToolUse, `{"tool_name":"Edit","tool_input":{"file_path":"/tmp/c.go"}}`, "Editing file: /tmp/c.go"},
		{"glob pre", TypePreToolUse, `{"tool_name":"Glob","tool_input":{"pattern":"**/*.go"}}`, "Finding files: **/*.go"},
		{"grep pre", TypePreToolUse, `{"tool_name":"Grep","tool_input":{"pattern":"func main"}}`, "Searching for: func main"},
		{"task description", TypePreToolUse, `{"tool_name":"Task","tool_input":{"description":"triage bug","prompt":"long prompt"}}`, "Spawning agent: triage bug"},
		{"unknown tool", TypePreToolUse, `{"tool_name":"WebFetch","tool_input":{"url":"https://x"}}`, `WebFetch: {"url":"https://x"}`},
		{"bash post short", TypePostToolUse, `{"tool_name":"Bash","tool_response":{"stdout":"ok\n"}}`, "Output: ok\n"},
		{"bash post long", TypePostToolUse, `{"tool_name":"Bash","tool_response":{"stdout":"a\nb\nc\nd\ne"}}`, "Output (5 lines): a..."},
		{"bash post empty", TypePostToolUse, `{"tool_name":"Bash","tool_response":{"stdout":""}}`, "Command completed (no output)"},
		{"bash post string response", TypePostToolUse, `{"tool_name":"Bash","tool_response":"raw text"}`, "Output: raw text"},
		{"read post", TypePostToolUse, `{"tool_name":"Read","tool_response":{}}`, "File read successfully"},
		{"glob post", TypePostToolUse, `{"tool_name":"Glob","tool_response":{"numFiles":7}}`, "Found 7 files"},
		{"glob post no object", TypePostToolUse, `{"tool_name":"Glob","tool_response":"done"}`, "Glob completed"},
		{"grep post", TypePostToolUse, `{"tool_name":"Grep","tool_response":{}}`, "Search completed"},
		{"edit post", TypePostToolUse, `{"tool_name":"Edit","tool_response":{}}`, "Edit completed"},
		{"subagent", TypeSubagentStop, `{"agent_id":"a1","agent_type":"reviewer"}`, "Agent 'reviewer' finished"},
		{"session start", TypeSessionStart, `{"source":"startup","model":"opus"}`, "Session started (startup) - Model: opus"},
		{"session start defaults", TypeSessionStart, `{}`, "Session started (startup) - Model: unknown"},
		{"session end", TypeSessionEnd, `{"reason":"exit"}`, "Session ended"},
		{"stop", TypeStop, `{"transcript_path":"/tmp/t.jsonl"}`, "Assistant finished responding"},
		{"precompact", TypePreCompact, `{"trigger":"auto"}`, "Context compaction starting"},
		{"notification", TypeNotification, `{"message":"waiting for input"}`, "waiting for input"},
		{"notification empty", TypeNotification, `{}`, "Notification"},
		{"unknown type", Type("Mystery"), `{"x":1}`, ""},
	}
	for _, tc := range cases {
		got := ExtractContent(tc.typ, json.RawMessage(tc.payload))
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestExtractContentTaskPromptFallback(t *testing.T) {
	prompt := strings.Repeat("p", 150)
	payload := fmt.Sprintf(`{"tool_name":"Task","tool_input":{"prompt":%q}}`, prompt)

	got := ExtractContent(TypePreToolUse, json.RawMessage(payload))
	want := "Spawning agent: " + strings.Repeat("p", 100)
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractContentBounded(t *testing.T) {
	long := strings.Repeat("x", 3*maxContentChars)
	payload := fmt.Sprintf(`{"response":%q}`, long)

	got := ExtractContent(TypeAssistantResponse, json.RawMessage(payload))
	if len(got) != maxContentChars {
		t.Errorf("content length = %d, want %d", len(got), maxContentChars)
	}
}

func TestExtractContentFirstLineClipped(t *testing.T) {
	first := strings.Repeat("y", 140)
	stdout := first + "\nb\nc\nd"
	payload := fmt.Sprintf(`{"tool_name":"Bash","tool_response":{"stdout":%q}}`, stdout)

	got := ExtractContent(TypePostToolUse, json.RawMessage(payload))
	want := fmt.Sprintf("Output (4 lines): %s...", strings.Repeat("y", 100))
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
