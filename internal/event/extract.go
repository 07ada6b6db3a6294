package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// maxContentChars bounds extracted content so one pathological event cannot
// bloat the index.
const maxContentChars = 2000

// ExtractContent derives the searchable text for an event from its payload.
// Prompts and responses pass through whole; tool events reduce to a short
// human-readable summary. Events carrying nothing readable yield "".
func ExtractContent(t Type, raw json.RawMessage) string {
	return clip(extract(t, raw), maxContentChars)
}

func extract(t Type, raw json.RawMessage) string {
	switch p := DecodePayload(t, raw).(type) {
	case PromptPayload:
		return string(p.Prompt)
	case ResponsePayload:
		if p.Response != "" {
			return p.Response
		}
		return p.Content
	case ToolUsePayload:
		return toolUseContent(p)
	case ToolResultPayload:
		return toolResultContent(p)
	case SubagentPayload:
		return "Agent '" + p.AgentType + "' finished"
	case SessionStartPayload:
		source, model := p.Source, p.Model
		if source == "" {
			source = "startup"
		}
		if model == "" {
			model = "unknown"
		}
		return fmt.Sprintf("Session started (%s) - Model: %s", source, model)
	case SessionEndPayload:
		return "Session ended"
	case StopPayload:
		return "Assistant finished responding"
	case CompactPayload:
		return "Context compaction starting"
	case NotificationPayload:
		if p.Message == "" {
			return "Notification"
		}
		return p.Message
	}
	return ""
}

func toolUseContent(p ToolUsePayload) string {
	name := p.ToolName
	if name == "" {
		name = "Unknown"
	}
	in := decodeObject(p.ToolInput)

	switch name {
	case "Bash":
		s := "Running: " + field(in, "command")
		if desc := field(in, "description"); desc != "" {
			s += " (" + desc + ")"
		}
		return s
	case "Read":
		return "Reading file: " + field(in, "file_path")
	case "Write":
		return "Writing file: " + field(in, "file_path")
	case "Edit":
		return "Editing file: " + field(in, "file_path")
	case "Glob":
		return "Finding files: " + field(in, "pattern")
	case "Grep":
		return "Searching for: " + field(in, "pattern")
	case "Task":
		if v, ok := in["description"]; ok {
			return "Spawning agent: " + anyString(v)
		}
		return "Spawning agent: " + clip(field(in, "prompt"), 100)
	}
	return name + ": " + clip(string(p.ToolInput), 200)
}

func toolResultContent(p ToolResultPayload) string {
	name := p.ToolName
	if name == "" {
		name = "Unknown"
	}
	resp := decodeObject(p.ToolResponse)

	switch name {
	case "Bash":
		stdout := field(resp, "stdout")
		if resp == nil {
			stdout = rawText(p.ToolResponse)
		}
		if stdout != "" {
			lines := strings.Split(strings.TrimSpace(stdout), "\n")
			if len(lines) > 3 {
				return fmt.Sprintf("Output (%d lines): %s...", len(lines), clip(lines[0], 100))
			}
			return "Output: " + clip(stdout, 200)
		}
		return "Command completed (no output)"
	case "Read":
		return "File read successfully"
	case "Glob":
		if resp != nil {
			return fmt.Sprintf("Found %d files", intField(resp, "numFiles"))
		}
		return "Glob completed"
	case "Grep":
		return "Search completed"
	}
	return name + " completed"
}

// decodeObject parses raw as a JSON object, nil for anything else.
func decodeObject(raw json.RawMessage) map[string]any {
	var m map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	return anyString(v)
}

func anyString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func intField(m map[string]any, key string) int {
	if f, ok := m[key].(float64); ok {
		return int(f)
	}
	return 0
}

// rawText unwraps a JSON string, or returns the raw text for anything that
// is not one.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// clip truncates s to at most n characters.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
