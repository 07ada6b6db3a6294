package event

import (
	"encoding/json"
	"strings"
)

// Payload is the decoded form of an event's raw payload. Exactly one
// concrete type exists per event type, plus UnknownPayload for anything
// that does not decode.
type Payload interface {
	isPayload()
}

// Text is a string field that also accepts the structured block form
// `[{"type":"text","text":...}, ...]`, flattening it to the joined text
// blocks. Prompts arrive in either shape depending on the client.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}

	var parts []string
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			parts = append(parts, str)
			continue
		}
		var block struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(item, &block); err == nil && block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	*t = Text(strings.Join(parts, "\n"))
	return nil
}

// SessionStartPayload accompanies SessionStart events. Source distinguishes
// fresh sessions from compact/clear context resets.
type SessionStartPayload struct {
	Source string `json:"source"`
	Model  string `json:"model"`
	Cwd    string `json:"cwd"`
}

// SessionEndPayload accompanies SessionEnd events.
type SessionEndPayload struct {
	Reason string `json:"reason"`
}

// PromptPayload accompanies UserPromptSubmit events.
type PromptPayload struct {
	Prompt Text `json:"prompt"`
}

// ToolUsePayload accompanies PreToolUse events. ToolInput stays raw because
// its shape is tool-specific; extraction introspects the known keys.
type ToolUsePayload struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

// ToolResultPayload accompanies PostToolUse events. ToolResponse may be an
// object or a bare string depending on the tool.
type ToolResultPayload struct {
	ToolName     string          `json:"tool_name"`
	ToolInput    json.RawMessage `json:"tool_input"`
	ToolResponse json.RawMessage `json:"tool_response"`
}

// NotificationPayload accompanies Notification events.
type NotificationPayload struct {
	Message string `json:"message"`
}

// CompactPayload accompanies PreCompact events.
type CompactPayload struct {
	Trigger string `json:"trigger"`
}

// StopPayload accompanies Stop events. TranscriptPath points at the client
// transcript the paired assistant response is read from.
type StopPayload struct {
	TranscriptPath string `json:"transcript_path"`
}

// SubagentPayload accompanies SubagentStop events.
type SubagentPayload struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// ResponsePayload accompanies AssistantResponse events. Some producers put
// the text under "content" instead of "response"; both are kept.
type ResponsePayload struct {
	Response string `json:"response"`
	Content  string `json:"content"`
}

// UnknownPayload preserves payloads of unrecognized shape or type.
type UnknownPayload struct {
	Raw json.RawMessage
}

func (SessionStartPayload) isPayload() {}
func (SessionEndPayload) isPayload()   {}
func (PromptPayload) isPayload()       {}
func (ToolUsePayload) isPayload()      {}
func (ToolResultPayload) isPayload()   {}
func (NotificationPayload) isPayload() {}
func (CompactPayload) isPayload()      {}
func (StopPayload) isPayload()         {}
func (SubagentPayload) isPayload()     {}
func (ResponsePayload) isPayload()     {}
func (UnknownPayload) isPayload()      {}

// DecodePayload parses raw into the typed payload for t. Payloads that fail
// to decode, and types with no known shape, come back as UnknownPayload so
// callers never lose the raw bytes.
func DecodePayload(t Type, raw json.RawMessage) Payload {
	if len(raw) == 0 {
		return UnknownPayload{}
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case TypeSessionStart:
		var v SessionStartPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeSessionEnd:
		var v SessionEndPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeUserPromptSubmit:
		var v PromptPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypePreToolUse:
		var v ToolUsePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypePostToolUse:
		var v ToolResultPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeNotification:
		var v NotificationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypePreCompact:
		var v CompactPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeStop:
		var v StopPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeSubagentStop:
		var v SubagentPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TypeAssistantResponse:
		var v ResponsePayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return UnknownPayload{Raw: raw}
	}

	if err != nil {
		return UnknownPayload{Raw: raw}
	}
	return p
}
