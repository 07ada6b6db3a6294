// Package event defines the journal's event model: the fixed type enum, the
// wire format for journal lines, the tagged payload union, and the content
// extraction rules that make events searchable.
package event

import (
	"encoding/json"
	"time"
)

// Type identifies the kind of interaction an event records.
type Type string

const (
	TypeSessionStart      Type = "SessionStart"
	TypeSessionEnd        Type = "SessionEnd"
	TypeUserPromptSubmit  Type = "UserPromptSubmit"
	TypePreToolUse        Type = "PreToolUse"
	TypePostToolUse       Type = "PostToolUse"
	TypeNotification      Type = "Notification"
	TypePreCompact        Type = "PreCompact"
	TypeStop              Type = "Stop"
	TypeSubagentStop      Type = "SubagentStop"
	TypeAssistantResponse Type = "AssistantResponse"
)

// Types returns every known event type in a stable order.
func Types() []Type {
	return []Type{
		TypeSessionStart,
		TypeSessionEnd,
		TypeUserPromptSubmit,
		TypePreToolUse,
		TypePostToolUse,
		TypeNotification,
		TypePreCompact,
		TypeStop,
		TypeSubagentStop,
		TypeAssistantResponse,
	}
}

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeSessionStart, TypeSessionEnd, TypeUserPromptSubmit,
		TypePreToolUse, TypePostToolUse, TypeNotification,
		TypePreCompact, TypeStop, TypeSubagentStop, TypeAssistantResponse:
		return true
	}
	return false
}

// TimeLayout is RFC 3339 with fixed microsecond precision so that encoded
// timestamps sort lexically the same way they sort chronologically.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Event is one immutable journal record. Created once by the logger and
// never mutated; the index holds a rebuildable projection of it.
type Event struct {
	// ID uniquely identifies the event ("evt_" + ULID).
	ID string

	// Type is the event kind.
	Type Type

	// TS is the commit timestamp, UTC.
	TS time.Time

	// ConversationID names the journal this event belongs to.
	ConversationID string

	// Depth is the context-reset ordinal within the conversation. It counts
	// how many compact/clear resets preceded this event, derived from the
	// journal itself rather than tracked state.
	Depth int

	// Payload carries the raw structured event data. Unknown fields survive
	// round-trips; DecodePayload exposes the known shapes.
	Payload json.RawMessage

	// Content is the extracted searchable text, empty for events with
	// nothing human-readable.
	Content string

	// Attachments references files extracted from the payload, if any.
	Attachments []Attachment
}

// Attachment references a file or URL extracted from an event payload,
// typically an image pasted into a prompt.
type Attachment struct {
	Path      string `json:"path,omitempty"`
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Size      int64  `json:"size,omitempty"`
	Index     int    `json:"index"`
}

// eventJSON is the journal line wire format.
type eventJSON struct {
	ID             string          `json:"id"`
	Type           Type            `json:"type"`
	TS             string          `json:"ts"`
	ConversationID string          `json:"conversation_id"`
	Depth          int             `json:"nesting_depth"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Content        string          `json:"content,omitempty"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
}

// MarshalJSON encodes the event as one journal record with a fixed-width,
// lexically sortable timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		ID:             e.ID,
		Type:           e.Type,
		TS:             e.TS.UTC().Format(TimeLayout),
		ConversationID: e.ConversationID,
		Depth:          e.Depth,
		Payload:        e.Payload,
		Content:        e.Content,
		Attachments:    e.Attachments,
	})
}

// UnmarshalJSON decodes a journal record. Timestamps are accepted in any
// RFC 3339 precision.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339Nano, w.TS)
	if err != nil {
		return err
	}

	e.ID = w.ID
	e.Type = w.Type
	e.TS = ts.UTC()
	e.ConversationID = w.ConversationID
	e.Depth = w.Depth
	e.Payload = w.Payload
	e.Content = w.Content
	e.Attachments = w.Attachments
	return nil
}

// Conversation is the derived per-conversation aggregate. The index copy is
// a cache; replaying the journal reproduces it exactly.
type Conversation struct {
	ID         string         `json:"id"`
	StartedAt  string         `json:"started_at"`
	EndedAt    *string        `json:"ended_at"`
	WorkingDir *string        `json:"working_dir"`
	Summary    *string        `json:"summary"`
	EventCount int            `json:"event_count"`
	TypeCounts map[string]int `json:"event_type_counts,omitempty"`
}
