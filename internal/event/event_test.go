package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTypeValid(t *testing.T) {
	for _, typ := range Types() {
		if !typ.Valid() {
			t.Errorf("Valid() = false for %s", typ)
		}
	}
	if Type("Bogus").Valid() {
		t.Error("Valid() = true for unknown type")
	}
	if Type("").Valid() {
		t.Error("Valid() = true for empty type")
	}
}

func TestEventRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	ev := Event{
		ID:             "evt_01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Type:           TypeUserPromptSubmit,
		TS:             ts,
		ConversationID: "conv-1",
		Depth:          2,
		Payload:        json.RawMessage(`{"prompt":"hello"}`),
		Content:        "hello",
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != ev.ID || got.Type != ev.Type || !got.TS.Equal(ts) ||
		got.ConversationID != ev.ConversationID || got.Depth != ev.Depth ||
		got.Content != ev.Content {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if string(got.Payload) != string(ev.Payload) {
		t.Errorf("payload mismatch: got %s, want %s", got.Payload, ev.Payload)
	}
}

// Sub-second timestamps must keep their fixed width when encoded, otherwise
// "...53.12Z" would sort before "...53.1Z".
func TestEncodedTimestampsSortLexically(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 26, 53, 100_000_000, time.UTC)
	later := base.Add(20 * time.Millisecond)

	tsA := encodedTS(t, Event{Type: TypeStop, TS: base})
	tsB := encodedTS(t, Event{Type: TypeStop, TS: later})
	if tsA >= tsB {
		t.Errorf("timestamps do not sort lexically: %q >= %q", tsA, tsB)
	}
}

func encodedTS(t *testing.T, ev Event) string {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	s, _ := m["ts"].(string)
	return s
}

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		if !strings.HasPrefix(id, IDPrefix) {
			t.Errorf("missing prefix: %s", id)
		}
		if len(id) != len(IDPrefix)+26 {
			t.Errorf("unexpected length %d for %s", len(id), id)
		}
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestDecodePayload(t *testing.T) {
	p := DecodePayload(TypeSessionStart, json.RawMessage(`{"source":"compact","model":"m1","cwd":"/w"}`))
	start, ok := p.(SessionStartPayload)
	if !ok {
		t.Fatalf("got %T, want SessionStartPayload", p)
	}
	if start.Source != "compact" || start.Model != "m1" || start.Cwd != "/w" {
		t.Errorf("unexpected payload: %+v", start)
	}

	p = DecodePayload(TypePreToolUse, json.RawMessage(`{"tool_name":"Bash","tool_input":{"command":"ls"}}`))
	use, ok := p.(ToolUsePayload)
	if !ok {
		t.Fatalf("got %T, want ToolUsePayload", p)
	}
	if use.ToolName != "Bash" {
		t.Errorf("ToolName = %q, want Bash", use.ToolName)
	}

	p = DecodePayload(Type("Mystery"), json.RawMessage(`{"a":1}`))
	if _, ok := p.(UnknownPayload); !ok {
		t.Errorf("got %T for unknown type, want UnknownPayload", p)
	}

	p = DecodePayload(TypeUserPromptSubmit, json.RawMessage(`{"prompt":42}`))
	if _, ok := p.(UnknownPayload); !ok {
		t.Errorf("got %T for malformed prompt, want UnknownPayload", p)
	}

	p = DecodePayload(TypeStop, nil)
	if _, ok := p.(UnknownPayload); !ok {
		t.Errorf("got %T for empty payload, want UnknownPayload", p)
	}
}

func TestTextAcceptsBlocks(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain string", `"hello"`, "hello"},
		{"text blocks", `[{"type":"text","text":"one"},{"type":"image","source":{}},{"type":"text","text":"two"}]`, "one\ntwo"},
		{"bare strings", `["a","b"]`, "a\nb"},
	}
	for _, tc := range cases {
		var got Text
		if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
