package ops

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
)

func TestAppend_RecordsEvent(t *testing.T) {
	_, j, dir := testSetup(t)

	out, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		ConversationID: "conv-append",
		Type:           "UserPromptSubmit",
		Payload:        json.RawMessage(`{"prompt": "fix the login bug"}`),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if out.ConversationID != "conv-append" {
		t.Errorf("ConversationID = %q, want conv-append", out.ConversationID)
	}
	if len(out.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(out.Events))
	}
	ev := out.Events[0]
	if !strings.HasPrefix(ev.ID, event.IDPrefix) {
		t.Errorf("ID = %q, want %s prefix", ev.ID, event.IDPrefix)
	}
	if ev.Content != "fix the login bug" {
		t.Errorf("Content = %q", ev.Content)
	}
	if ev.TS.IsZero() || ev.TS.Location() != time.UTC {
		t.Errorf("TS = %v, want non-zero UTC", ev.TS)
	}

	res, err := j.ReadFrom("conv-append", 0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].ID != ev.ID {
		t.Errorf("journal events = %+v", res.Events)
	}
}

func TestAppend_GeneratesConversationID(t *testing.T) {
	_, j, dir := testSetup(t)

	out, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		Type:    "SessionStart",
		Payload: json.RawMessage(`{"source": "startup"}`),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if out.ConversationID == "" {
		t.Fatal("ConversationID is empty")
	}
	if len(out.ConversationID) != 36 {
		t.Errorf("ConversationID = %q, want a UUID", out.ConversationID)
	}
	if _, err := os.Stat(j.Path(out.ConversationID)); err != nil {
		t.Errorf("journal file missing: %v", err)
	}
}

func TestAppend_UnknownType(t *testing.T) {
	_, j, dir := testSetup(t)

	_, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		ConversationID: "conv-a",
		Type:           "NotAnEvent",
	})
	if !errors.Is(err, errors.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestAppend_InvalidConversationID(t *testing.T) {
	_, j, dir := testSetup(t)

	_, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		ConversationID: "../escape",
		Type:           "Stop",
	})
	if !errors.Is(err, errors.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestAppend_StopPairsResponse(t *testing.T) {
	_, j, dir := testSetup(t)

	transcriptPath := filepath.Join(t.TempDir(), "client.jsonl")
	lines := []string{
		`{"type":"user","message":{"content":[{"type":"text","text":"question"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"older answer"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit"},{"type":"text","text":"the final answer"}]}}`,
		`{"type":"user","message":{"content":[{"type":"text","text":"thanks"}]}}`,
	}
	if err := os.WriteFile(transcriptPath, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	payload, _ := json.Marshal(map[string]string{"transcript_path": transcriptPath})
	out, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		ConversationID: "conv-stop",
		Type:           "Stop",
		Payload:        payload,
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if len(out.Events) != 2 {
		t.Fatalf("got %d events, want stop plus paired response", len(out.Events))
	}
	if out.Events[0].Type != event.TypeStop {
		t.Errorf("first event = %s, want Stop", out.Events[0].Type)
	}
	paired := out.Events[1]
	if paired.Type != event.TypeAssistantResponse {
		t.Errorf("second event = %s, want AssistantResponse", paired.Type)
	}
	if paired.Content != "the final answer" {
		t.Errorf("paired content = %q", paired.Content)
	}
	if !paired.TS.Equal(out.Events[0].TS) {
		t.Errorf("paired TS = %v, want %v", paired.TS, out.Events[0].TS)
	}

	// Both must be in the journal from one append.
	res, err := j.ReadFrom("conv-stop", 0)
	if err != nil {
		t.Fatalf("ReadFrom failed: %v", err)
	}
	if len(res.Events) != 2 || res.Events[1].Type != event.TypeAssistantResponse {
		t.Errorf("journal events = %+v", res.Events)
	}
}

func TestAppend_StopWithoutTranscript(t *testing.T) {
	_, j, dir := testSetup(t)

	out, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		ConversationID: "conv-stop-bare",
		Type:           "Stop",
		Payload:        json.RawMessage(`{}`),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if len(out.Events) != 1 {
		t.Errorf("got %d events, want 1", len(out.Events))
	}
}

func TestAppend_ExtractsAttachment(t *testing.T) {
	_, j, dir := testSetup(t)

	payload := `{"prompt": [
		{"type": "text", "text": "look at this"},
		{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "aGVsbG8gd29ybGQ="}}
	]}`
	out, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		ConversationID: "conv-img",
		Type:           "UserPromptSubmit",
		Payload:        json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if len(out.Attachments) != 1 {
		t.Fatalf("got %d attachments, want 1", len(out.Attachments))
	}
	ref := out.Attachments[0]
	if ref.Size != int64(len("hello world")) {
		t.Errorf("Size = %d", ref.Size)
	}
	saved := filepath.Join(config.AttachmentsDir(dir), "conv-img", filepath.Base(ref.Path))
	if _, err := os.Stat(saved); err != nil {
		t.Errorf("attachment file missing: %v", err)
	}

	// The stored payload carries the flattened prompt text.
	var m struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal(out.Events[0].Payload, &m); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if m.Prompt != "look at this" {
		t.Errorf("flattened prompt = %q", m.Prompt)
	}
}

func TestAppend_RefreshesReport(t *testing.T) {
	_, j, dir := testSetup(t)

	_, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		ConversationID: "conv-report",
		Type:           "UserPromptSubmit",
		Payload:        json.RawMessage(`{"prompt": "write the report"}`),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reportPath := strings.TrimSuffix(j.Path("conv-report"), ".jsonl") + ".md"
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	if !strings.Contains(string(data), "write the report") {
		t.Errorf("report missing prompt: %q", string(data))
	}
}

func TestAppend_ToolEventSkipsReport(t *testing.T) {
	_, j, dir := testSetup(t)

	_, err := Append(context.Background(), j, config.AttachmentsDir(dir), AppendInput{
		ConversationID: "conv-tool",
		Type:           "PreToolUse",
		Payload:        json.RawMessage(`{"tool_name": "Grep", "tool_input": {"pattern": "x"}}`),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	reportPath := strings.TrimSuffix(j.Path("conv-tool"), ".jsonl") + ".md"
	if _, err := os.Stat(reportPath); !os.IsNotExist(err) {
		t.Errorf("report should not be written for tool events: %v", err)
	}
}
