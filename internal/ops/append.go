package ops

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
	"github.com/hpungsan/scribe/internal/journal"
	"github.com/hpungsan/scribe/internal/transcript"
)

// AppendInput contains parameters for the Append operation.
type AppendInput struct {
	ConversationID string          // optional: a fresh id is generated when empty
	Type           string          // required event type
	TS             time.Time       // optional: defaults to now
	Payload        json.RawMessage // payload as sent by the producer
}

// AppendOutput contains the result of the Append operation.
type AppendOutput struct {
	ConversationID string             `json:"conversation_id"`
	Events         []event.Event      `json:"events"`
	Attachments    []event.Attachment `json:"attachments,omitempty"`
}

// Append validates and records one event in the conversation journal.
// A Stop event whose payload names a transcript file is paired with a
// derived AssistantResponse so both land in a single journal write, and
// the response becomes searchable even though the producer never sends
// it as an event. Prompt payloads carrying pasted images have them
// extracted to the attachments directory before the write. Lifecycle
// event types additionally refresh the conversation's markdown report.
func Append(ctx context.Context, j *journal.Journal, attachmentsDir string, input AppendInput) (*AppendOutput, error) {
	t := event.Type(strings.TrimSpace(input.Type))
	if !t.Valid() {
		return nil, errors.NewInvalidQuery("unknown event type: " + string(t))
	}

	conversationID := strings.TrimSpace(input.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if !journal.ValidID(conversationID) {
		return nil, errors.NewInvalidQuery("invalid conversation id: " + conversationID)
	}

	ts := input.TS
	if ts.IsZero() {
		ts = time.Now()
	}

	id, err := event.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	payload := input.Payload
	var attachments []event.Attachment
	if t == event.TypeUserPromptSubmit {
		payload, attachments = journal.ExtractAttachments(attachmentsDir, conversationID, id, payload)
	}

	events := []*event.Event{{
		ID:             id,
		Type:           t,
		TS:             ts.UTC(),
		ConversationID: conversationID,
		Payload:        payload,
		Content:        event.ExtractContent(t, payload),
		Attachments:    attachments,
	}}

	if t == event.TypeStop {
		if paired := pairedResponse(conversationID, ts, payload); paired != nil {
			events = append(events, paired)
		}
	}

	if err := j.Append(conversationID, events); err != nil {
		return nil, err
	}

	if transcript.RegenerateOn(t) {
		refreshReport(j, conversationID)
	}

	out := &AppendOutput{
		ConversationID: conversationID,
		Attachments:    attachments,
	}
	for _, ev := range events {
		out.Events = append(out.Events, *ev)
	}
	return out, nil
}

// pairedResponse builds the AssistantResponse event derived from a Stop
// payload's transcript, nil when there is nothing to pair.
func pairedResponse(conversationID string, ts time.Time, payload json.RawMessage) *event.Event {
	stop, ok := event.DecodePayload(event.TypeStop, payload).(event.StopPayload)
	if !ok || strings.TrimSpace(stop.TranscriptPath) == "" {
		return nil
	}
	response := readLastResponse(stop.TranscriptPath)
	if response == "" {
		return nil
	}

	id, err := event.NewID()
	if err != nil {
		return nil
	}
	raw, err := json.Marshal(map[string]string{"response": response})
	if err != nil {
		return nil
	}
	return &event.Event{
		ID:             id,
		Type:           event.TypeAssistantResponse,
		TS:             ts.UTC(),
		ConversationID: conversationID,
		Payload:        raw,
		Content:        event.ExtractContent(event.TypeAssistantResponse, raw),
	}
}

// readLastResponse scans a JSONL transcript from the end and returns the
// text of the most recent assistant message, empty when none is found.
func readLastResponse(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}

	lines := strings.Split(string(data), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var entry struct {
			Type    string `json:"type"`
			Message struct {
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"message"`
		}
		if json.Unmarshal([]byte(line), &entry) != nil || entry.Type != "assistant" {
			continue
		}
		for _, block := range entry.Message.Content {
			if block.Type == "text" && block.Text != "" {
				return block.Text
			}
		}
	}
	return ""
}

// refreshReport rewrites the conversation's markdown report next to its
// journal file. Report generation is best effort: a failure here must
// never fail the append that triggered it.
func refreshReport(j *journal.Journal, conversationID string) {
	res, err := j.ReadFrom(conversationID, 0)
	if err != nil || len(res.Events) == 0 {
		return
	}
	md := transcript.Markdown(conversationID, res.Events)
	path := strings.TrimSuffix(j.Path(conversationID), ".jsonl") + ".md"
	_ = os.WriteFile(path, []byte(md), 0o644)
}
