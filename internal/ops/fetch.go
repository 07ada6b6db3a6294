package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
	"github.com/hpungsan/scribe/internal/journal"
)

// GetConversationInput contains parameters for the GetConversation
// operation.
type GetConversationInput struct {
	ConversationID string // required
}

// GetConversationOutput contains the result of the GetConversation
// operation.
type GetConversationOutput struct {
	Conversation event.Conversation `json:"conversation"`
	Events       []event.Event      `json:"events"`
}

// GetConversation returns one conversation's aggregate row and its
// events replayed from the journal, which stays authoritative even when
// the index lags. A conversation the journal has but the index does not
// is synthesized from the replay; NotFound means neither side knows the
// id.
func GetConversation(ctx context.Context, database *sql.DB, j *journal.Journal, input GetConversationInput) (*GetConversationOutput, error) {
	id := strings.TrimSpace(input.ConversationID)
	if id == "" {
		return nil, errors.NewInvalidQuery("conversation id is required")
	}
	if !journal.ValidID(id) {
		return nil, errors.NewInvalidQuery("invalid conversation id: " + id)
	}

	conversation, convErr := db.GetConversation(database, id)
	if convErr != nil && !errors.Is(convErr, errors.ErrNotFound) {
		return nil, convErr
	}

	var events []event.Event
	res, readErr := j.ReadFrom(id, 0)
	if readErr != nil && !errors.Is(readErr, errors.ErrNotFound) {
		return nil, readErr
	}
	if readErr == nil {
		events = res.Events
	}

	if conversation == nil && len(events) == 0 {
		return nil, errors.NewNotFound(id)
	}
	if conversation == nil {
		// Journal has it, index does not: synthesize the aggregate
		// from the replay until the next sync catches up.
		conversation = &event.Conversation{
			ID:         id,
			StartedAt:  events[0].TS.UTC().Format(event.TimeLayout),
			EventCount: len(events),
		}
		ended := events[len(events)-1].TS.UTC().Format(event.TimeLayout)
		conversation.EndedAt = &ended
		counts := make(map[string]int)
		for _, ev := range events {
			counts[string(ev.Type)]++
		}
		conversation.TypeCounts = counts
	} else {
		counts, err := db.TypeCounts(database, id)
		if err != nil {
			return nil, err
		}
		conversation.TypeCounts = counts
	}

	return &GetConversationOutput{
		Conversation: *conversation,
		Events:       events,
	}, nil
}
