package ops

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
	"github.com/hpungsan/scribe/internal/journal"
)

// SyncInput contains parameters for the Sync operation.
type SyncInput struct {
	ConversationID string // optional: sync every conversation when empty
}

// SyncOutput contains the result of the Sync operation.
type SyncOutput struct {
	Synced        int `json:"synced"`        // events newly indexed
	Skipped       int `json:"skipped"`       // malformed journal lines skipped
	Conversations int `json:"conversations"` // conversations examined
}

// Sync advances the index to match the journal. Each conversation is
// read from its watermark; new complete lines are upserted as a batch,
// the conversation aggregate is refreshed, and the watermark moves to
// the new offset. Malformed lines are counted, logged, and skipped
// without blocking later events. Re-running is idempotent.
func Sync(ctx context.Context, database *sql.DB, j *journal.Journal, input SyncInput) (*SyncOutput, error) {
	var (
		ids []string
		err error
	)
	if id := strings.TrimSpace(input.ConversationID); id != "" {
		if !journal.ValidID(id) {
			return nil, errors.NewInvalidQuery("invalid conversation id: " + id)
		}
		ids = []string{id}
	} else {
		ids, err = j.ListConversations()
		if err != nil {
			return nil, err
		}
	}

	out := &SyncOutput{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		synced, skipped, err := syncConversation(database, j, id)
		if err != nil {
			// A conversation deleted between listing and reading is
			// not a sync failure.
			if errors.Is(err, errors.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out.Synced += synced
		out.Skipped += skipped
		out.Conversations++
	}
	return out, nil
}

// syncConversation applies one conversation's journal growth to the
// index.
func syncConversation(database *sql.DB, j *journal.Journal, conversationID string) (synced, skipped int, err error) {
	pos, err := db.SyncPosition(database, conversationID)
	if err != nil {
		return 0, 0, err
	}

	res, err := j.ReadFrom(conversationID, pos)
	if err != nil {
		return 0, 0, err
	}
	if res.Malformed > 0 {
		slog.Warn("skipping malformed journal lines",
			"conversation", conversationID, "lines", res.Malformed)
	}

	rows := make([]db.EventRow, 0, len(res.Events))
	for _, ev := range res.Events {
		rows = append(rows, db.EventRow{
			ID:             ev.ID,
			ConversationID: conversationID,
			Type:           string(ev.Type),
			TS:             ev.TS.UTC().Format(event.TimeLayout),
			Depth:          ev.Depth,
			Payload:        ev.Payload,
			Content:        ev.Content,
		})
	}
	if err := db.UpsertEvents(database, rows); err != nil {
		return 0, 0, err
	}
	if len(rows) > 0 {
		if err := db.UpsertConversation(database, conversationID, nil); err != nil {
			return 0, 0, err
		}
	}
	if res.NewOffset != pos {
		if err := db.SetSyncPosition(database, conversationID, res.NewOffset); err != nil {
			return 0, 0, err
		}
	}
	return len(rows), res.Malformed, nil
}
