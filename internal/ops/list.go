package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/event"
)

// ListInput contains parameters for the ListConversations operation.
type ListInput struct {
	Limit    int    // default 50, max 200
	Offset   int    // default 0
	DateFrom string // optional lower bound on started_at
	DateTo   string // optional upper bound on started_at
}

// ListOutput contains the result of the ListConversations operation.
type ListOutput struct {
	Conversations []event.Conversation `json:"conversations"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

// ListConversations returns conversation aggregates newest first, each
// carrying its per-type event counts.
func ListConversations(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	from, err := normalizeDate(input.DateFrom, false)
	if err != nil {
		return nil, err
	}
	to, err := normalizeDate(input.DateTo, true)
	if err != nil {
		return nil, err
	}
	limit := clampLimit(input.Limit, DefaultListLimit, MaxListLimit)
	offset := max(input.Offset, 0)

	conversations, err := db.ListConversations(database, limit, offset, from, to)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(conversations))
	for _, c := range conversations {
		ids = append(ids, c.ID)
	}
	counts, err := db.TypeCountsBatch(database, ids)
	if err != nil {
		return nil, err
	}
	for i := range conversations {
		conversations[i].TypeCounts = counts[conversations[i].ID]
	}

	if conversations == nil {
		conversations = []event.Conversation{}
	}
	return &ListOutput{
		Conversations: conversations,
		Limit:         limit,
		Offset:        offset,
	}, nil
}
