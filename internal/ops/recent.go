package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/db"
)

// RecentInput contains parameters for the Recent operation.
type RecentInput struct {
	Limit      int      // default 20, capped by config
	EventTypes []string // optional type filter
}

// RecentOutput contains the result of the Recent operation.
type RecentOutput struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`
}

// Recent returns the newest indexed events that carry content, newest
// first, shaped like search results with no relevance evidence.
func Recent(ctx context.Context, database *sql.DB, cfg *config.Config, input RecentInput) (*RecentOutput, error) {
	if err := validateTypes(input.EventTypes); err != nil {
		return nil, err
	}
	limit := clampLimit(input.Limit, DefaultSearchLimit, cfg.SearchMaxLimit)

	rows, err := db.RecentEvents(database, db.Filter{Types: input.EventTypes}, limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, SearchResult{
			EventID:        r.ID,
			ConversationID: r.ConversationID,
			EventType:      r.Type,
			Content:        truncateRunes(r.Content, MaxResultContentChars),
			Timestamp:      r.TS,
			Source:         SourceRecent,
		})
	}
	return &RecentOutput{Results: results, Total: len(results)}, nil
}
