package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/scribe/internal/db"
)

// StatsOutput contains the result of the Stats operation.
type StatsOutput struct {
	Conversations     int            `json:"conversations"`
	Events            int            `json:"events"`
	EventsByType      map[string]int `json:"events_by_type"`
	EmbeddedEvents    int            `json:"embedded_events"`
	FirstConversation string         `json:"first_conversation,omitempty"`
	LastConversation  string         `json:"last_conversation,omitempty"`
}

// Stats summarizes the index: totals, per-type counts, embedding
// coverage, and the time span of recorded conversations.
func Stats(ctx context.Context, database *sql.DB) (*StatsOutput, error) {
	row, err := db.Stats(database)
	if err != nil {
		return nil, err
	}
	byType, err := db.TypeCounts(database, "")
	if err != nil {
		return nil, err
	}
	return &StatsOutput{
		Conversations:     row.Conversations,
		Events:            row.Events,
		EventsByType:      byType,
		EmbeddedEvents:    row.EmbeddedEvents,
		FirstConversation: row.FirstConversation,
		LastConversation:  row.LastConversation,
	}, nil
}
