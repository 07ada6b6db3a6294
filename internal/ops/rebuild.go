package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/journal"
)

// RebuildOutput contains the result of the Rebuild operation.
type RebuildOutput struct {
	Synced        int `json:"synced"`
	Skipped       int `json:"skipped"`
	Conversations int `json:"conversations"`
}

// Rebuild drops the index projection and replays every journal from
// offset zero. Embeddings are keyed by immutable event content and
// survive the reset, so a rebuild never re-spends embedding calls.
func Rebuild(ctx context.Context, database *sql.DB, j *journal.Journal) (*RebuildOutput, error) {
	if err := db.ResetIndex(database); err != nil {
		return nil, err
	}
	out, err := Sync(ctx, database, j, SyncInput{})
	if err != nil {
		return nil, err
	}
	return &RebuildOutput{
		Synced:        out.Synced,
		Skipped:       out.Skipped,
		Conversations: out.Conversations,
	}, nil
}
