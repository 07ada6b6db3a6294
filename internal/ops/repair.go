package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/journal"
)

// RepairOutput contains the result of the Repair operation.
type RepairOutput struct {
	Removed   int `json:"removed"`   // projections dropped for missing journals
	Reset     int `json:"reset"`     // projections dropped for shrunken journals
	Refreshed int `json:"refreshed"` // conversation aggregates recomputed
}

// Repair reconciles the index with the journal directory. Projections
// whose journal file disappeared are dropped, watermarks pointing past
// the end of a shrunken file are dropped so the next sync replays that
// conversation from scratch, and every surviving conversation gets its
// aggregate row recomputed. The journal itself is never written.
func Repair(ctx context.Context, database *sql.DB, j *journal.Journal) (*RepairOutput, error) {
	ids, err := j.ListConversations()
	if err != nil {
		return nil, err
	}
	exists := make(map[string]bool, len(ids))
	for _, id := range ids {
		exists[id] = true
	}

	positions, err := db.SyncedConversations(database)
	if err != nil {
		return nil, err
	}

	out := &RepairOutput{}
	for id, pos := range positions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !exists[id] {
			if err := db.DeleteConversationIndex(database, id); err != nil {
				return nil, err
			}
			out.Removed++
			continue
		}
		size, err := j.Size(id)
		if err != nil {
			return nil, err
		}
		if pos > size {
			// The journal shrank under the watermark. Offsets into the
			// rewritten file are meaningless, so drop the projection
			// and let the next sync replay it.
			if err := db.DeleteConversationIndex(database, id); err != nil {
				return nil, err
			}
			out.Reset++
		}
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := db.UpsertConversation(database, id, nil); err != nil {
			return nil, err
		}
		out.Refreshed++
	}
	return out, nil
}
