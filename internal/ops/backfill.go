package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/embed"
)

// Backfill limits
const (
	DefaultBackfillLimit = 1000
	DefaultBackfillBatch = 32
)

// BackfillInput contains parameters for the Backfill operation.
type BackfillInput struct {
	Limit     int // max events to scan, default 1000
	BatchSize int // events per embedding request, default 32
}

// BackfillOutput contains the result of the Backfill operation.
type BackfillOutput struct {
	Scanned  int `json:"scanned"`  // events missing a vector that were picked up
	Embedded int `json:"embedded"` // vectors stored this run
}

// Backfill embeds indexed events that have content but no stored
// vector yet, oldest first, using the bounded worker pool. With
// embeddings disabled it reports zero work instead of failing, so
// schedulers can call it unconditionally.
func Backfill(ctx context.Context, database *sql.DB, embedder embed.Embedder, pool *embed.Pool, cfg *config.Config, input BackfillInput) (*BackfillOutput, error) {
	if embedder == nil {
		return &BackfillOutput{}, nil
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	batch := input.BatchSize
	if batch <= 0 {
		batch = DefaultBackfillBatch
	}

	rows, err := db.MissingEmbeddings(database, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &BackfillOutput{}, nil
	}

	items := make([]embed.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, embed.Item{ID: r.ID, Content: r.Content})
	}

	stored, err := pool.Run(ctx, embedder, items, batch, func(eventID string, vector []byte) error {
		return db.UpsertEmbedding(database, eventID, vector, cfg.EmbeddingModel)
	})
	if err != nil {
		return nil, err
	}

	return &BackfillOutput{Scanned: len(items), Embedded: stored}, nil
}
