package db

import (
	"database/sql"
	"strings"
	"time"

	"github.com/hpungsan/scribe/internal/event"
)

// VectorRow pairs an event with its stored embedding blob.
type VectorRow struct {
	EventID string
	Vector  []byte
}

// UpsertEmbedding stores an event's embedding vector. Event content is
// immutable, so an existing vector is only ever replaced by an identical
// recomputation.
func UpsertEmbedding(database *sql.DB, eventID string, vector []byte, model string) error {
	_, err := database.Exec(`
		INSERT OR REPLACE INTO embeddings (event_id, embedding, model, created_at)
		VALUES (?, ?, ?, ?)
	`, eventID, vector, model, time.Now().UTC().Format(event.TimeLayout))
	if err != nil {
		return wrapDB(err)
	}
	return nil
}

// EmbeddedVectors returns the stored vectors for events matching the
// filter. The join drops vectors whose event has left the index.
func EmbeddedVectors(database *sql.DB, f Filter) ([]VectorRow, error) {
	sqlQuery := `
		SELECT em.event_id, em.embedding
		FROM embeddings em
		JOIN events e ON e.id = em.event_id`
	var args []any

	conds, fargs := f.clauses("e.")
	if len(conds) > 0 {
		sqlQuery += " WHERE " + strings.Join(conds, " AND ")
		args = append(args, fargs...)
	}

	rows, err := database.Query(sqlQuery, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []VectorRow
	for rows.Next() {
		var v VectorRow
		if err := rows.Scan(&v.EventID, &v.Vector); err != nil {
			return nil, wrapDB(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

// MissingEmbeddings returns indexed events that have searchable content but
// no vector yet, oldest first so backfill drains in order. A non-positive
// limit returns everything.
func MissingEmbeddings(database *sql.DB, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := database.Query(`
		SELECT e.id, e.conversation_id, e.type, e.ts, e.depth, e.payload, e.content
		FROM events e
		LEFT JOIN embeddings em ON em.event_id = e.id
		WHERE em.event_id IS NULL AND e.content IS NOT NULL AND e.content != ''
		ORDER BY e.ts ASC LIMIT ?`, limit)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}
