package db

import (
	"database/sql"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
)

// EventRow is one indexed event as stored in the events table. Timestamps
// keep their sortable string form so rows can flow into responses without
// reparsing.
type EventRow struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Type           string          `json:"type"`
	TS             string          `json:"ts"`
	Depth          int             `json:"nesting_depth"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Content        string          `json:"content,omitempty"`
}

// SearchHit is one keyword match. Score is the absolute BM25 relevance,
// higher is better.
type SearchHit struct {
	EventRow
	Score float64
}

// Filter narrows event queries. Zero-valued fields are ignored.
type Filter struct {
	ConversationID string
	Types          []string
	From           string // inclusive lower bound on ts
	To             string // inclusive upper bound on ts
}

// clauses renders the filter as SQL conditions against the aliased events
// table.
func (f Filter) clauses(alias string) ([]string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ConversationID != "" {
		conds = append(conds, alias+"conversation_id = ?")
		args = append(args, f.ConversationID)
	}
	if len(f.Types) > 0 {
		ph := strings.TrimSuffix(strings.Repeat("?,", len(f.Types)), ",")
		conds = append(conds, alias+"type IN ("+ph+")")
		for _, t := range f.Types {
			args = append(args, t)
		}
	}
	if f.From != "" {
		conds = append(conds, alias+"ts >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		conds = append(conds, alias+"ts <= ?")
		args = append(args, f.To)
	}
	return conds, args
}

// UpsertEvents writes a batch of events into the index inside one
// transaction. The FTS row is deleted before re-insert because fts5 tables
// have no primary key, which keeps re-syncs after a watermark reset
// idempotent.
func UpsertEvents(database *sql.DB, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := database.Begin()
	if err != nil {
		return wrapDB(err)
	}
	defer tx.Rollback()

	for _, r := range rows {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO events
			(id, conversation_id, type, ts, depth, payload, content)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.ConversationID, r.Type, r.TS, r.Depth,
			toNullString(stringPtr(string(r.Payload))), toNullString(stringPtr(r.Content)))
		if err != nil {
			return wrapDB(err)
		}

		if r.Content == "" {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM events_fts WHERE event_id = ?`, r.ID); err != nil {
			return wrapDB(err)
		}
		_, err = tx.Exec(`
			INSERT INTO events_fts (event_id, conversation_id, type, content)
			VALUES (?, ?, ?, ?)
		`, r.ID, r.ConversationID, r.Type, r.Content)
		if err != nil {
			return wrapDB(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapDB(err)
	}
	return nil
}

// SyncPosition returns the journal byte offset a conversation has been
// indexed up to, zero for conversations never synced.
func SyncPosition(database *sql.DB, conversationID string) (int64, error) {
	var pos int64
	err := database.QueryRow(
		`SELECT last_position FROM sync_state WHERE conversation_id = ?`,
		conversationID,
	).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, wrapDB(err)
	}
	return pos, nil
}

// SetSyncPosition records the indexed-up-to watermark for a conversation.
func SetSyncPosition(database *sql.DB, conversationID string, position int64) error {
	_, err := database.Exec(`
		INSERT INTO sync_state (conversation_id, last_position, last_sync)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			last_position = excluded.last_position,
			last_sync = excluded.last_sync
	`, conversationID, position, time.Now().UTC().Format(event.TimeLayout))
	if err != nil {
		return wrapDB(err)
	}
	return nil
}

// SyncedConversations returns every conversation with a sync watermark,
// mapped to its last position.
func SyncedConversations(database *sql.DB) (map[string]int64, error) {
	rows, err := database.Query(`SELECT conversation_id, last_position FROM sync_state`)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id  string
			pos int64
		)
		if err := rows.Scan(&id, &pos); err != nil {
			return nil, wrapDB(err)
		}
		out[id] = pos
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

// UpsertConversation refreshes a conversation's aggregate row from its
// indexed events. The working directory comes from the hint when the caller
// saw one, otherwise from the first SessionStart payload. The summary
// column is left alone so a refresh never wipes it.
func UpsertConversation(database *sql.DB, conversationID string, workingDirHint *string) error {
	var (
		started sql.NullString
		ended   sql.NullString
		count   int
	)
	err := database.QueryRow(`
		SELECT MIN(ts), MAX(ts), COUNT(*) FROM events WHERE conversation_id = ?
	`, conversationID).Scan(&started, &ended, &count)
	if err != nil {
		return wrapDB(err)
	}
	if !started.Valid {
		// Nothing indexed for this conversation yet.
		return nil
	}

	workingDir := workingDirHint
	if workingDir == nil {
		workingDir = sessionStartCwd(database, conversationID)
	}

	_, err = database.Exec(`
		INSERT INTO conversations (id, started_at, ended_at, working_dir, event_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			working_dir = COALESCE(excluded.working_dir, conversations.working_dir),
			event_count = excluded.event_count
	`, conversationID, started.String, ended.String, toNullString(workingDir), count)
	if err != nil {
		return wrapDB(err)
	}
	return nil
}

// sessionStartCwd pulls the working directory out of a conversation's first
// SessionStart payload, nil when there is none.
func sessionStartCwd(database *sql.DB, conversationID string) *string {
	var payload sql.NullString
	err := database.QueryRow(`
		SELECT payload FROM events
		WHERE conversation_id = ? AND type = 'SessionStart'
		ORDER BY ts ASC LIMIT 1
	`, conversationID).Scan(&payload)
	if err != nil || !payload.Valid {
		return nil
	}

	var m struct {
		Cwd string `json:"cwd"`
	}
	if json.Unmarshal([]byte(payload.String), &m) != nil || m.Cwd == "" {
		return nil
	}
	return &m.Cwd
}

// EscapeMatch converts free text into a safe FTS5 MATCH expression. Each
// whitespace-separated term becomes a quoted phrase, implicitly ANDed, so
// user input is never parsed as query syntax.
func EscapeMatch(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// SearchKeyword runs a full-text query over indexed content and returns the
// best matches first. BM25 scores come back negated from SQLite; they are
// flipped to positive so higher means more relevant.
func SearchKeyword(database *sql.DB, query string, f Filter, limit int) ([]SearchHit, error) {
	match := EscapeMatch(query)
	if match == "" {
		return nil, nil
	}

	sqlQuery := `
		SELECT e.id, e.conversation_id, e.type, e.ts, e.depth, e.payload, e.content,
			bm25(events_fts) AS score
		FROM events_fts
		JOIN events e ON e.id = events_fts.event_id
		WHERE events_fts MATCH ?`
	args := []any{match}

	conds, fargs := f.clauses("e.")
	if len(conds) > 0 {
		sqlQuery += " AND " + strings.Join(conds, " AND ")
		args = append(args, fargs...)
	}
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := database.Query(sqlQuery, args...)
	if err != nil {
		if isMatchSyntaxError(err) {
			return nil, errors.NewInvalidQuery("unsupported search query")
		}
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var (
			h       SearchHit
			payload sql.NullString
			content sql.NullString
			score   float64
		)
		if err := rows.Scan(&h.ID, &h.ConversationID, &h.Type, &h.TS, &h.Depth,
			&payload, &content, &score); err != nil {
			return nil, wrapDB(err)
		}
		if payload.Valid {
			h.Payload = json.RawMessage(payload.String)
		}
		h.Content = content.String
		h.Score = math.Abs(score)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return hits, nil
}

// RecentEvents returns the newest indexed events that carry content,
// newest first. Ties on the timestamp fall back to the event id so the
// order is total.
func RecentEvents(database *sql.DB, f Filter, limit int) ([]EventRow, error) {
	sqlQuery := `
		SELECT e.id, e.conversation_id, e.type, e.ts, e.depth, e.payload, e.content
		FROM events e
		WHERE e.content != ''`
	var args []any

	conds, fargs := f.clauses("e.")
	if len(conds) > 0 {
		sqlQuery += " AND " + strings.Join(conds, " AND ")
		args = append(args, fargs...)
	}
	sqlQuery += " ORDER BY e.ts DESC, e.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := database.Query(sqlQuery, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()
	return scanEventRows(rows)
}

// EventsByIDs fetches indexed events keyed by id. Missing ids are simply
// absent from the result.
func EventsByIDs(database *sql.DB, ids []string) (map[string]EventRow, error) {
	if len(ids) == 0 {
		return map[string]EventRow{}, nil
	}

	ph := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := database.Query(`
		SELECT e.id, e.conversation_id, e.type, e.ts, e.depth, e.payload, e.content
		FROM events e WHERE e.id IN (`+ph+`)`, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	list, err := scanEventRows(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]EventRow, len(list))
	for _, r := range list {
		out[r.ID] = r
	}
	return out, nil
}

func scanEventRows(rows *sql.Rows) ([]EventRow, error) {
	var out []EventRow
	for rows.Next() {
		var (
			r       EventRow
			payload sql.NullString
			content sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ConversationID, &r.Type, &r.TS, &r.Depth,
			&payload, &content); err != nil {
			return nil, wrapDB(err)
		}
		if payload.Valid {
			r.Payload = json.RawMessage(payload.String)
		}
		r.Content = content.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

// ListConversations returns conversation aggregates newest first, with
// optional inclusive bounds on started_at.
func ListConversations(database *sql.DB, limit, offset int, from, to string) ([]event.Conversation, error) {
	sqlQuery := `
		SELECT id, started_at, ended_at, working_dir, summary, event_count
		FROM conversations`
	var (
		conds []string
		args  []any
	)
	if from != "" {
		conds = append(conds, "started_at >= ?")
		args = append(args, from)
	}
	if to != "" {
		conds = append(conds, "started_at <= ?")
		args = append(args, to)
	}
	if len(conds) > 0 {
		sqlQuery += " WHERE " + strings.Join(conds, " AND ")
	}
	sqlQuery += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := database.Query(sqlQuery, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []event.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

// GetConversation returns one conversation aggregate.
func GetConversation(database *sql.DB, id string) (*event.Conversation, error) {
	rows, err := database.Query(`
		SELECT id, started_at, ended_at, working_dir, summary, event_count
		FROM conversations WHERE id = ?`, id)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapDB(err)
		}
		return nil, errors.NewNotFound(id)
	}
	return scanConversation(rows)
}

func scanConversation(rows *sql.Rows) (*event.Conversation, error) {
	var (
		c          event.Conversation
		endedAt    sql.NullString
		workingDir sql.NullString
		summary    sql.NullString
	)
	if err := rows.Scan(&c.ID, &c.StartedAt, &endedAt, &workingDir, &summary,
		&c.EventCount); err != nil {
		return nil, wrapDB(err)
	}
	c.EndedAt = fromNullString(endedAt)
	c.WorkingDir = fromNullString(workingDir)
	c.Summary = fromNullString(summary)
	return &c, nil
}

// TypeCounts returns per-type event counts for one conversation, or for
// the whole index when conversationID is empty.
func TypeCounts(database *sql.DB, conversationID string) (map[string]int, error) {
	sqlQuery := `SELECT type, COUNT(*) FROM events`
	var args []any
	if conversationID != "" {
		sqlQuery += ` WHERE conversation_id = ?`
		args = append(args, conversationID)
	}
	sqlQuery += ` GROUP BY type`

	rows, err := database.Query(sqlQuery, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			typ   string
			count int
		)
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, wrapDB(err)
		}
		out[typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

// TypeCountsBatch returns per-type event counts for many conversations in
// one query.
func TypeCountsBatch(database *sql.DB, conversationIDs []string) (map[string]map[string]int, error) {
	if len(conversationIDs) == 0 {
		return map[string]map[string]int{}, nil
	}

	ph := strings.TrimSuffix(strings.Repeat("?,", len(conversationIDs)), ",")
	args := make([]any, len(conversationIDs))
	for i, id := range conversationIDs {
		args[i] = id
	}

	rows, err := database.Query(`
		SELECT conversation_id, type, COUNT(*) FROM events
		WHERE conversation_id IN (`+ph+`)
		GROUP BY conversation_id, type`, args...)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	out := make(map[string]map[string]int)
	for rows.Next() {
		var (
			conv  string
			typ   string
			count int
		)
		if err := rows.Scan(&conv, &typ, &count); err != nil {
			return nil, wrapDB(err)
		}
		if out[conv] == nil {
			out[conv] = make(map[string]int)
		}
		out[conv][typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

// StatsRow is the index-wide summary.
type StatsRow struct {
	Conversations     int    `json:"conversations"`
	Events            int    `json:"events"`
	EmbeddedEvents    int    `json:"embedded_events"`
	FirstConversation string `json:"first_conversation,omitempty"`
	LastConversation  string `json:"last_conversation,omitempty"`
}

// Stats aggregates the index-wide counters.
func Stats(database *sql.DB) (*StatsRow, error) {
	var (
		s     StatsRow
		first sql.NullString
		last  sql.NullString
	)
	err := database.QueryRow(`
		SELECT COUNT(*), MIN(started_at), MAX(started_at) FROM conversations
	`).Scan(&s.Conversations, &first, &last)
	if err != nil {
		return nil, wrapDB(err)
	}
	s.FirstConversation = first.String
	s.LastConversation = last.String

	if err := database.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&s.Events); err != nil {
		return nil, wrapDB(err)
	}
	if err := database.QueryRow(`SELECT COUNT(*) FROM embeddings`).Scan(&s.EmbeddedEvents); err != nil {
		return nil, wrapDB(err)
	}
	return &s, nil
}

// SuggestContents returns distinct indexed contents starting with prefix,
// for query autocompletion.
func SuggestContents(database *sql.DB, prefix string, limit int) ([]string, error) {
	esc := likeEscape(prefix) + "%"
	rows, err := database.Query(`
		SELECT DISTINCT content FROM events
		WHERE content LIKE ? ESCAPE '\'
		ORDER BY content LIMIT ?`, esc, limit)
	if err != nil {
		return nil, wrapDB(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, wrapDB(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err)
	}
	return out, nil
}

// ResetIndex clears every projected table while keeping embeddings, which
// are pure functions of immutable event content and survive rebuilds.
func ResetIndex(database *sql.DB) error {
	tx, err := database.Begin()
	if err != nil {
		return wrapDB(err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM events_fts`,
		`DELETE FROM events`,
		`DELETE FROM conversations`,
		`DELETE FROM sync_state`,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return wrapDB(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapDB(err)
	}
	return nil
}

// DeleteConversationIndex removes one conversation's projection so it can
// be re-synced from scratch. The journal file and embeddings are untouched.
func DeleteConversationIndex(database *sql.DB, conversationID string) error {
	tx, err := database.Begin()
	if err != nil {
		return wrapDB(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM events_fts WHERE event_id IN
		(SELECT id FROM events WHERE conversation_id = ?)`, conversationID); err != nil {
		return wrapDB(err)
	}
	for _, stmt := range []string{
		`DELETE FROM events WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
		`DELETE FROM sync_state WHERE conversation_id = ?`,
	} {
		if _, err := tx.Exec(stmt, conversationID); err != nil {
			return wrapDB(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapDB(err)
	}
	return nil
}

// wrapDB maps driver errors onto the API error taxonomy. Lock contention is
// reported as the index being temporarily unavailable; everything else is
// internal.
func wrapDB(err error) error {
	if isBusyError(err) {
		return errors.NewIndexUnavailable(err)
	}
	return errors.NewInternal(err)
}

// isBusyError checks if the error is SQLite lock contention.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// isMatchSyntaxError checks if the error came from FTS5 rejecting the MATCH
// expression.
func isMatchSyntaxError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "unknown special query")
}

// likeEscape escapes LIKE wildcards in a literal prefix.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// stringPtr converts a string to *string, mapping "" to nil.
func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
