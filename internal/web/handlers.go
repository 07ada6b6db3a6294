package web

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/embed"
	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/journal"
	"github.com/hpungsan/scribe/internal/ops"
	"github.com/hpungsan/scribe/internal/stream"
)

// maxEventBody bounds append request bodies. Prompt payloads can carry
// base64-encoded pasted images.
const maxEventBody = 10 << 20

// streamPingInterval is the SSE heartbeat period, keeping idle
// connections alive through proxies.
const streamPingInterval = 15 * time.Second

// allowedAttachmentExts are the only attachment types the extractor
// writes, and the only ones served back.
var allowedAttachmentExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// Handlers contains the HTTP route handlers for the JSON API.
type Handlers struct {
	db             *sql.DB
	journal        *journal.Journal
	embedder       embed.Embedder // nil when embeddings are disabled
	broker         *stream.Broker
	cfg            *config.Config
	attachmentsDir string
	version        string
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
	})
}

// appendRequest is the POST /api/events body. session_id and data are
// accepted as aliases for conversation_id and payload so hook output can
// be relayed verbatim.
type appendRequest struct {
	ConversationID string          `json:"conversation_id"`
	SessionID      string          `json:"session_id"`
	Type           string          `json:"type"`
	TS             string          `json:"ts"`
	Payload        json.RawMessage `json:"payload"`
	Data           json.RawMessage `json:"data"`
}

// HandleAppend handles POST /api/events — record one event in the journal.
func (h *Handlers) HandleAppend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBody)

	var req appendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, errors.NewInvalidQuery("request body must be valid JSON"))
		return
	}

	input := ops.AppendInput{
		ConversationID: req.ConversationID,
		Type:           req.Type,
		Payload:        req.Payload,
	}
	if input.ConversationID == "" {
		input.ConversationID = req.SessionID
	}
	if len(input.Payload) == 0 {
		input.Payload = req.Data
	}
	if req.TS != "" {
		ts, err := time.Parse(time.RFC3339Nano, req.TS)
		if err != nil {
			renderError(w, errors.NewInvalidQuery("ts must be an RFC3339 timestamp"))
			return
		}
		input.TS = ts
	}

	out, err := ops.Append(r.Context(), h.journal, h.attachmentsDir, input)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// searchRequest is the POST /api/search body.
type searchRequest struct {
	Query       string   `json:"query"`
	Limit       int      `json:"limit"`
	EventTypes  []string `json:"event_types"`
	DateFrom    string   `json:"date_from"`
	DateTo      string   `json:"date_to"`
	UseSemantic bool     `json:"use_semantic"`
	ScoreMode   string   `json:"score_mode"`
}

// HandleSearch handles POST /api/search — hybrid search over indexed
// events. New journal bytes are synced first so results are read-through
// fresh.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, errors.NewInvalidQuery("request body must be valid JSON"))
		return
	}

	if _, err := ops.Sync(r.Context(), h.db, h.journal, ops.SyncInput{}); err != nil {
		renderError(w, err)
		return
	}

	out, err := ops.Search(r.Context(), h.db, h.embedder, h.cfg, ops.SearchInput{
		Query:       req.Query,
		Limit:       req.Limit,
		EventTypes:  req.EventTypes,
		DateFrom:    req.DateFrom,
		DateTo:      req.DateTo,
		UseSemantic: req.UseSemantic,
		ScoreMode:   req.ScoreMode,
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleRecent handles GET /api/events/recent — newest indexed events,
// synced first like search.
func (h *Handlers) HandleRecent(w http.ResponseWriter, r *http.Request) {
	if _, err := ops.Sync(r.Context(), h.db, h.journal, ops.SyncInput{}); err != nil {
		renderError(w, err)
		return
	}

	out, err := ops.Recent(r.Context(), h.db, h.cfg, ops.RecentInput{
		Limit:      parseIntParam(r, "limit", 0),
		EventTypes: parseCSVParam(r, "event_types"),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleConversations handles GET /api/conversations — paginated
// conversation listing.
func (h *Handlers) HandleConversations(w http.ResponseWriter, r *http.Request) {
	out, err := ops.ListConversations(r.Context(), h.db, ops.ListInput{
		Limit:    parseIntParam(r, "limit", 0),
		Offset:   parseIntParam(r, "offset", 0),
		DateFrom: r.URL.Query().Get("date_from"),
		DateTo:   r.URL.Query().Get("date_to"),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleConversation handles GET /api/conversations/{id} — one
// conversation with its events replayed from the journal.
func (h *Handlers) HandleConversation(w http.ResponseWriter, r *http.Request) {
	out, err := ops.GetConversation(r.Context(), h.db, h.journal, ops.GetConversationInput{
		ConversationID: r.PathValue("id"),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleTranscript handles GET /api/conversations/{id}/transcript — the
// rendered transcript, served raw in the requested format rather than
// wrapped in JSON.
func (h *Handlers) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Transcript(r.Context(), h.journal, ops.TranscriptInput{
		ConversationID: r.PathValue("id"),
		Format:         r.URL.Query().Get("format"),
	})
	if err != nil {
		renderError(w, err)
		return
	}

	contentType := "text/markdown; charset=utf-8"
	if out.Format == ops.FormatHTML {
		contentType = "text/html; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out.Content))
}

// HandleSuggest handles GET /api/suggest — typeahead completions.
func (h *Handlers) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Suggest(r.Context(), h.db, ops.SuggestInput{
		Prefix: r.URL.Query().Get("prefix"),
		Limit:  parseIntParam(r, "limit", 0),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleStats handles GET /api/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Stats(r.Context(), h.db)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleSync handles POST /api/sync — index new journal bytes, for one
// conversation when ?conversation_id= is given.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Sync(r.Context(), h.db, h.journal, ops.SyncInput{
		ConversationID: r.URL.Query().Get("conversation_id"),
	})
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleRebuild handles POST /api/rebuild — drop the index and replay
// every journal.
func (h *Handlers) HandleRebuild(w http.ResponseWriter, r *http.Request) {
	out, err := ops.Rebuild(r.Context(), h.db, h.journal)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, out)
}

// HandleAttachment handles GET /api/attachments/{conversation}/{file} —
// serve an image extracted from a prompt. Both path segments are checked
// against the character set the extractor uses, so the resolved path can
// never leave the attachments root.
func (h *Handlers) HandleAttachment(w http.ResponseWriter, r *http.Request) {
	conversation := r.PathValue("conversation")
	file := r.PathValue("file")

	if !journal.ValidID(conversation) {
		renderError(w, errors.NewInvalidQuery("invalid conversation id"))
		return
	}
	if !journal.ValidID(file) || !allowedAttachmentExts[strings.ToLower(filepath.Ext(file))] {
		renderError(w, errors.NewInvalidQuery("invalid attachment name"))
		return
	}

	path := filepath.Join(h.attachmentsDir, conversation, file)
	if rel, err := filepath.Rel(h.attachmentsDir, path); err != nil || strings.HasPrefix(rel, "..") {
		renderError(w, errors.NewInvalidQuery("invalid attachment path"))
		return
	}

	if _, err := os.Stat(path); err != nil {
		renderError(w, &errors.ScribeError{
			Code:    errors.ErrNotFound,
			Status:  http.StatusNotFound,
			Message: "attachment not found",
		})
		return
	}

	http.ServeFile(w, r, path)
}

// HandleStream handles GET /api/events/stream — a Server-Sent Events
// feed of newly committed events. Each event is one `data:` frame; a
// comment ping goes out every 15 seconds. There is no history replay.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		renderError(w, errors.NewInternal(fmt.Errorf("response writer does not support streaming")))
		return
	}

	sub := h.broker.Subscribe()
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseCSVParam splits a comma-separated query parameter, dropping empty
// entries.
func parseCSVParam(r *http.Request, name string) []string {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil
	}
	var vals []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			vals = append(vals, part)
		}
	}
	return vals
}
