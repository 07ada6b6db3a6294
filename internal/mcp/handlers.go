package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/embed"
	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/journal"
	"github.com/hpungsan/scribe/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	db       *sql.DB
	journal  *journal.Journal
	embedder embed.Embedder
	cfg      *config.Config
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(database *sql.DB, j *journal.Journal, embedder embed.Embedder, cfg *config.Config) *Handlers {
	return &Handlers{db: database, journal: j, embedder: embedder, cfg: cfg}
}

// Request types for each tool

// SearchRequest represents the arguments for search_events.
type SearchRequest struct {
	Query       string   `json:"query"`
	Limit       int      `json:"limit,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
	DateFrom    string   `json:"date_from,omitempty"`
	DateTo      string   `json:"date_to,omitempty"`
	UseSemantic bool     `json:"use_semantic,omitempty"`
	ScoreMode   string   `json:"score_mode,omitempty"`
}

// RecentRequest represents the arguments for recent_events.
type RecentRequest struct {
	Limit      int      `json:"limit,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// ListConversationsRequest represents the arguments for list_conversations.
type ListConversationsRequest struct {
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
}

// GetConversationRequest represents the arguments for get_conversation.
type GetConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

// SyncRequest represents the arguments for sync_now.
type SyncRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
}

// Handler implementations

// HandleSearchEvents handles the search_events tool call.
func (h *Handlers) HandleSearchEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SearchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidQuery(err.Error())), nil
	}

	// Index whatever the journal gained since the last pass, so the
	// search sees events recorded moments ago.
	if _, err := ops.Sync(ctx, h.db, h.journal, ops.SyncInput{}); err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Search(ctx, h.db, h.embedder, h.cfg, ops.SearchInput{
		Query:       input.Query,
		Limit:       input.Limit,
		EventTypes:  input.EventTypes,
		DateFrom:    input.DateFrom,
		DateTo:      input.DateTo,
		UseSemantic: input.UseSemantic,
		ScoreMode:   input.ScoreMode,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRecentEvents handles the recent_events tool call.
func (h *Handlers) HandleRecentEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecentRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidQuery(err.Error())), nil
	}

	if _, err := ops.Sync(ctx, h.db, h.journal, ops.SyncInput{}); err != nil {
		return errorResult(err), nil
	}

	result, err := ops.Recent(ctx, h.db, h.cfg, ops.RecentInput{
		Limit:      input.Limit,
		EventTypes: input.EventTypes,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleListConversations handles the list_conversations tool call.
func (h *Handlers) HandleListConversations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListConversationsRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidQuery(err.Error())), nil
	}

	result, err := ops.ListConversations(ctx, h.db, ops.ListInput{
		Limit:    input.Limit,
		Offset:   input.Offset,
		DateFrom: input.DateFrom,
		DateTo:   input.DateTo,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGetConversation handles the get_conversation tool call.
func (h *Handlers) HandleGetConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetConversationRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidQuery(err.Error())), nil
	}

	result, err := ops.GetConversation(ctx, h.db, h.journal, ops.GetConversationInput{
		ConversationID: input.ConversationID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGetStats handles the get_stats tool call.
func (h *Handlers) HandleGetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Stats(ctx, h.db)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSyncNow handles the sync_now tool call.
func (h *Handlers) HandleSyncNow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SyncRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidQuery(err.Error())), nil
	}

	result, err := ops.Sync(ctx, h.db, h.journal, ops.SyncInput{
		ConversationID: input.ConversationID,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Note: Internal error details are not exposed to prevent leaking sensitive info.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var sErr *errors.ScribeError
	if stderrors.As(err, &sErr) {
		// A wrapped error carries context the bare ScribeError lacks;
		// keep the full chain in the message.
		message := sErr.Message
		if err.Error() != sErr.Error() {
			message = err.Error()
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": message,
			"status":  sErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
