package mcp

import "github.com/mark3labs/mcp-go/mcp"

var searchToolDef = mcp.NewTool("search_events",
	mcp.WithDescription("Search recorded agent events by keyword, optionally fused with semantic similarity. Results are ranked and carry a display score in [0, 1]."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Search text. Matched against event content via full-text search."),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of results to return (default 20, max 100)."),
	),
	mcp.WithArray("event_types",
		mcp.Description("Restrict results to these event types, e.g. [\"UserPromptSubmit\", \"PostToolUse\"]."),
		mcp.Items(map[string]any{"type": "string"}),
	),
	mcp.WithString("date_from",
		mcp.Description("Only events at or after this time. YYYY-MM-DD or RFC 3339."),
	),
	mcp.WithString("date_to",
		mcp.Description("Only events at or before this time. A bare YYYY-MM-DD covers that whole day."),
	),
	mcp.WithBoolean("use_semantic",
		mcp.Description("Fuse keyword results with embedding similarity when embeddings are available."),
	),
	mcp.WithString("score_mode",
		mcp.Description("Display score transform: linear (default), logarithmic, or ordinal."),
	),
)

var recentToolDef = mcp.NewTool("recent_events",
	mcp.WithDescription("Return the most recent recorded events, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of events to return (default 20, max 100)."),
	),
	mcp.WithArray("event_types",
		mcp.Description("Restrict results to these event types."),
		mcp.Items(map[string]any{"type": "string"}),
	),
)

var listConversationsToolDef = mcp.NewTool("list_conversations",
	mcp.WithDescription("List recorded conversations with event counts and time bounds, most recently active first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of conversations to return (default 50)."),
	),
	mcp.WithNumber("offset",
		mcp.Description("Number of conversations to skip, for paging."),
	),
	mcp.WithString("date_from",
		mcp.Description("Only conversations active at or after this time. YYYY-MM-DD or RFC 3339."),
	),
	mcp.WithString("date_to",
		mcp.Description("Only conversations active at or before this time."),
	),
)

var getConversationToolDef = mcp.NewTool("get_conversation",
	mcp.WithDescription("Fetch a single conversation and its full event history in chronological order."),
	mcp.WithString("conversation_id",
		mcp.Required(),
		mcp.Description("Conversation identifier, e.g. the session ID of a recorded agent run."),
	),
)

var statsToolDef = mcp.NewTool("get_stats",
	mcp.WithDescription("Return store-wide statistics: conversation and event counts, events by type, and embedding coverage."),
)

var syncToolDef = mcp.NewTool("sync_now",
	mcp.WithDescription("Index any journal entries not yet reflected in the search index. Returns counts of indexed and skipped events."),
	mcp.WithString("conversation_id",
		mcp.Description("Sync only this conversation. Omit to sync everything."),
	),
)
