package mcp

import (
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/embed"
	"github.com/hpungsan/scribe/internal/journal"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"search_events": {
		def:     searchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearchEvents },
	},
	"recent_events": {
		def:     recentToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRecentEvents },
	},
	"list_conversations": {
		def:     listConversationsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleListConversations },
	},
	"get_conversation": {
		def:     getConversationToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetConversation },
	},
	"get_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetStats },
	},
	"sync_now": {
		def:     syncToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSyncNow },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// NewServer creates a new MCP server with Scribe tools registered.
func NewServer(database *sql.DB, j *journal.Journal, embedder embed.Embedder, cfg *config.Config, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"scribe",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(database, j, embedder, cfg)

	for _, entry := range toolRegistry {
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(database *sql.DB, j *journal.Journal, embedder embed.Embedder, cfg *config.Config, version string) error {
	s := NewServer(database, j, embedder, cfg, version)
	return server.ServeStdio(s)
}
