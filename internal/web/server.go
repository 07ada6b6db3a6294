package web

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/embed"
	"github.com/hpungsan/scribe/internal/journal"
	"github.com/hpungsan/scribe/internal/stream"
)

// NewServer creates and configures the HTTP server for the Scribe JSON API.
// A nil embedder disables the semantic search pass; everything else keeps
// working against the keyword index.
func NewServer(database *sql.DB, j *journal.Journal, embedder embed.Embedder, broker *stream.Broker, cfg *config.Config, baseDir, version, addr string) *http.Server {
	h := &Handlers{
		db:             database,
		journal:        j,
		embedder:       embedder,
		broker:         broker,
		cfg:            cfg,
		attachmentsDir: config.AttachmentsDir(baseDir),
		version:        version,
	}

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("POST /api/events", h.HandleAppend)
	mux.HandleFunc("POST /api/search", h.HandleSearch)
	mux.HandleFunc("GET /api/events/recent", h.HandleRecent)
	mux.HandleFunc("GET /api/events/stream", h.HandleStream)
	mux.HandleFunc("GET /api/conversations", h.HandleConversations)
	mux.HandleFunc("GET /api/conversations/{id}", h.HandleConversation)
	mux.HandleFunc("GET /api/conversations/{id}/transcript", h.HandleTranscript)
	mux.HandleFunc("GET /api/suggest", h.HandleSuggest)
	mux.HandleFunc("GET /api/stats", h.HandleStats)
	mux.HandleFunc("POST /api/sync", h.HandleSync)
	mux.HandleFunc("POST /api/rebuild", h.HandleRebuild)
	mux.HandleFunc("GET /api/attachments/{conversation}/{file}", h.HandleAttachment)

	srv := &http.Server{
		Addr:    addr,
		Handler: securityHeaders(mux),
	}

	// Closing the broker releases every stream subscriber, so a drain
	// during shutdown never stalls on an attached SSE client.
	srv.RegisterOnShutdown(broker.Close)

	return srv
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("api listening", "addr", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		slog.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		slog.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
