package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/embed"
	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/journal"
	"github.com/hpungsan/scribe/internal/mcp"
	"github.com/hpungsan/scribe/internal/ops"
	"github.com/hpungsan/scribe/internal/stream"
	"github.com/hpungsan/scribe/internal/web"
)

// maxHookInput caps the hook body read from stdin. Prompt payloads can
// carry base64-encoded pasted images, so the cap is generous.
const maxHookInput = 10 << 20

// newCLIApp creates the CLI application with all commands. The log
// command tolerates nil dependencies and resolves its own; every other
// command requires the store main sets up.
func newCLIApp(database *sql.DB, j *journal.Journal, cfg *config.Config, baseDir string) *cli.App {
	app := &cli.App{
		Name:    "scribe",
		Usage:   "Agent interaction recorder with hybrid search",
		Version: Version,
		Commands: []*cli.Command{
			logCmd(j, baseDir),
			serveCmd(database, j, cfg, baseDir),
			mcpCmd(database, j, cfg),
			searchCmd(database, j, cfg),
			syncCmd(database, j),
			rebuildCmd(database, j),
			conversationsCmd(database),
			showCmd(database, j),
			transcriptCmd(j),
			statsCmd(database),
			backfillCmd(database, cfg),
			repairCmd(database, j),
			suggestCmd(database),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// logCmd creates the log command, the hook entry point.
func logCmd(j *journal.Journal, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Record one event from a hook (body from --data or stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "event",
				Aliases: []string{"e"},
				Usage:   "Event type, e.g. UserPromptSubmit",
			},
			&cli.StringFlag{
				Name:    "conversation",
				Aliases: []string{"c"},
				Usage:   "Conversation id (defaults to session_id from the hook body)",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Hook body as inline JSON instead of stdin",
			},
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Exit nonzero on failure instead of swallowing it",
			},
		},
		Action: func(c *cli.Context) error {
			dir := baseDir
			jr := j

			var err error
			if jr == nil {
				dir, err = hookBaseDir()
				if err == nil {
					jr = journal.New(config.SessionsDir(dir))
				}
			}
			if err == nil {
				err = appendHookEvent(c, jr, dir)
			}
			if err == nil {
				return nil
			}

			// A hook must never break its caller: record the failure
			// and report success unless asked otherwise.
			recordHookError(dir, err)
			if c.Bool("strict") {
				return outputError(err)
			}
			return nil
		},
	}
}

// hookBaseDir resolves the data directory for a standalone hook
// invocation, which skips the shared setup in main.
func hookBaseDir() (string, error) {
	startDir, err := os.Getwd()
	if err != nil {
		startDir = "."
	}
	return config.ResolveBaseDir(startDir)
}

// appendHookEvent parses the hook body and appends the event to the
// journal. Hook bodies wrap the event payload in "data" and name the
// conversation in "session_id"; both are optional.
func appendHookEvent(c *cli.Context, j *journal.Journal, baseDir string) error {
	eventType := strings.TrimSpace(c.String("event"))
	if eventType == "" {
		return errors.NewInvalidQuery("event type is required (-e)")
	}

	raw := c.String("data")
	if raw == "" && stdinHasData() {
		var err error
		raw, err = readStdin(maxHookInput)
		if err != nil {
			return errors.NewInvalidQuery(err.Error())
		}
	}

	conversationID := c.String("conversation")
	var payload json.RawMessage
	if raw != "" {
		var body map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return errors.NewInvalidQuery("hook body must be a JSON object")
		}
		payload = json.RawMessage(raw)
		if data, ok := body["data"]; ok {
			payload = data
		}
		if conversationID == "" {
			if sid, ok := body["session_id"]; ok {
				_ = json.Unmarshal(sid, &conversationID)
			}
		}
	}

	out, err := ops.Append(c.Context, j, config.AttachmentsDir(baseDir), ops.AppendInput{
		ConversationID: conversationID,
		Type:           eventType,
		Payload:        payload,
	})
	if err != nil {
		return err
	}
	return outputJSON(out)
}

// recordHookError appends the failure to the error log, best effort.
func recordHookError(baseDir string, err error) {
	if baseDir == "" {
		return
	}
	f, ferr := os.OpenFile(config.ErrorLogPath(baseDir), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if ferr != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "%s log: %v\n", time.Now().UTC().Format(time.RFC3339), err)
}

// serveCmd creates the serve command, the long-running ingest and
// query process.
func serveCmd(database *sql.DB, j *journal.Journal, cfg *config.Config, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API, journal tailer, and embedding backfill",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (defaults to config addr)",
			},
		},
		Action: func(c *cli.Context) error {
			addr := c.String("addr")
			if addr == "" {
				addr = cfg.Addr
			}

			embedder := newEmbedder(cfg)
			if embedder == nil {
				slog.Info("embeddings not configured, semantic search disabled")
			}

			broker := stream.NewBroker()
			onBatch := func(conversationID string) {
				_, err := ops.Sync(context.Background(), database, j, ops.SyncInput{ConversationID: conversationID})
				if err != nil {
					slog.Warn("journal sync failed", "conversation_id", conversationID, "error", err)
				}
			}
			tailer, err := stream.NewTailer(j, broker, time.Duration(cfg.SyncDebounceMS)*time.Millisecond, onBatch)
			if err != nil {
				return outputError(err)
			}
			if err := tailer.Start(); err != nil {
				return outputError(err)
			}
			defer tailer.Stop()

			// Index whatever accumulated while the server was down.
			// The tailer only reacts to appends made after it started.
			if out, err := ops.Sync(context.Background(), database, j, ops.SyncInput{}); err != nil {
				slog.Warn("startup sync failed", "error", err)
			} else if out.Synced > 0 {
				slog.Info("startup sync", "synced", out.Synced, "conversations", out.Conversations)
			}

			if embedder != nil {
				pool := embed.NewPool(cfg.EmbeddingWorkers)
				sched := cron.New()
				_, err := sched.AddFunc(cfg.BackfillSchedule, func() {
					out, err := ops.Backfill(context.Background(), database, embedder, pool, cfg, ops.BackfillInput{})
					if err != nil {
						slog.Warn("embedding backfill failed", "error", err)
						return
					}
					if out.Embedded > 0 {
						slog.Info("embedding backfill", "scanned", out.Scanned, "embedded", out.Embedded)
					}
				})
				if err != nil {
					return outputError(err)
				}
				sched.Start()
				defer sched.Stop()
			}

			slog.Info("serve starting", "data_dir", baseDir)
			srv := web.NewServer(database, j, embedder, broker, cfg, baseDir, Version, addr)
			return web.Run(srv)
		},
	}
}

// mcpCmd creates the mcp command.
func mcpCmd(database *sql.DB, j *journal.Journal, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			return mcp.Run(database, j, newEmbedder(cfg), cfg, Version)
		},
	}
}

// searchCmd creates the search command.
func searchCmd(database *sql.DB, j *journal.Journal, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search recorded events",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "semantic",
				Aliases: []string{"s"},
				Usage:   "Fuse keyword matches with embedding similarity",
			},
			&cli.StringFlag{
				Name:  "types",
				Usage: "Comma-separated event types to include",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   20,
				Usage:   "Maximum results",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Only events at or after this date (YYYY-MM-DD or RFC 3339)",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Only events at or before this date",
			},
			&cli.StringFlag{
				Name:  "score-mode",
				Usage: "Display score transform: linear, logarithmic, or ordinal",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidQuery("query argument is required"))
			}
			query := strings.Join(c.Args().Slice(), " ")

			// Index journal entries first so the search sees events
			// recorded moments ago.
			if _, err := ops.Sync(c.Context, database, j, ops.SyncInput{}); err != nil {
				return outputError(err)
			}

			output, err := ops.Search(c.Context, database, newEmbedder(cfg), cfg, ops.SearchInput{
				Query:       query,
				Limit:       c.Int("limit"),
				EventTypes:  parseTypes(c.String("types")),
				DateFrom:    c.String("from"),
				DateTo:      c.String("to"),
				UseSemantic: c.Bool("semantic"),
				ScoreMode:   c.String("score-mode"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(database *sql.DB, j *journal.Journal) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Index journal entries the index has not seen yet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "conversation",
				Aliases: []string{"c"},
				Usage:   "Sync a single conversation",
			},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Sync(c.Context, database, j, ops.SyncInput{
				ConversationID: c.String("conversation"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// rebuildCmd creates the rebuild command.
func rebuildCmd(database *sql.DB, j *journal.Journal) *cli.Command {
	return &cli.Command{
		Name:  "rebuild",
		Usage: "Drop the index and replay every journal from scratch",
		Action: func(c *cli.Context) error {
			output, err := ops.Rebuild(c.Context, database, j)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// conversationsCmd creates the conversations command.
func conversationsCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "conversations",
		Usage: "List recorded conversations, most recent first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Value:   50,
				Usage:   "Maximum conversations",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Skip this many conversations",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Only conversations active at or after this date",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Only conversations active at or before this date",
			},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListConversations(c.Context, database, ops.ListInput{
				Limit:    c.Int("limit"),
				Offset:   c.Int("offset"),
				DateFrom: c.String("from"),
				DateTo:   c.String("to"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// showCmd creates the show command.
func showCmd(database *sql.DB, j *journal.Journal) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one conversation with all its events",
		ArgsUsage: "<conversation-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidQuery("conversation id argument is required"))
			}
			output, err := ops.GetConversation(c.Context, database, j, ops.GetConversationInput{
				ConversationID: c.Args().First(),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// transcriptCmd creates the transcript command. Unlike the other
// commands it prints the rendered document itself, not JSON.
func transcriptCmd(j *journal.Journal) *cli.Command {
	return &cli.Command{
		Name:      "transcript",
		Usage:     "Render a conversation as a readable report",
		ArgsUsage: "<conversation-id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "html",
				Usage: "Render HTML instead of Markdown",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidQuery("conversation id argument is required"))
			}
			format := ops.FormatMarkdown
			if c.Bool("html") {
				format = ops.FormatHTML
			}
			output, err := ops.Transcript(c.Context, j, ops.TranscriptInput{
				ConversationID: c.Args().First(),
				Format:         format,
			})
			if err != nil {
				return outputError(err)
			}
			fmt.Print(output.Content)
			return nil
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show index statistics",
		Action: func(c *cli.Context) error {
			output, err := ops.Stats(c.Context, database)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// backfillCmd creates the backfill command.
func backfillCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "backfill",
		Usage: "Embed indexed events that have no embedding yet",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum events to embed in this run",
			},
			&cli.IntFlag{
				Name:  "batch",
				Usage: "Events per embedding request",
			},
		},
		Action: func(c *cli.Context) error {
			embedder := newEmbedder(cfg)
			if embedder == nil {
				return outputError(errors.NewEmbeddingUnavailable())
			}
			pool := embed.NewPool(cfg.EmbeddingWorkers)
			output, err := ops.Backfill(c.Context, database, embedder, pool, cfg, ops.BackfillInput{
				Limit:     c.Int("limit"),
				BatchSize: c.Int("batch"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// repairCmd creates the repair command.
func repairCmd(database *sql.DB, j *journal.Journal) *cli.Command {
	return &cli.Command{
		Name:  "repair",
		Usage: "Reconcile the index with the journals on disk",
		Action: func(c *cli.Context) error {
			output, err := ops.Repair(c.Context, database, j)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// suggestCmd creates the suggest command.
func suggestCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "suggest",
		Usage:     "Suggest completions for a query prefix",
		ArgsUsage: "<prefix>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum suggestions",
			},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Suggest(c.Context, database, ops.SuggestInput{
				Prefix: strings.Join(c.Args().Slice(), " "),
				Limit:  c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// newEmbedder returns the configured embedding client, or nil when
// embeddings are disabled.
func newEmbedder(cfg *config.Config) embed.Embedder {
	client, err := embed.NewClient(cfg)
	if err != nil {
		return nil
	}
	return client
}

// outputJSON prints data as formatted JSON.
func outputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.ScribeError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData checks if stdin has data available (piped input).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all of stdin up to limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseTypes splits a comma-separated type list, dropping empties.
func parseTypes(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			types = append(types, p)
		}
	}
	return types
}
