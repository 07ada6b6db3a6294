package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/journal"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// isHookMode reports whether this invocation is the hook entry point.
// Hooks bypass the shared setup below so that a broken install can
// never fail the calling agent.
func isHookMode() bool {
	return len(os.Args) >= 2 && os.Args[1] == "log"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return true
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// setupLogging installs the default logger at the configured level.
func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func main() {
	// Hook invocations handle their own setup and errors; help and
	// version need no setup at all.
	if isHookMode() || isHelpOrVersion() {
		app := newCLIApp(nil, nil, nil, "")
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	startDir, err := os.Getwd()
	if err != nil {
		startDir = "."
	}
	baseDir, err := config.ResolveBaseDir(startDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not resolve data directory: %v\n", err)
		os.Exit(1)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	cfg, err := config.Load(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if cfg.DBMaxOpenConns > 0 {
		database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}

	j := journal.New(config.SessionsDir(baseDir))

	app := newCLIApp(database, j, cfg, baseDir)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
