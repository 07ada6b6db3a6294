package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// Addr is the listen address for the HTTP API server.
	Addr string `json:"addr,omitempty"`

	// FusionK is the damping constant for reciprocal rank fusion.
	// Larger values flatten the influence of top ranks.
	FusionK int `json:"fusion_k,omitempty"`

	// SearchMaxLimit caps the per-request result limit for search and listing.
	SearchMaxLimit int `json:"search_max_limit,omitempty"`

	// QueryMaxChars caps the accepted search query length.
	QueryMaxChars int `json:"query_max_chars,omitempty"`

	// EmbeddingBaseURL is the base URL of an OpenAI-compatible embeddings API
	// (e.g. "http://localhost:11434/v1"). Empty disables semantic search.
	EmbeddingBaseURL string `json:"embedding_base_url,omitempty"`

	// EmbeddingAPIKeyEnv names the environment variable holding the API key.
	// Local backends typically need none.
	EmbeddingAPIKeyEnv string `json:"embedding_api_key_env,omitempty"`

	// EmbeddingModel is the model name sent to the embeddings API.
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// EmbeddingDims is the expected vector dimensionality. Stored vectors with
	// a different dimensionality are skipped at query time.
	EmbeddingDims int `json:"embedding_dims,omitempty"`

	// EmbeddingWorkers bounds the backfill worker pool.
	EmbeddingWorkers int `json:"embedding_workers,omitempty"`

	// EmbeddingMaxTokens bounds the tokenized length of embedding input;
	// longer content is truncated before encoding.
	EmbeddingMaxTokens int `json:"embedding_max_tokens,omitempty"`

	// BackfillSchedule is a cron spec for the background embedding backfill
	// run by the serve command.
	BackfillSchedule string `json:"backfill_schedule,omitempty"`

	// SyncDebounceMS delays index sync after a journal write so that bursts
	// of appends coalesce into one batch.
	SyncDebounceMS int `json:"sync_debounce_ms,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `json:"log_level,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:               "127.0.0.1:3001",
		FusionK:            60,
		SearchMaxLimit:     200,
		QueryMaxChars:      1000,
		EmbeddingAPIKeyEnv: "SCRIBE_EMBED_API_KEY",
		EmbeddingModel:     "text-embedding-3-small",
		EmbeddingDims:      384,
		EmbeddingWorkers:   4,
		EmbeddingMaxTokens: 512,
		BackfillSchedule:   "@every 1m",
		SyncDebounceMS:     250,
		LogLevel:           "info",
	}
}

// Load loads configuration from baseDir/config.json, or from the file
// named by SCRIBE_CONFIG when that is set.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.scribe.
func Load(baseDir string) (*Config, error) {
	path := filepath.Join(baseDir, "config.json")
	if p := os.Getenv("SCRIBE_CONFIG"); p != "" {
		path = p
	}
	cfg, err := loadFileRaw(path)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// ResolveBaseDir picks the storage base directory: the SCRIBE_DATA_DIR
// environment variable if set, else the nearest .scribe directory walking
// upward from startDir, else ~/.scribe.
func ResolveBaseDir(startDir string) (string, error) {
	if dir := os.Getenv("SCRIBE_DATA_DIR"); dir != "" {
		return dir, nil
	}

	dir := startDir
	for dir != "" {
		candidate := filepath.Join(dir, ".scribe")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".scribe"), nil
}

// SessionsDir returns the directory holding per-conversation journal files.
func SessionsDir(baseDir string) string {
	return filepath.Join(baseDir, "sessions")
}

// AttachmentsDir returns the directory holding extracted attachments.
func AttachmentsDir(baseDir string) string {
	return filepath.Join(baseDir, "attachments")
}

// DBPath returns the index database path.
func DBPath(baseDir string) string {
	return filepath.Join(baseDir, "index.db")
}

// ErrorLogPath returns the append-only error log the hook entry point writes
// to instead of failing the caller.
func ErrorLogPath(baseDir string) string {
	return filepath.Join(baseDir, "errors.log")
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for any non-zero field.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Addr = pickString(base.Addr, overlay.Addr)
	result.FusionK = pickInt(base.FusionK, overlay.FusionK)
	result.SearchMaxLimit = pickInt(base.SearchMaxLimit, overlay.SearchMaxLimit)
	result.QueryMaxChars = pickInt(base.QueryMaxChars, overlay.QueryMaxChars)
	result.EmbeddingBaseURL = pickString(base.EmbeddingBaseURL, overlay.EmbeddingBaseURL)
	result.EmbeddingAPIKeyEnv = pickString(base.EmbeddingAPIKeyEnv, overlay.EmbeddingAPIKeyEnv)
	result.EmbeddingModel = pickString(base.EmbeddingModel, overlay.EmbeddingModel)
	result.EmbeddingDims = pickInt(base.EmbeddingDims, overlay.EmbeddingDims)
	result.EmbeddingWorkers = pickInt(base.EmbeddingWorkers, overlay.EmbeddingWorkers)
	result.EmbeddingMaxTokens = pickInt(base.EmbeddingMaxTokens, overlay.EmbeddingMaxTokens)
	result.BackfillSchedule = pickString(base.BackfillSchedule, overlay.BackfillSchedule)
	result.SyncDebounceMS = pickInt(base.SyncDebounceMS, overlay.SyncDebounceMS)
	result.DBMaxOpenConns = pickInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)
	result.LogLevel = pickString(base.LogLevel, overlay.LogLevel)

	return result
}

func pickInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(base, overlay string) string {
	if s := strings.TrimSpace(overlay); s != "" {
		return s
	}
	return base
}
