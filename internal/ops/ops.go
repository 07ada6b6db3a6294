// Package ops implements the operations every surface shares. The HTTP
// API, the MCP server, and the CLI are thin layers over these functions:
// each operation takes an input struct, validates it, and returns an
// output struct or a taxonomy error.
package ops

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
)

// Result limits
const (
	DefaultSearchLimit  = 20
	DefaultListLimit    = 50
	MaxListLimit        = 200
	DefaultSuggestLimit = 10
	MaxSuggestLimit     = 50

	// MaxResultContentChars bounds the content echoed in search and
	// recent results. Full content stays available via the journal.
	MaxResultContentChars = 500
)

// Source labels how a search result earned its place.
const (
	SourceKeyword  = "keyword"
	SourceSemantic = "semantic"
	SourceHybrid   = "hybrid"
	SourceRecent   = "recent"
)

// SearchResult is one scored event in a search or recent response.
// KeywordRank and SemanticRank are 1-based; zero means the event was
// absent from that list.
type SearchResult struct {
	EventID          string  `json:"event_id"`
	ConversationID   string  `json:"conversation_id"`
	EventType        string  `json:"event_type"`
	Content          string  `json:"content"`
	Timestamp        string  `json:"timestamp"`
	Score            float64 `json:"score"`
	DisplayScore     float64 `json:"display_score"`
	CosineSimilarity float64 `json:"cosine_similarity"`
	KeywordRank      int     `json:"keyword_rank,omitempty"`
	SemanticRank     int     `json:"semantic_rank,omitempty"`
	Source           string  `json:"source"`
}

// clampLimit applies the default and upper bound for a requested page
// size.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// truncateRunes clips s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// validateTypes checks an event type filter against the known types.
func validateTypes(types []string) error {
	for _, t := range types {
		if !event.Type(t).Valid() {
			return errors.NewInvalidQuery("unknown event type: " + t)
		}
	}
	return nil
}

// normalizeDate validates an optional time bound. Bare dates are kept
// as-is for lower bounds and widened to the end of the day for upper
// bounds, so a date_to of "2026-01-02" includes the whole of that day.
func normalizeDate(s string, endOfDay bool) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if len(s) == len("2006-01-02") {
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return "", errors.NewInvalidQuery("invalid date: " + s)
		}
		if endOfDay {
			return s + "T23:59:59.999999Z", nil
		}
		return s, nil
	}
	if _, err := time.Parse(time.RFC3339, s); err != nil {
		return "", errors.NewInvalidQuery("invalid date: " + s)
	}
	return s, nil
}
