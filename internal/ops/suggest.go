package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/scribe/internal/db"
)

// SuggestInput contains parameters for the Suggest operation.
type SuggestInput struct {
	Prefix string // text typed so far
	Limit  int    // default 10, max 50
}

// SuggestOutput contains the result of the Suggest operation.
type SuggestOutput struct {
	Suggestions []string `json:"suggestions"`
}

// Suggest returns distinct indexed contents starting with the typed
// prefix, for query autocompletion. An empty prefix suggests nothing.
func Suggest(ctx context.Context, database *sql.DB, input SuggestInput) (*SuggestOutput, error) {
	prefix := strings.TrimSpace(input.Prefix)
	if prefix == "" {
		return &SuggestOutput{Suggestions: []string{}}, nil
	}
	limit := clampLimit(input.Limit, DefaultSuggestLimit, MaxSuggestLimit)

	suggestions, err := db.SuggestContents(database, prefix, limit)
	if err != nil {
		return nil, err
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	return &SuggestOutput{Suggestions: suggestions}, nil
}
