package ops

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/embed"
	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/score"
)

// SearchInput contains parameters for the Search operation.
type SearchInput struct {
	Query       string   // required
	Limit       int      // default 20, capped by config
	EventTypes  []string // optional type filter
	DateFrom    string   // optional lower bound, YYYY-MM-DD or RFC3339
	DateTo      string   // optional upper bound, bare dates cover the whole day
	UseSemantic bool     // add the semantic pass when vectors exist
	ScoreMode   string   // display transform, default linear
}

// SearchOutput contains the result of the Search operation.
type SearchOutput struct {
	Results []SearchResult `json:"results"`
	Total   int            `json:"total"`   // fused candidates before truncation
	TimeMS  float64        `json:"time_ms"`
}

// candidate accumulates one event's evidence across both retrieval
// lists before fusion.
type candidate struct {
	row          db.EventRow
	haveRow      bool
	fused        float64
	cosine       float64
	keywordRank  int
	semanticRank int
}

// Search runs hybrid retrieval over the index. The keyword list comes
// from full-text match, the semantic list from cosine similarity over
// stored vectors; both are fetched at twice the requested limit and
// fused by reciprocal rank, 1/(k + rank) summed per list the event
// appears in. Ties fall back to timestamp then event id so the order
// is total. Raw cosine similarity is carried through unchanged for
// events the semantic list saw.
//
// An unreachable embedding service degrades the search to keyword-only
// rather than failing it.
func Search(ctx context.Context, database *sql.DB, embedder embed.Embedder, cfg *config.Config, input SearchInput) (*SearchOutput, error) {
	start := time.Now()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, errors.NewInvalidQuery("query is required")
	}
	if utf8.RuneCountInString(query) > cfg.QueryMaxChars {
		return nil, errors.NewInvalidQuery(fmt.Sprintf("query exceeds maximum length of %d characters", cfg.QueryMaxChars))
	}
	if err := validateTypes(input.EventTypes); err != nil {
		return nil, err
	}
	mode := score.Mode(input.ScoreMode)
	if input.ScoreMode == "" {
		mode = score.ModeLinear
	}
	if !mode.Valid() {
		return nil, errors.NewInvalidQuery("unknown score mode: " + input.ScoreMode)
	}
	from, err := normalizeDate(input.DateFrom, false)
	if err != nil {
		return nil, err
	}
	to, err := normalizeDate(input.DateTo, true)
	if err != nil {
		return nil, err
	}

	limit := clampLimit(input.Limit, DefaultSearchLimit, cfg.SearchMaxLimit)
	fetch := limit * 2
	filter := db.Filter{Types: input.EventTypes, From: from, To: to}

	keyword, err := db.SearchKeyword(database, query, filter, fetch)
	if err != nil {
		return nil, err
	}

	var semantic []semanticHit
	if input.UseSemantic && embedder != nil {
		semantic, err = semanticPass(ctx, database, embedder, query, filter, fetch)
		if err != nil {
			return nil, err
		}
	}

	// Reciprocal rank fusion over both lists, ranks 1-based.
	byID := make(map[string]*candidate)
	for i, hit := range keyword {
		byID[hit.ID] = &candidate{
			row:         hit.EventRow,
			haveRow:     true,
			fused:       1 / float64(cfg.FusionK+i+1),
			keywordRank: i + 1,
		}
	}
	for i, hit := range semantic {
		c := byID[hit.eventID]
		if c == nil {
			c = &candidate{}
			byID[hit.eventID] = c
		}
		c.fused += 1 / float64(cfg.FusionK+i+1)
		c.cosine = hit.cosine
		c.semanticRank = i + 1
	}

	// Events only the semantic list saw still need their rows.
	var missing []string
	for id, c := range byID {
		if !c.haveRow {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		rows, err := db.EventsByIDs(database, missing)
		if err != nil {
			return nil, err
		}
		for id, c := range byID {
			if c.haveRow {
				continue
			}
			row, ok := rows[id]
			if !ok {
				// Vector for an event the index no longer has;
				// a rebuild or repair will reconcile it.
				delete(byID, id)
				continue
			}
			c.row = row
			c.haveRow = true
		}
	}

	ordered := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].fused != ordered[j].fused {
			return ordered[i].fused > ordered[j].fused
		}
		if ordered[i].row.TS != ordered[j].row.TS {
			return ordered[i].row.TS > ordered[j].row.TS
		}
		return ordered[i].row.ID > ordered[j].row.ID
	})

	total := len(ordered)
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}

	results := make([]SearchResult, 0, len(ordered))
	fusedScores := make([]float64, 0, len(ordered))
	for _, c := range ordered {
		results = append(results, SearchResult{
			EventID:          c.row.ID,
			ConversationID:   c.row.ConversationID,
			EventType:        c.row.Type,
			Content:          truncateRunes(c.row.Content, MaxResultContentChars),
			Timestamp:        c.row.TS,
			Score:            c.fused,
			CosineSimilarity: c.cosine,
			KeywordRank:      c.keywordRank,
			SemanticRank:     c.semanticRank,
			Source:           resultSource(c),
		})
		fusedScores = append(fusedScores, c.fused)
	}
	for i, display := range score.TransformAll(fusedScores, mode) {
		results[i].DisplayScore = display
	}

	return &SearchOutput{
		Results: results,
		Total:   total,
		TimeMS:  float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

func resultSource(c *candidate) string {
	switch {
	case c.keywordRank > 0 && c.semanticRank > 0:
		return SourceHybrid
	case c.semanticRank > 0:
		return SourceSemantic
	default:
		return SourceKeyword
	}
}

// semanticHit is one entry of the semantic retrieval list.
type semanticHit struct {
	eventID string
	cosine  float64
}

// semanticPass embeds the query and ranks stored vectors by cosine
// similarity. Embedding service failures degrade to an empty list;
// index failures propagate.
func semanticPass(ctx context.Context, database *sql.DB, embedder embed.Embedder, query string, filter db.Filter, limit int) ([]semanticHit, error) {
	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		slog.Warn("semantic search degraded to keyword only", "error", err)
		return nil, nil
	}
	queryVec := vecs[0]

	stored, err := db.EmbeddedVectors(database, filter)
	if err != nil {
		return nil, err
	}

	hits := make([]semanticHit, 0, len(stored))
	for _, row := range stored {
		vec, err := embed.DecodeVector(row.Vector)
		if err != nil {
			continue
		}
		cos := embed.Cosine(queryVec, vec)
		if cos == 0 {
			continue
		}
		hits = append(hits, semanticHit{eventID: row.EventID, cosine: cos})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].cosine != hits[j].cosine {
			return hits[i].cosine > hits[j].cosine
		}
		return hits[i].eventID > hits[j].eventID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
