package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/journal"
	"github.com/hpungsan/scribe/internal/transcript"
)

// Transcript formats
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// TranscriptInput contains parameters for the Transcript operation.
type TranscriptInput struct {
	ConversationID string // required
	Format         string // markdown (default) or html
}

// TranscriptOutput contains the result of the Transcript operation.
type TranscriptOutput struct {
	ConversationID string `json:"conversation_id"`
	Format         string `json:"format"`
	Content        string `json:"content"`
}

// Transcript renders a conversation's journal as a human-readable
// report, replayed from the journal so it reflects every committed
// event regardless of index state.
func Transcript(ctx context.Context, j *journal.Journal, input TranscriptInput) (*TranscriptOutput, error) {
	id := strings.TrimSpace(input.ConversationID)
	if id == "" {
		return nil, errors.NewInvalidQuery("conversation id is required")
	}
	if !journal.ValidID(id) {
		return nil, errors.NewInvalidQuery("invalid conversation id: " + id)
	}

	format := input.Format
	if format == "" {
		format = FormatMarkdown
	}
	if format != FormatMarkdown && format != FormatHTML {
		return nil, errors.NewInvalidQuery("unknown transcript format: " + input.Format)
	}

	res, err := j.ReadFrom(id, 0)
	if err != nil {
		return nil, err
	}

	var content string
	switch format {
	case FormatHTML:
		content, err = transcript.HTML(id, res.Events)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
	default:
		content = transcript.Markdown(id, res.Events)
	}

	return &TranscriptOutput{
		ConversationID: id,
		Format:         format,
		Content:        content,
	}, nil
}
