package ops

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/scribe/internal/config"
	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
)

// TestFullWorkflow exercises the complete recording lifecycle:
// append → sync → search → fetch → stats → rebuild → repair
func TestFullWorkflow(t *testing.T) {
	database, j, baseDir := testSetup(t)
	cfg := config.DefaultConfig()
	ctx := context.Background()
	attachments := config.AttachmentsDir(baseDir)

	// 1. Record a short conversation.
	appendOut, err := Append(ctx, j, attachments, AppendInput{
		ConversationID: "conv-flow",
		Type:           string(event.TypeUserPromptSubmit),
		TS:             baseTime(),
		Payload:        json.RawMessage(`{"prompt": "profile the slow import job"}`),
	})
	require.NoError(t, err)
	require.Len(t, appendOut.Events, 1)

	_, err = Append(ctx, j, attachments, AppendInput{
		ConversationID: "conv-flow",
		Type:           string(event.TypeStop),
		TS:             baseTime().Add(time.Minute),
		Payload:        json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	// 2. Sync projects the journal into the index.
	syncOut, err := Sync(ctx, database, j, SyncInput{})
	require.NoError(t, err)
	require.Equal(t, 2, syncOut.Synced)

	// 3. Keyword search finds the prompt.
	searchOut, err := Search(ctx, database, nil, cfg, SearchInput{Query: "import job"})
	require.NoError(t, err)
	require.Equal(t, 1, searchOut.Total)
	require.Equal(t, "conv-flow", searchOut.Results[0].ConversationID)

	// 4. Fetch returns the conversation with both events.
	fetchOut, err := GetConversation(ctx, database, j, GetConversationInput{ConversationID: "conv-flow"})
	require.NoError(t, err)
	require.Equal(t, "conv-flow", fetchOut.Conversation.ID)
	require.Len(t, fetchOut.Events, 2)

	// 5. Aggregates see it.
	listOut, err := ListConversations(ctx, database, ListInput{})
	require.NoError(t, err)
	require.Len(t, listOut.Conversations, 1)
	require.Equal(t, 2, listOut.Conversations[0].EventCount)

	statsOut, err := Stats(ctx, database)
	require.NoError(t, err)
	require.Equal(t, 1, statsOut.Conversations)
	require.Equal(t, 2, statsOut.Events)

	// 6. The transcript renders from the journal.
	transcriptOut, err := Transcript(ctx, j, TranscriptInput{ConversationID: "conv-flow"})
	require.NoError(t, err)
	require.Contains(t, transcriptOut.Content, "profile the slow import job")

	// 7. Rebuild replays the journal into a fresh index.
	rebuildOut, err := Rebuild(ctx, database, j)
	require.NoError(t, err)
	require.Equal(t, 2, rebuildOut.Synced)

	searchOut, err = Search(ctx, database, nil, cfg, SearchInput{Query: "import job"})
	require.NoError(t, err)
	require.Equal(t, 1, searchOut.Total)

	// 8. Repair finds nothing broken on a healthy store.
	repairOut, err := Repair(ctx, database, j)
	require.NoError(t, err)
	require.Zero(t, repairOut.Removed)
	require.Zero(t, repairOut.Reset)

	// 9. Unknown conversations stay not found.
	_, err = GetConversation(ctx, database, j, GetConversationInput{ConversationID: "conv-ghost"})
	var sErr *errors.ScribeError
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, errors.ErrNotFound, sErr.Code)
}
