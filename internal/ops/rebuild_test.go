package ops

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/scribe/internal/db"
	"github.com/hpungsan/scribe/internal/embed"
	"github.com/hpungsan/scribe/internal/event"
)

func TestRebuild_ReplaysJournal(t *testing.T) {
	database, j, _ := testSetup(t)
	ts := baseTime()

	id := seedEvent(t, j, "conv-a", event.TypeUserPromptSubmit, "keep me", ts)
	seedEvent(t, j, "conv-b", event.TypeAssistantResponse, "me too", ts.Add(time.Minute))
	if _, err := Sync(context.Background(), database, j, SyncInput{}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	// A stored vector must survive the rebuild.
	if err := db.UpsertEmbedding(database, id, embed.EncodeVector([]float32{1, 0}), "test-model"); err != nil {
		t.Fatalf("UpsertEmbedding failed: %v", err)
	}

	out, err := Rebuild(context.Background(), database, j)
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if out.Synced != 2 || out.Conversations != 2 {
		t.Errorf("out = %+v, want full replay", out)
	}

	stats, err := db.Stats(database)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Events != 2 {
		t.Errorf("Events = %d, want 2", stats.Events)
	}
	if stats.EmbeddedEvents != 1 {
		t.Errorf("EmbeddedEvents = %d, embeddings should survive a rebuild", stats.EmbeddedEvents)
	}

	rows, err := db.EventsByIDs(database, []string{id})
	if err != nil || len(rows) != 1 {
		t.Fatalf("event lost in rebuild: %v, %v", rows, err)
	}
}
