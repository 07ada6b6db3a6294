package ops

import (
	"context"
	"testing"
	"time"

	"github.com/hpungsan/scribe/internal/event"
)

func TestSuggest_PrefixMatch(t *testing.T) {
	database, j, _ := testSetup(t)
	ts := baseTime()

	seedEvent(t, j, "conv-a", event.TypeUserPromptSubmit, "fix the login bug", ts)
	seedEvent(t, j, "conv-a", event.TypeUserPromptSubmit, "fix the logout flow", ts.Add(time.Minute))
	seedEvent(t, j, "conv-a", event.TypeUserPromptSubmit, "add dark mode", ts.Add(2*time.Minute))
	if _, err := Sync(context.Background(), database, j, SyncInput{}); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	out, err := Suggest(context.Background(), database, SuggestInput{Prefix: "fix the log"})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(out.Suggestions) != 2 {
		t.Fatalf("got %d suggestions, want 2", len(out.Suggestions))
	}
	for _, s := range out.Suggestions {
		if s != "fix the login bug" && s != "fix the logout flow" {
			t.Errorf("unexpected suggestion %q", s)
		}
	}

	limited, err := Suggest(context.Background(), database, SuggestInput{Prefix: "fix", Limit: 1})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(limited.Suggestions) != 1 {
		t.Errorf("got %d suggestions, want limit applied", len(limited.Suggestions))
	}
}

func TestSuggest_EmptyPrefix(t *testing.T) {
	database, _, _ := testSetup(t)

	out, err := Suggest(context.Background(), database, SuggestInput{Prefix: "   "})
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if out.Suggestions == nil || len(out.Suggestions) != 0 {
		t.Errorf("Suggestions = %#v, want empty non-nil slice", out.Suggestions)
	}
}
