package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
)

func testEvent(t *testing.T, conv string, typ event.Type, payload string) *event.Event {
	t.Helper()
	id, err := event.NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	ev := &event.Event{
		ID:             id,
		Type:           typ,
		TS:             time.Now().UTC(),
		ConversationID: conv,
	}
	if payload != "" {
		ev.Payload = json.RawMessage(payload)
		ev.Content = event.ExtractContent(typ, ev.Payload)
	}
	return ev
}

func TestAppendAndReadFrom(t *testing.T) {
	j := New(t.TempDir())

	evs := []*event.Event{
		testEvent(t, "conv-1", event.TypeSessionStart, `{"source":"startup","model":"m"}`),
		testEvent(t, "conv-1", event.TypeUserPromptSubmit, `{"prompt":"hello"}`),
	}
	if err := j.Append("conv-1", evs); err != nil {
		t.Fatalf("Append: %v", err)
	}

	res, err := j.ReadFrom("conv-1", 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(res.Events))
	}
	if res.Malformed != 0 {
		t.Errorf("Malformed = %d, want 0", res.Malformed)
	}
	if res.Events[1].Content != "hello" {
		t.Errorf("Content = %q, want hello", res.Events[1].Content)
	}

	size, err := j.Size("conv-1")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if res.NewOffset != size {
		t.Errorf("NewOffset = %d, want file size %d", res.NewOffset, size)
	}

	// An incremental read picks up only what landed after the offset.
	if err := j.Append("conv-1", []*event.Event{testEvent(t, "conv-1", event.TypeStop, `{}`)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	res2, err := j.ReadFrom("conv-1", res.NewOffset)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(res2.Events) != 1 || res2.Events[0].Type != event.TypeStop {
		t.Errorf("incremental read got %d events", len(res2.Events))
	}
}

func TestAppendAssignsDepth(t *testing.T) {
	j := New(t.TempDir())
	conv := "conv-depth"

	steps := []struct {
		ev   *event.Event
		want int
	}{
		{testEvent(t, conv, event.TypeSessionStart, `{"source":"startup"}`), 0},
		{testEvent(t, conv, event.TypeUserPromptSubmit, `{"prompt":"a"}`), 0},
		{testEvent(t, conv, event.TypeSessionStart, `{"source":"compact"}`), 1},
		{testEvent(t, conv, event.TypeStop, `{}`), 1},
		{testEvent(t, conv, event.TypeSessionStart, `{"source":"clear"}`), 2},
		{testEvent(t, conv, event.TypeUserPromptSubmit, `{"prompt":"b"}`), 2},
	}
	for i, step := range steps {
		if err := j.Append(conv, []*event.Event{step.ev}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if step.ev.Depth != step.want {
			t.Errorf("step %d: Depth = %d, want %d", i, step.ev.Depth, step.want)
		}
	}
}

func TestResetAsFirstEvent(t *testing.T) {
	j := New(t.TempDir())
	ev := testEvent(t, "conv-fresh", event.TypeSessionStart, `{"source":"compact"}`)

	if err := j.Append("conv-fresh", []*event.Event{ev}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if ev.Depth != 1 {
		t.Errorf("Depth = %d, want 1", ev.Depth)
	}
}

func TestBatchSharesDepth(t *testing.T) {
	j := New(t.TempDir())
	conv := "conv-batch"

	reset := testEvent(t, conv, event.TypeSessionStart, `{"source":"compact"}`)
	follow := testEvent(t, conv, event.TypeUserPromptSubmit, `{"prompt":"x"}`)
	if err := j.Append(conv, []*event.Event{reset, follow}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if reset.Depth != 1 || follow.Depth != 1 {
		t.Errorf("depths = %d, %d, want 1, 1", reset.Depth, follow.Depth)
	}
}

// Two writers hammering the same conversation must produce exactly one
// well-formed line per event with no interleaving.
func TestConcurrentAppends(t *testing.T) {
	j := New(t.TempDir())
	conv := "conv-race"

	const writers = 2
	const perWriter = 1000

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ev := &event.Event{
					ID:             fmt.Sprintf("evt_w%d_%d", w, i),
					Type:           event.TypeStop,
					TS:             time.Now().UTC(),
					ConversationID: conv,
				}
				if err := j.Append(conv, []*event.Event{ev}); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(j.Path(conv))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != writers*perWriter {
		t.Fatalf("got %d lines, want %d", len(lines), writers*perWriter)
	}
	for i, line := range lines {
		var ev event.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("line %d malformed: %v", i, err)
		}
	}
}

func TestReadFromPartialAndMalformed(t *testing.T) {
	j := New(t.TempDir())
	conv := "conv-partial"

	if err := j.Append(conv, []*event.Event{testEvent(t, conv, event.TypeStop, `{}`)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Simulate a corrupt line followed by a torn write.
	partial := `{"id":"evt_x","type":"Stop","ts":"2026-01-02T03:04:05.000000Z","conversation_id":"conv-partial"`
	f, err := os.OpenFile(j.Path(conv), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("{broken\n" + partial); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	res, err := j.ReadFrom(conv, 0)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(res.Events))
	}
	if res.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", res.Malformed)
	}

	size, err := j.Size(conv)
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if want := size - int64(len(partial)); res.NewOffset != want {
		t.Errorf("NewOffset = %d, want %d", res.NewOffset, want)
	}

	// Completing the torn line makes it visible to the next read.
	f, err = os.OpenFile(j.Path(conv), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("}\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()

	res2, err := j.ReadFrom(conv, res.NewOffset)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(res2.Events) != 1 || res2.Events[0].ID != "evt_x" {
		t.Errorf("completed line not read: %+v", res2.Events)
	}
}

func TestReadFromOffsetPastEnd(t *testing.T) {
	j := New(t.TempDir())
	conv := "conv-replaced"

	evs := []*event.Event{
		testEvent(t, conv, event.TypeStop, `{}`),
		testEvent(t, conv, event.TypeStop, `{}`),
	}
	if err := j.Append(conv, evs); err != nil {
		t.Fatalf("Append: %v", err)
	}

	res, err := j.ReadFrom(conv, 1<<20)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(res.Events) != 2 {
		t.Errorf("got %d events, want 2 after restart from zero", len(res.Events))
	}
}

func TestReadFromMissingConversation(t *testing.T) {
	j := New(t.TempDir())

	_, err := j.ReadFrom("nope", 0)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListConversations(t *testing.T) {
	dir := t.TempDir()
	j := New(dir)

	for _, conv := range []string{"beta", "alpha"} {
		if err := j.Append(conv, []*event.Event{testEvent(t, conv, event.TypeStop, `{}`)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := os.WriteFile(dir+"/notes.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ids, err := j.ListConversations()
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Errorf("ids = %v, want [alpha beta]", ids)
	}

	empty := New(dir + "/missing")
	ids, err = empty.ListConversations()
	if err != nil || ids != nil {
		t.Errorf("missing dir: ids = %v, err = %v", ids, err)
	}
}

func TestValidID(t *testing.T) {
	valid := []string{"abc", "550e8400-e29b-41d4-a716-446655440000", "A_b-1", "v1.2"}
	for _, id := range valid {
		if !ValidID(id) {
			t.Errorf("ValidID(%q) = false", id)
		}
	}

	invalid := []string{"", "..", "a/b", `a\b`, "../etc", "has space", strings.Repeat("x", 129)}
	for _, id := range invalid {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true", id)
		}
	}
}
