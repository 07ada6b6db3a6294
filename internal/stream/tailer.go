package stream

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/journal"
)

// pollInterval backs up fsnotify: every tick the tailer stats known journal
// files and picks up growth the watcher missed.
const pollInterval = 2 * time.Second

// Tailer watches the journal directory and publishes every newly appended
// event to the broker. Write bursts coalesce over the debounce window before
// the files are read, so one batch append produces one read. The optional
// onBatch hook runs after a conversation's new events have been published,
// which is where the serve loop hangs index syncing.
type Tailer struct {
	journal  *journal.Journal
	broker   *Broker
	debounce time.Duration
	onBatch  func(conversationID string)

	fsWatcher *fsnotify.Watcher

	mu      sync.Mutex
	offsets map[string]int64
	dirty   map[string]struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTailer creates a tailer over j feeding b. debounce bounds how long an
// appended event can wait before publication; onBatch may be nil.
func NewTailer(j *journal.Journal, b *Broker, debounce time.Duration, onBatch func(string)) (*Tailer, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 50 * time.Millisecond
	}
	return &Tailer{
		journal:   j,
		broker:    b,
		debounce:  debounce,
		onBatch:   onBatch,
		fsWatcher: fsWatcher,
		offsets:   make(map[string]int64),
		dirty:     make(map[string]struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start snapshots current journal sizes and begins tailing. Events already
// on disk are never replayed; only growth past the snapshot is published.
func (t *Tailer) Start() error {
	dir := t.journal.Dir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := t.fsWatcher.Add(dir); err != nil {
		return err
	}

	ids, err := t.journal.ListConversations()
	if err != nil {
		return err
	}
	for _, id := range ids {
		size, err := t.journal.Size(id)
		if err != nil {
			continue
		}
		t.offsets[id] = size
	}

	t.wg.Add(2)
	go t.eventLoop()
	go t.flushLoop()
	return nil
}

// Stop shuts the tailer down and waits for its loops to exit. The broker is
// left open; callers close it separately.
func (t *Tailer) Stop() error {
	close(t.done)
	t.wg.Wait()
	return t.fsWatcher.Close()
}

func (t *Tailer) eventLoop() {
	defer t.wg.Done()
	for {
		select {
		case <-t.done:
			return

		case ev, ok := <-t.fsWatcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".jsonl") {
				continue
			}
			t.markDirty(strings.TrimSuffix(name, ".jsonl"))

		case _, ok := <-t.fsWatcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (t *Tailer) flushLoop() {
	defer t.wg.Done()

	flush := time.NewTicker(t.debounce)
	defer flush.Stop()
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-flush.C:
			t.flushDirty()
		case <-poll.C:
			t.pollGrowth()
			t.flushDirty()
		}
	}
}

func (t *Tailer) markDirty(conversationID string) {
	t.mu.Lock()
	t.dirty[conversationID] = struct{}{}
	t.mu.Unlock()
}

// pollGrowth marks any journal file that grew past its tail offset,
// covering events fsnotify never reported.
func (t *Tailer) pollGrowth() {
	ids, err := t.journal.ListConversations()
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		size, err := t.journal.Size(id)
		if err != nil {
			continue
		}
		if size != t.offsets[id] {
			t.dirty[id] = struct{}{}
		}
	}
}

func (t *Tailer) flushDirty() {
	t.mu.Lock()
	if len(t.dirty) == 0 {
		t.mu.Unlock()
		return
	}
	pending := t.dirty
	t.dirty = make(map[string]struct{})
	t.mu.Unlock()

	for id := range pending {
		t.flush(id)
	}
}

func (t *Tailer) flush(conversationID string) {
	t.mu.Lock()
	offset := t.offsets[conversationID]
	t.mu.Unlock()

	res, err := t.journal.ReadFrom(conversationID, offset)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			t.mu.Lock()
			delete(t.offsets, conversationID)
			t.mu.Unlock()
		}
		return
	}

	t.mu.Lock()
	t.offsets[conversationID] = res.NewOffset
	t.mu.Unlock()

	for _, ev := range res.Events {
		t.broker.Publish(ev)
	}
	if t.onBatch != nil && len(res.Events) > 0 {
		t.onBatch(conversationID)
	}
}
