// Package journal implements the append-only per-conversation event logs
// that are the system's source of truth. Journal files are JSONL, one event
// per line; the search index and every derived view are projections that
// can be rebuilt from them.
package journal

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/scribe/internal/errors"
	"github.com/hpungsan/scribe/internal/event"
)

const (
	appendRetries = 3
	retryDelay    = 25 * time.Millisecond
)

// Journal manages the JSONL files for all conversations under one
// directory. Appends to the same conversation are serialized; appends to
// different conversations proceed independently.
type Journal struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(dir string) *Journal {
	return &Journal{dir: dir, locks: make(map[string]*sync.Mutex)}
}

// Dir returns the journal root directory.
func (j *Journal) Dir() string { return j.dir }

// Path returns the journal file for a conversation.
func (j *Journal) Path(conversationID string) string {
	return filepath.Join(j.dir, conversationID+".jsonl")
}

func (j *Journal) lockFor(conversationID string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, ok := j.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		j.locks[conversationID] = l
	}
	return l
}

// ValidID reports whether id is safe to use as a journal file name. IDs are
// restricted to a filename-safe alphabet so they can never escape the
// journal directory.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return !strings.Contains(id, "..")
}

// Append writes events to a conversation's journal as one batch. Each event
// receives its context-reset depth, derived from the journal content while
// the conversation lock is held, and the whole batch is committed with a
// single write so concurrent appenders never interleave lines.
func (j *Journal) Append(conversationID string, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}
	if !ValidID(conversationID) {
		return errors.NewInvalidQuery("invalid conversation id: " + conversationID)
	}

	mu := j.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()

	path := j.Path(conversationID)
	depth, err := countResets(path)
	if err != nil {
		return errors.NewIOFault("read journal", err)
	}

	var buf bytes.Buffer
	for _, ev := range events {
		if isReset(ev) {
			depth++
		}
		ev.Depth = depth
		line, err := json.Marshal(ev)
		if err != nil {
			return errors.NewIOFault("encode event", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return j.commit(path, buf.Bytes())
}

// commit appends data with O_APPEND so the batch lands as one contiguous
// block even when another process writes the same file. Transient failures
// are retried a few times before surfacing.
func (j *Journal) commit(path string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay * time.Duration(attempt))
		}
		if err := os.MkdirAll(j.dir, 0o700); err != nil {
			lastErr = err
			continue
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			lastErr = err
			continue
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if werr == nil && cerr == nil {
			return nil
		}
		lastErr = werr
		if lastErr == nil {
			lastErr = cerr
		}
	}
	return errors.NewIOFault("append journal", lastErr)
}

// ReadResult is the outcome of one incremental journal read.
type ReadResult struct {
	// Events holds the parsed complete lines, in file order.
	Events []event.Event

	// NewOffset is the byte position after the last complete line. Feed it
	// back as the next read's offset.
	NewOffset int64

	// Malformed counts complete lines that failed to parse.
	Malformed int
}

// ReadFrom parses journal lines starting at a byte offset. Only complete,
// newline-terminated lines are consumed; a partial trailing line stays for
// the next read. An offset past the end of the file means the journal was
// replaced, and the read restarts from zero.
func (j *Journal) ReadFrom(conversationID string, offset int64) (*ReadResult, error) {
	if !ValidID(conversationID) {
		return nil, errors.NewInvalidQuery("invalid conversation id: " + conversationID)
	}

	f, err := os.Open(j.Path(conversationID))
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound(conversationID)
	}
	if err != nil {
		return nil, errors.NewIOFault("open journal", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.NewIOFault("stat journal", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.NewIOFault("seek journal", err)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.NewIOFault("read journal", err)
	}

	res := &ReadResult{NewOffset: offset}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return res, nil
	}
	complete := data[:end+1]
	res.NewOffset = offset + int64(len(complete))

	for _, line := range bytes.Split(complete, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			res.Malformed++
			continue
		}
		res.Events = append(res.Events, ev)
	}
	return res, nil
}

// ListConversations returns the IDs of every conversation with a journal
// file, sorted. A missing journal directory is an empty system, not an
// error.
func (j *Journal) ListConversations() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIOFault("list journals", err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Size returns the journal file size in bytes, zero when the conversation
// has no journal yet.
func (j *Journal) Size(conversationID string) (int64, error) {
	info, err := os.Stat(j.Path(conversationID))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.NewIOFault("stat journal", err)
	}
	return info.Size(), nil
}
