package embed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

const defaultBatchSize = 32

// Item is one event's content queued for embedding.
type Item struct {
	ID      string
	Content string
}

// StoreFunc persists one encoded vector. It is called once per item and
// must be safe for concurrent use.
type StoreFunc func(eventID string, vector []byte) error

// Pool embeds batches through a bounded number of concurrent workers so a
// large backfill cannot saturate the CPU or the backend.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool allowing up to workers concurrent embedding batches.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Run partitions items into batches of batchSize and embeds them
// concurrently, storing each vector as it arrives. A batch embeds and
// stores as a unit. The first failure stops new batches from being
// scheduled; in-flight batches finish before Run returns. The returned
// count is the number of vectors stored, which can be nonzero alongside an
// error.
func (p *Pool) Run(ctx context.Context, embedder Embedder, items []Item, batchSize int, store StoreFunc) (int, error) {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}

	var (
		wg     sync.WaitGroup
		stored atomic.Int64
		mu     sync.Mutex
		first  error
	)
	fail := func(err error) {
		mu.Lock()
		if first == nil {
			first = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return first != nil
	}

	for start := 0; start < len(items); start += batchSize {
		if failed() {
			break
		}
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		if err := p.sem.Acquire(ctx, 1); err != nil {
			fail(err)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.sem.Release(1)
			n, err := embedBatch(ctx, embedder, batch, store)
			stored.Add(int64(n))
			if err != nil {
				fail(err)
			}
		}()
	}

	wg.Wait()
	return int(stored.Load()), first
}

func embedBatch(ctx context.Context, embedder Embedder, batch []Item, store StoreFunc) (int, error) {
	texts := make([]string, len(batch))
	for i, item := range batch {
		texts[i] = item.Content
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(batch) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d items", len(vectors), len(batch))
	}

	n := 0
	for i, vec := range vectors {
		if len(vec) == 0 {
			continue
		}
		if err := store(batch[i].ID, EncodeVector(vec)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
