package indexer

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Worker is the blocking executor named in spec §5: a semaphore that
// bounds how many CPU-heavy advance_blocks, backup_blocks, and flush jobs
// (including the KV store's write-batch commit) run at once. A job runs
// on the calling goroutine, which blocks until it finishes; the
// prefetcher runs on its own goroutine and keeps fetching meanwhile.
type Worker struct {
	sem *semaphore.Weighted
}

// NewWorker builds a blocking executor with room for concurrency
// in-flight jobs. The indexer only ever has one advance/backup/flush
// call outstanding at a time (they all hold the state lock), so
// concurrency is normally 1; it exists to let callers size a shared
// pool if they dispatch other blocking work through the same Worker.
func NewWorker(concurrency int64) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{sem: semaphore.NewWeighted(concurrency)}
}

// Run waits for a free slot, then executes fn on the caller's goroutine,
// blocking the caller until it completes or ctx is canceled while
// waiting for a slot.
func (w *Worker) Run(ctx context.Context, fn func() error) error {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer w.sem.Release(1)
	return fn()
}

// RunLocked is Run for call sites that already hold the state lock and
// have no cancellation context of their own (the state lock itself
// bounds how long the job can be contended for).
func (w *Worker) RunLocked(fn func() error) error {
	return w.Run(context.Background(), fn)
}
