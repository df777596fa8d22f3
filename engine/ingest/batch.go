package ingest

import (
	"context"
	"sync"

	"github.com/quantumvision/quantum-image-search/engine/index"
)

// batcher accumulates records and flushes them in fixed-size batches. The
// append-and-maybe-flush step is one critical section: the mutex is held
// across both the buffer swap and the flush call, so two workers can never
// both observe a full buffer and double-flush, and exactly one flush is in
// flight at a time.
type batcher struct {
	mu    sync.Mutex
	size  int
	flush func(context.Context, []index.Record) error

	buf     []index.Record
	flushed int
	flushes int
	failed  *FlushError
}

func newBatcher(size int, flush func(context.Context, []index.Record) error) *batcher {
	return &batcher{size: size, flush: flush, buf: make([]index.Record, 0, size)}
}

// add appends one record and flushes if the batch is full. After a flush
// failure the batcher is poisoned: every subsequent add returns the same
// error so workers stop feeding a dead index.
func (b *batcher) add(ctx context.Context, rec index.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed != nil {
		return b.failed
	}
	b.buf = append(b.buf, rec)
	if len(b.buf) >= b.size {
		return b.flushLocked(ctx)
	}
	return nil
}

// drain flushes whatever is buffered, regardless of size.
func (b *batcher) drain(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failed != nil {
		return b.failed
	}
	return b.flushLocked(ctx)
}

// flushLocked swaps the buffer out and flushes it. Caller holds mu.
func (b *batcher) flushLocked(ctx context.Context) error {
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = make([]index.Record, 0, b.size)
	if err := b.flush(ctx, batch); err != nil {
		b.failed = &FlushError{Flushed: b.flushed, Lost: len(batch), Err: err}
		return b.failed
	}
	b.flushed += len(batch)
	b.flushes++
	return nil
}

// stats returns the flushed vector count, the number of flush calls, and
// how many records are still buffered.
func (b *batcher) stats() (flushed, flushes, pending int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed, b.flushes, len(b.buf)
}
