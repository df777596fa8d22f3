// Package ingest implements the bulk ingestion pipeline: a bounded worker
// pool extracts features, uploads image bytes to blob storage, and batches
// the resulting vectors into the index. Failures are isolated per item; the
// only fatal condition is the index refusing a batch flush.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantumvision/quantum-image-search/engine/index"
	"github.com/quantumvision/quantum-image-search/pkg/fn"
)

// Extractor produces a fixed-dimension feature vector for an image.
type Extractor interface {
	ExtractFeatures(ctx context.Context, image []byte) ([]float32, error)
}

// BlobStore uploads image bytes and returns the stored asset's id and URL.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, filename, category string) (id, url string, err error)
}

// Index is the subset of the vector store the pipeline needs.
type Index interface {
	Upsert(ctx context.Context, records []index.Record) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (uint64, error)
}

// Options tunes a pipeline.
type Options struct {
	// Concurrency bounds the worker pool. Default 20.
	Concurrency int
	// BatchSize is the number of vectors per upsert call. Default 100.
	BatchSize int
	// CallTimeout caps each external call (extractor, blob store, index).
	// Zero means no per-call timeout.
	CallTimeout time.Duration
	// VerifyAttempts and VerifyWait control how DeleteAllAndVerify polls
	// for deletion to propagate.
	VerifyAttempts int
	VerifyWait     time.Duration
}

func (o *Options) applyDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 20
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.VerifyAttempts <= 0 {
		o.VerifyAttempts = 3
	}
	if o.VerifyWait <= 0 {
		o.VerifyWait = 2 * time.Second
	}
}

// Deps are the pipeline's external collaborators.
type Deps struct {
	Extractor Extractor
	Blobs     BlobStore
	Index     Index
	Logger    *slog.Logger
	Events    *Events // optional; nil disables event publishing
}

// Pipeline ingests images into the vector index.
type Pipeline struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// New builds a pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Extractor == nil || deps.Blobs == nil || deps.Index == nil {
		return nil, fmt.Errorf("ingest: extractor, blob store, and index are required")
	}
	opts.applyDefaults()
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{deps: deps, opts: opts, log: log}, nil
}

// Run processes files through the worker pool and batches results into the
// index. Per-item failures are recorded in the report and never abort the
// run. A flush failure is fatal: submission stops, in-flight items finish,
// and the returned *FlushError carries flushed-vs-lost counts.
//
// On context cancellation Run stops submitting new work, lets in-flight
// items finish naturally, then performs a final flush of whatever was
// accumulated, so no buffered item is silently discarded.
func (p *Pipeline) Run(ctx context.Context, files []SourceFile, category string) (Report, error) {
	start := time.Now()

	batch := newBatcher(p.opts.BatchSize, func(fctx context.Context, recs []index.Record) error {
		return p.deps.Index.Upsert(fctx, recs)
	})

	// runCtx gates submission only. Item processing uses a detached
	// context so cancellation lets in-flight work complete.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		succeeded int
		failures  []Failure
	)
	recordFailure := func(f Failure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
		p.deps.Events.ItemFailed(context.WithoutCancel(ctx), category, f)
	}

	sem := make(chan struct{}, p.opts.Concurrency)
	var wg sync.WaitGroup

	for _, f := range files {
		if runCtx.Err() != nil {
			p.log.Info("ingest: submission stopped", "reason", runCtx.Err(), "remaining", len(files))
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(f SourceFile) {
			defer func() { <-sem; wg.Done() }()

			item := p.processOne(context.WithoutCancel(runCtx), f, category)
			if item.Status == StatusFailed {
				p.log.Warn("ingest: item failed", "file", item.Filename, "err", item.Err)
				recordFailure(Failure{Filename: item.Filename, Error: item.Err.Error()})
				return
			}

			rec := index.Record{ID: item.VectorID, Vector: item.Vector, Payload: item.Payload}
			// Flushes triggered by in-flight items ride a detached context,
			// like the final drain: cancellation alone must never poison the
			// batcher and lose a buffered batch against a healthy index.
			if err := batch.add(context.WithoutCancel(runCtx), rec); err != nil {
				// Flush failure: poison observed. Stop submitting and
				// count this item as failed so nothing is silently lost.
				cancel()
				recordFailure(Failure{Filename: item.Filename, Error: err.Error()})
				return
			}
			item.Status = StatusIndexed
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(f)
	}
	wg.Wait()

	// Final flush always runs on a detached context so buffered items
	// survive cancellation.
	flushErr := batch.drain(context.WithoutCancel(ctx))

	flushed, flushes, _ := batch.stats()
	report := Report{
		Total:     len(files),
		Succeeded: succeeded,
		Failed:    failures,
		Flushed:   flushed,
		Flushes:   flushes,
		Elapsed:   time.Since(start),
	}

	p.deps.Events.RunDone(context.WithoutCancel(ctx), category, report)
	p.log.Info("ingest: run complete",
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", len(report.Failed),
		"flushed", report.Flushed,
		"flushes", report.Flushes,
		"elapsed", report.Elapsed,
	)

	if flushErr != nil {
		return report, flushErr
	}
	return report, nil
}

// processOne runs a single file through load → extract → upload → assemble.
// Every sub-step failure is caught here at the item boundary.
func (p *Pipeline) processOne(ctx context.Context, f SourceFile, category string) Item {
	item := Item{
		Source:   f,
		Category: category,
		Filename: filepath.Base(f.Path),
		Status:   StatusPending,
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return failed(item, fmt.Errorf("read: %w", err))
	}

	cctx := ctx
	if p.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, p.opts.CallTimeout)
		defer cancel()
	}

	vector, err := p.deps.Extractor.ExtractFeatures(cctx, data)
	if err != nil {
		return failed(item, fmt.Errorf("extract features: %w", err))
	}

	blobID, blobURL, err := p.deps.Blobs.Upload(cctx, data, item.Filename, category)
	if err != nil {
		return failed(item, fmt.Errorf("blob upload: %w", err))
	}
	item.Status = StatusUploaded

	stem := Stem(f.Path)
	item.VectorID = VectorID(category, f.Subfolder, stem)
	item.Vector = vector
	item.Payload = map[string]any{
		"filename":    item.Filename,
		"category":    category,
		"blob_id":     blobID,
		"blob_url":    blobURL,
		"source_id":   SourceID(category, f.Subfolder, stem),
		"uploaded_at": time.Now().UTC().Format(time.RFC3339),
	}
	if f.Subfolder != "" {
		item.Payload["subcategory"] = f.Subfolder
	}
	return item
}

func failed(item Item, err error) Item {
	item.Status = StatusFailed
	item.Err = err
	return item
}

// DeleteAllAndVerify issues a delete-all against the index and re-reads the
// count until it is confirmed zero. It returns the pre-delete count.
// Callers own the confirmation gate; this is the pure destructive primitive.
func (p *Pipeline) DeleteAllAndVerify(ctx context.Context) (uint64, error) {
	before, err := p.deps.Index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: count before delete: %w", err)
	}
	if before == 0 {
		return 0, nil
	}

	if err := p.deps.Index.DeleteAll(ctx); err != nil {
		return before, fmt.Errorf("ingest: delete all: %w", err)
	}

	// Deletion may take a moment to propagate; poll with a bounded retry.
	res := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: p.opts.VerifyAttempts,
		InitialWait: p.opts.VerifyWait,
		MaxWait:     p.opts.VerifyWait,
	}, func(ctx context.Context) fn.Result[uint64] {
		n, err := p.deps.Index.Count(ctx)
		if err != nil {
			return fn.Err[uint64](err)
		}
		if n != 0 {
			return fn.Errf[uint64]("%w: %d vectors remain", ErrResetUnverified, n)
		}
		return fn.Ok(n)
	})
	if _, err := res.Unwrap(); err != nil {
		return before, err
	}

	p.log.Info("ingest: index reset verified", "deleted", before)
	return before, nil
}
