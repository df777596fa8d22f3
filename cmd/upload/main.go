// Command upload bulk-ingests a directory of images into the vector index:
// feature extraction, blob upload, and batched upserts through a bounded
// worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/nats-io/nats.go"

	"github.com/quantumvision/quantum-image-search/engine/domain"
	"github.com/quantumvision/quantum-image-search/engine/index"
	"github.com/quantumvision/quantum-image-search/engine/ingest"
	"github.com/quantumvision/quantum-image-search/pkg/blobstore"
	"github.com/quantumvision/quantum-image-search/pkg/config"
	"github.com/quantumvision/quantum-image-search/pkg/extractor"
	"github.com/quantumvision/quantum-image-search/pkg/metrics"
)

var met = metrics.New()

var (
	mFilesFound  = met.Counter("upload_files_found_total", "Image files discovered")
	mIndexed     = met.Counter("upload_indexed_total", "Vectors written to the index")
	mFailed      = met.Counter("upload_failed_total", "Items that failed processing")
	mFlushes     = met.Counter("upload_flushes_total", "Batch upsert calls")
	mRunDuration = met.Histogram("upload_run_duration_seconds", "Whole-run wall time", []float64{1, 5, 15, 60, 300, 900, 3600})
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config (optional)")
		dir         = flag.String("dir", "", "directory of images to ingest (required)")
		category    = flag.String("category", "", "category label: healthcare, satellite, or surveillance (required)")
		concurrency = flag.Int("concurrency", 0, "worker pool size (overrides config)")
		batchSize   = flag.Int("batch", 0, "vectors per upsert batch (overrides config)")
		metricsPort = flag.Int("metrics-port", 0, "serve /metrics on this port while running (0 disables)")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if *dir == "" || *category == "" {
		fmt.Fprintln(os.Stderr, "usage: upload -dir <images> -category <name> [-config file]")
		os.Exit(2)
	}
	if err := domain.ValidateCategory(*category); err != nil {
		log.Error("invalid category", "err", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}
	if *concurrency > 0 {
		cfg.Ingest.Concurrency = *concurrency
	}
	if *batchSize > 0 {
		cfg.Ingest.BatchSize = *batchSize
	}

	if *metricsPort > 0 {
		met.ServeAsync(*metricsPort)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := run(ctx, cfg, log, *dir, *category)
	printSummary(report)
	if err != nil {
		log.Error("ingestion run failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, dir, category string) (ingest.Report, error) {
	store, err := index.New(cfg.Index.Addr, cfg.Index.Collection)
	if err != nil {
		return ingest.Report{}, fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()
	if err := store.EnsureCollection(ctx, cfg.Extractor.Dimension); err != nil {
		return ingest.Report{}, fmt.Errorf("ensure collection: %w", err)
	}
	log.Info("connected to Qdrant", "collection", cfg.Index.Collection)

	ext := extractor.New(extractor.Opts{
		BaseURL:   cfg.Extractor.BaseURL,
		Model:     cfg.Extractor.Model,
		Dimension: cfg.Extractor.Dimension,
		RPS:       cfg.Extractor.RPS,
	})
	blobs := blobstore.New(blobstore.Opts{
		BaseURL:   cfg.Blob.BaseURL,
		CloudName: cfg.Blob.CloudName,
		APIKey:    cfg.Blob.APIKey,
		APISecret: cfg.Blob.APISecret,
		Folder:    cfg.Blob.Folder,
		RPS:       cfg.Blob.RPS,
	})

	var events *ingest.Events
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			log.Warn("nats connect failed, events disabled", "err", err)
		} else {
			defer nc.Drain()
			events = ingest.NewEvents(nc, log)
		}
	}

	pipeline, err := ingest.New(ingest.Deps{
		Extractor: ext,
		Blobs:     blobs,
		Index:     store,
		Logger:    log,
		Events:    events,
	}, ingest.Options{
		Concurrency: cfg.Ingest.Concurrency,
		BatchSize:   cfg.Ingest.BatchSize,
	})
	if err != nil {
		return ingest.Report{}, err
	}

	files, err := ingest.Discover(dir)
	if err != nil {
		return ingest.Report{}, err
	}
	mFilesFound.Add(int64(len(files)))
	log.Info("starting ingestion", "files", len(files), "category", category,
		"concurrency", cfg.Ingest.Concurrency, "batch", cfg.Ingest.BatchSize)

	report, err := pipeline.Run(ctx, files, category)

	mIndexed.Add(int64(report.Flushed))
	mFailed.Add(int64(len(report.Failed)))
	mFlushes.Add(int64(report.Flushes))
	mRunDuration.Observe(report.ElapsedSeconds())
	return report, err
}

func printSummary(r ingest.Report) {
	fmt.Printf("\nIngestion complete in %.1fs\n", r.ElapsedSeconds())
	fmt.Printf("  total:     %d\n", r.Total)
	fmt.Printf("  succeeded: %d\n", r.Succeeded)
	fmt.Printf("  failed:    %d\n", len(r.Failed))
	fmt.Printf("  flushed:   %d vectors in %d batches\n", r.Flushed, r.Flushes)
	for _, f := range r.Failed {
		fmt.Printf("    %s: %s\n", f.Filename, f.Error)
	}
}
