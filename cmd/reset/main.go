// Command reset wipes the vector collection and optionally re-ingests a
// directory of images afterwards. The wipe is gated behind an interactive
// confirmation: the operator must type DELETE.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/quantumvision/quantum-image-search/engine/domain"
	"github.com/quantumvision/quantum-image-search/engine/index"
	"github.com/quantumvision/quantum-image-search/engine/ingest"
	"github.com/quantumvision/quantum-image-search/pkg/blobstore"
	"github.com/quantumvision/quantum-image-search/pkg/config"
	"github.com/quantumvision/quantum-image-search/pkg/extractor"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (optional)")
		dir        = flag.String("dir", "", "directory to re-ingest after the wipe (optional)")
		category   = flag.String("category", "", "category for re-ingestion (required with -dir)")
		yes        = flag.Bool("yes", false, "skip the confirmation prompt (for automation)")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if *dir != "" {
		if err := domain.ValidateCategory(*category); err != nil || *category == "" {
			fmt.Fprintln(os.Stderr, "reset: -dir requires a valid -category")
			os.Exit(2)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, log, *dir, *category, *yes, os.Stdin); err != nil {
		log.Error("reset failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger, dir, category string, yes bool, in io.Reader) error {
	store, err := index.New(cfg.Index.Addr, cfg.Index.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

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

	pipeline, err := ingest.New(ingest.Deps{
		Extractor: ext,
		Blobs:     blobs,
		Index:     store,
		Logger:    log,
	}, ingest.Options{
		Concurrency: cfg.Ingest.Concurrency,
		BatchSize:   cfg.Ingest.BatchSize,
	})
	if err != nil {
		return err
	}

	if !yes {
		if err := confirm(in, cfg.Index.Collection); err != nil {
			return err
		}
	}

	deleted, err := pipeline.DeleteAllAndVerify(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d vectors from %q\n", deleted, cfg.Index.Collection)

	if dir == "" {
		return nil
	}

	files, err := ingest.Discover(dir)
	if err != nil {
		return err
	}
	log.Info("re-ingesting", "files", len(files), "category", category)
	report, err := pipeline.Run(ctx, files, category)
	fmt.Printf("re-ingested %d/%d images (%d failed) in %.1fs\n",
		report.Succeeded, report.Total, len(report.Failed), report.ElapsedSeconds())
	return err
}

// confirm requires the operator to type DELETE, exactly.
func confirm(in io.Reader, collection string) error {
	fmt.Printf("This permanently deletes every vector in %q.\nType DELETE to continue: ", collection)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("reset: read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != "DELETE" {
		return ingest.ErrConfirmationDenied
	}
	return nil
}
