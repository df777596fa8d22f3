// Package main implements the image similarity search API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantumvision/quantum-image-search/engine/index"
	"github.com/quantumvision/quantum-image-search/engine/quantum"
	"github.com/quantumvision/quantum-image-search/engine/retrieval"
	"github.com/quantumvision/quantum-image-search/pkg/blobstore"
	"github.com/quantumvision/quantum-image-search/pkg/config"
	"github.com/quantumvision/quantum-image-search/pkg/extractor"
	"github.com/quantumvision/quantum-image-search/pkg/metrics"
	"github.com/quantumvision/quantum-image-search/pkg/mid"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Connect to the vector index ---
	store, err := index.New(cfg.Index.Addr, cfg.Index.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()
	if err := store.EnsureCollection(ctx, cfg.Extractor.Dimension); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	// --- External services ---
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

	// --- Quantum engine + retrieval orchestrator ---
	engine, err := quantum.New(cfg.Quantum)
	if err != nil {
		return fmt.Errorf("quantum engine: %w", err)
	}
	search := retrieval.New(store, engine, logger)

	srv := newServer(cfg, logger, store, ext, blobs, search, metrics.New())

	handler := mid.Chain(srv.routes(),
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.OTel("quantum-image-search"),
	)

	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr(), "quantum", search.QuantumEnabled())
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}
