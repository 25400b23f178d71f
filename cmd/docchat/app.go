package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"google.golang.org/api/option"

	"github.com/kalambet/docchat/internal/chunker"
	"github.com/kalambet/docchat/internal/composer"
	"github.com/kalambet/docchat/internal/config"
	"github.com/kalambet/docchat/internal/conversation"
	"github.com/kalambet/docchat/internal/engine"
	"github.com/kalambet/docchat/internal/extract"
	"github.com/kalambet/docchat/internal/ingest"
	"github.com/kalambet/docchat/internal/lock"
	"github.com/kalambet/docchat/internal/objects"
	"github.com/kalambet/docchat/internal/pipeline"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
)

// app is the wired service shared by serve and the local ingest command.
type app struct {
	cfg       config.Config
	store     *storage.Store
	providers *engine.Providers
	objects   objects.Store
	pipeline  *pipeline.Pipeline
	orch      *conversation.Orchestrator
	uploader  *conversation.Uploader
	worker    *ingest.Worker

	closers []io.Closer
}

func setupLogging(cfg config.Config) error {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

// buildApp opens storage and constructs every component named in cfg.
// Local model checks write their progress to w.
func buildApp(ctx context.Context, cfg config.Config, w io.Writer) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	providers, err := engine.Build(cfg)
	if err != nil {
		return nil, fmt.Errorf("building providers: %w", err)
	}
	if err := providers.EnsureReady(ctx, w); err != nil {
		return nil, err
	}
	a.providers = providers

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store)

	chunks, err := a.chunkStore(cfg)
	if err != nil {
		return nil, err
	}

	objs, err := openObjects(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.objects = objs

	locker, err := a.locker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	splitter := chunker.New(
		chunker.WithChunkSize(cfg.Chunking.ChunkSize),
		chunker.WithOverlap(cfg.Chunking.Overlap),
	)
	a.pipeline = pipeline.New(store, objs, extract.New(), splitter, providers.Embedder, chunks,
		pipeline.WithBatchSize(cfg.Ingestion.BatchSize),
		pipeline.WithConcurrency(cfg.Ingestion.Concurrency),
		pipeline.WithRetry(cfg.Ingestion.MaxRetries, pipeline.DefaultInitialDelay),
		pipeline.WithLocker(locker),
		pipeline.WithLogger(slog.Default()),
	)

	retriever := retrieval.NewRetriever(providers.Embedder, chunks, store)
	a.orch = conversation.NewOrchestrator(store, retriever, composer.New(cfg.Retrieval.MaxContextChars), providers.Completer, cfg.Retrieval.TopK)
	a.uploader = conversation.NewUploader(store, objs, a.pipeline, int64(cfg.Upload.MaxBytes))
	a.worker = ingest.NewWorker(store, a.pipeline, 500*time.Millisecond)

	ok = true
	return a, nil
}

func (a *app) chunkStore(cfg config.Config) (retrieval.ChunkStore, error) {
	switch cfg.Storage.ChunkBackend {
	case "qdrant":
		qs, err := retrieval.NewQdrantStore(retrieval.QdrantConfig{
			URL:        cfg.Qdrant.URL,
			Collection: cfg.Qdrant.Collection,
			APIKey:     cfg.Qdrant.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		a.closers = append(a.closers, qs)
		return qs, nil
	default:
		return retrieval.NewSQLiteStore(a.store.DB()), nil
	}
}

func openObjects(ctx context.Context, cfg config.Config) (objects.Store, error) {
	switch cfg.Objects.Backend {
	case "gcs":
		var opts []option.ClientOption
		if cfg.Objects.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Objects.GCSCredentialsFile))
		}
		return objects.NewGCS(ctx, cfg.Objects.GCSBucket, opts...)
	default:
		return objects.NewLocal(cfg.Objects.LocalDir, cfg.Objects.BaseURL)
	}
}

func (a *app) locker(ctx context.Context, cfg config.Config) (lock.Locker, error) {
	switch cfg.Ingestion.Lock {
	case "redis":
		client, err := lock.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, client)
		return lock.NewRedis(client, lock.DefaultTTL), nil
	default:
		return lock.NewMemory(), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
