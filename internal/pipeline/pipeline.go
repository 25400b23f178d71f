// Package pipeline turns an uploaded document into a fully indexed set of
// embedded chunks, or leaves it with none.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kalambet/docchat/internal/domain"
	"github.com/kalambet/docchat/internal/embedding"
	"github.com/kalambet/docchat/internal/lock"
	"github.com/kalambet/docchat/internal/retrieval"
	"github.com/kalambet/docchat/internal/storage"
)

const (
	DefaultBatchSize    = 10
	DefaultConcurrency  = 4
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 500 * time.Millisecond
)

// DocumentStore is the slice of the relational store the pipeline drives.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	SetDocumentStatus(ctx context.Context, id string, status storage.DocumentStatus, lastError string) error
	MarkProcessed(ctx context.Context, id string) error
	ResetDocument(ctx context.Context, id string) error
}

// ObjectOpener reads stored document blobs.
type ObjectOpener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// TextExtractor turns a blob of a declared format into text.
type TextExtractor interface {
	Extract(r io.Reader, format domain.Format) (string, error)
}

// Splitter cuts text into chunks.
type Splitter interface {
	Split(text string) []string
}

// Result describes one ingestion run.
type Result struct {
	DocumentID string
	ChunkCount int
	Batches    int
	Duration   time.Duration
	// Skipped is set when the document was already processed.
	Skipped bool
}

// Pipeline runs extraction, chunking, embedding and persistence for one
// document at a time per document id.
type Pipeline struct {
	docs      DocumentStore
	objects   ObjectOpener
	extractor TextExtractor
	splitter  Splitter
	embedder  embedding.Client
	chunks    retrieval.ChunkStore

	batchSize    int
	concurrency  int
	maxAttempts  int
	initialDelay time.Duration
	locker       lock.Locker
	logger       *slog.Logger

	group singleflight.Group
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets how many chunks go into one embedding request.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of batches in flight.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRetry sets the embedding attempts per batch and the first backoff
// delay, which doubles after every failed attempt.
func WithRetry(attempts int, initialDelay time.Duration) Option {
	return func(p *Pipeline) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
		if initialDelay >= 0 {
			p.initialDelay = initialDelay
		}
	}
}

// WithLocker replaces the in-process lock, e.g. with a Redis lock shared
// by several servers.
func WithLocker(l lock.Locker) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.locker = l
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Pipeline.
func New(
	docs DocumentStore,
	objects ObjectOpener,
	extractor TextExtractor,
	splitter Splitter,
	embedder embedding.Client,
	chunks retrieval.ChunkStore,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		docs:         docs,
		objects:      objects,
		extractor:    extractor,
		splitter:     splitter,
		embedder:     embedder,
		chunks:       chunks,
		batchSize:    DefaultBatchSize,
		concurrency:  DefaultConcurrency,
		maxAttempts:  DefaultMaxAttempts,
		initialDelay: DefaultInitialDelay,
		locker:       lock.NewMemory(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest indexes the document unless it is already processed. Concurrent
// calls for the same id in this process share one run. A run held by
// another process fails with domain.ErrIngestionInProgress.
func (p *Pipeline) Ingest(ctx context.Context, documentID string) (Result, error) {
	return p.do(ctx, "ingest:"+documentID, documentID, false)
}

// Reingest drops the document's chunks and indexes it again.
func (p *Pipeline) Reingest(ctx context.Context, documentID string) (Result, error) {
	return p.do(ctx, "reingest:"+documentID, documentID, true)
}

func (p *Pipeline) do(ctx context.Context, flightKey, documentID string, force bool) (Result, error) {
	v, err, _ := p.group.Do(flightKey, func() (any, error) {
		return p.guarded(ctx, documentID, force)
	})
	if err != nil {
		return Result{DocumentID: documentID}, err
	}
	return v.(Result), nil
}

func (p *Pipeline) guarded(ctx context.Context, documentID string, force bool) (Result, error) {
	release, err := p.locker.Acquire(ctx, "ingest:"+documentID)
	if errors.Is(err, lock.ErrLocked) {
		return Result{}, fmt.Errorf("document %s: %w", documentID, domain.ErrIngestionInProgress)
	}
	if err != nil {
		return Result{}, fmt.Errorf("locking document %s: %w", documentID, err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			p.logger.Warn("releasing ingestion lock", "document_id", documentID, "error", err)
		}
	}()

	return p.run(ctx, documentID, force)
}

func (p *Pipeline) run(ctx context.Context, documentID string, force bool) (Result, error) {
	start := time.Now()
	res := Result{DocumentID: documentID}

	doc, err := p.docs.GetDocument(ctx, documentID)
	if err != nil {
		return res, fmt.Errorf("loading document %s: %w", documentID, err)
	}

	if doc.Processed && !force {
		n, err := p.chunks.CountDocumentChunks(ctx, documentID)
		if err != nil {
			return res, err
		}
		res.ChunkCount = n
		res.Skipped = true
		res.Duration = time.Since(start)
		return res, nil
	}

	if force {
		if err := p.docs.ResetDocument(ctx, documentID); err != nil {
			return res, fmt.Errorf("resetting document %s: %w", documentID, err)
		}
	}
	// Leftovers of an earlier run must not mix with the new set.
	if n, err := p.chunks.DeleteDocumentChunks(ctx, documentID); err != nil {
		return res, err
	} else if n > 0 {
		p.logger.Info("removed previous chunks", "document_id", documentID, "chunks", n)
	}

	texts, err := p.prepare(ctx, doc)
	if err != nil {
		return res, p.fail(ctx, documentID, err)
	}

	batches, err := p.embedAndStore(ctx, documentID, texts)
	if err != nil {
		return res, p.fail(ctx, documentID, err)
	}

	if err := p.docs.MarkProcessed(ctx, documentID); err != nil {
		return res, p.fail(ctx, documentID, domain.StorageErr("marking document processed", err))
	}

	res.ChunkCount = len(texts)
	res.Batches = batches
	res.Duration = time.Since(start)
	p.logger.Info("document processed",
		"document_id", documentID,
		"chunks", res.ChunkCount,
		"batch", res.Batches,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

// prepare runs the local stages: extraction and chunking.
func (p *Pipeline) prepare(ctx context.Context, doc storage.Document) ([]string, error) {
	p.stage(ctx, doc.ID, storage.StatusExtracting)

	rc, err := p.objects.Open(ctx, doc.ObjectName)
	if err != nil {
		return nil, fmt.Errorf("opening object %s: %w", doc.ObjectName, err)
	}
	text, err := p.extractor.Extract(rc, doc.Format)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("extracting %s: %w", doc.ObjectName, err)
	}

	p.stage(ctx, doc.ID, storage.StatusChunking)
	texts := p.splitter.Split(text)
	if len(texts) == 0 {
		return nil, fmt.Errorf("chunking %s: %w", doc.ObjectName, domain.ErrEmptyContent)
	}
	return texts, nil
}

// embedAndStore embeds and inserts batches concurrently. Every batch is
// committed on its own; the caller purges them all if any batch fails.
func (p *Pipeline) embedAndStore(ctx context.Context, documentID string, texts []string) (int, error) {
	p.stage(ctx, documentID, storage.StatusEmbedding)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	var persisting sync.Once
	batches := 0
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		batch, offset, n := texts[start:end], start, batches
		batches++

		g.Go(func() error {
			vecs, err := p.embedWithRetry(gctx, documentID, n, batch)
			if err != nil {
				return fmt.Errorf("embedding batch %d: %w", n, err)
			}
			persisting.Do(func() { p.stage(ctx, documentID, storage.StatusPersisting) })
			chunks := make([]retrieval.NewChunk, len(batch))
			for i, text := range batch {
				chunks[i] = retrieval.NewChunk{Position: offset + i, Content: text, Embedding: vecs[i]}
			}
			if _, err := p.chunks.BulkInsert(gctx, documentID, chunks); err != nil {
				return fmt.Errorf("storing batch %d: %w", n, err)
			}
			p.logger.Debug("batch stored", "document_id", documentID, "batch", n, "chunks", len(chunks))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return batches, nil
}

func (p *Pipeline) embedWithRetry(ctx context.Context, documentID string, batch int, texts []string) ([][]float32, error) {
	delay := p.initialDelay
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				return nil, domain.EmbeddingErr(fmt.Errorf("got %d vectors for %d chunks", len(vecs), len(texts)))
			}
			return vecs, nil
		}
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}

		p.logger.Warn("embedding batch failed, retrying",
			"document_id", documentID, "batch", batch, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, domain.EmbeddingErr(lastErr)
}

// fail purges the run's chunks and records the failure. It returns cause.
func (p *Pipeline) fail(ctx context.Context, documentID string, cause error) error {
	// Cleanup runs even when ctx is done.
	ctx = context.WithoutCancel(ctx)

	if _, err := p.chunks.DeleteDocumentChunks(ctx, documentID); err != nil {
		p.logger.Error("purging chunks of failed document", "document_id", documentID, "error", err)
	}
	if err := p.docs.SetDocumentStatus(ctx, documentID, storage.StatusFailed, cause.Error()); err != nil {
		p.logger.Error("recording failed status", "document_id", documentID, "error", err)
	}
	p.logger.Error("document ingestion failed", "document_id", documentID, "stage", storage.StatusFailed, "error", cause)
	return cause
}

func (p *Pipeline) stage(ctx context.Context, documentID string, status storage.DocumentStatus) {
	if err := p.docs.SetDocumentStatus(ctx, documentID, status, ""); err != nil {
		p.logger.Warn("recording ingestion stage", "document_id", documentID, "stage", status, "error", err)
		return
	}
	p.logger.Debug("ingestion stage", "document_id", documentID, "stage", status)
}
