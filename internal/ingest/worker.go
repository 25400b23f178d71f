// Package ingest runs queued re-ingestion jobs in the background.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docchat/internal/pipeline"
	"github.com/kalambet/docchat/internal/storage"
)

// JobTypeReingest is the queue type for forced re-ingestion.
const JobTypeReingest = "reingest"

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Reingester re-runs ingestion for one document.
type Reingester interface {
	Reingest(ctx context.Context, documentID string) (pipeline.Result, error)
}

type reingestPayload struct {
	DocumentID string `json:"document_id"`
}

// Enqueue queues a reingest job for documentID and returns the job id.
func Enqueue(ctx context.Context, store Enqueuer, documentID string) (string, error) {
	payload, err := json.Marshal(reingestPayload{DocumentID: documentID})
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeReingest,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing reingest of %s: %w", documentID, err)
	}
	return job.ID, nil
}

// Worker processes reingest jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	pipeline Reingester
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, p Reingester, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		pipeline: p,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single reingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobTypeReingest})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload reingestPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("payload has no document_id")
	}

	res, err := w.pipeline.Reingest(ctx, payload.DocumentID)
	if err != nil {
		return fmt.Errorf("reingesting %s: %w", payload.DocumentID, err)
	}
	w.logger.Info("reingest job done", "job_id", job.ID, "document_id", res.DocumentID, "chunks", res.ChunkCount)
	return nil
}
