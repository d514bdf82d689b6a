package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pitchlab/knowd/internal/storage"
)

// JobType is the queue entry type for document ingestion runs.
const JobType = "document_ingest"

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Processor executes one ingestion run for a document. Run-level outcomes
// (COMPLETED/FAILED, per-chunk errors) are recorded on the document itself;
// a returned error means the run could not start at all.
type Processor interface {
	Process(ctx context.Context, documentID string) error
}

// ErrAlreadyProcessing is returned by a Processor when a run for the same
// document is already in flight. The worker treats it as safely ignorable
// rather than as a job failure.
var ErrAlreadyProcessing = errors.New("document is already processing")

// Worker polls the job queue and drives the ingestion processor.
type Worker struct {
	store     JobStore
	processor Processor
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, processor Processor, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		processor: processor,
		poll:      pollInterval,
		logger:    slog.Default(),
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

// jobPayload is the queue entry body.
type jobPayload struct {
	DocumentID string `json:"document_id"`
}

// NewJobPayload builds the payload JSON for an ingestion job.
func NewJobPayload(documentID string) (string, error) {
	b, err := json.Marshal(jobPayload{DocumentID: documentID})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// RunOnce claims and processes a single ingestion job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		if errors.Is(err, ErrAlreadyProcessing) {
			// Another run already owns this document; the overlapping trigger
			// is dropped, not retried.
			w.logger.Warn("skipping job for in-flight document", "job_id", job.ID)
			if completeErr := w.store.CompleteJob(job.ID); completeErr != nil {
				return true, fmt.Errorf("completing skipped job %s: %w", job.ID, completeErr)
			}
			return true, nil
		}
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.DocumentID == "" {
		return errors.New("payload has no document_id")
	}
	return w.processor.Process(ctx, payload.DocumentID)
}
