// Package ingest runs the chunk → embed → store pipeline and the background
// worker that feeds it from the job queue.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pitchlab/knowd/internal/chunker"
	"github.com/pitchlab/knowd/internal/storage"
	"github.com/pitchlab/knowd/internal/vectorstore"
)

// ErrEmptyDocument is returned when the parsed text contains nothing to
// chunk. It fails the whole run; no chunks are attempted.
var ErrEmptyDocument = errors.New("parsed text is empty")

// ChunkWriter persists the chunk rows produced by one run, replacing any
// rows from a prior run.
type ChunkWriter interface {
	ReplaceChunks(documentID string, chunks []storage.Chunk) error
}

// Embedder generates embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorUpserter stores embedded records in the active vector backend.
type VectorUpserter interface {
	Upsert(ctx context.Context, records []vectorstore.Record) error
}

// Result is the outcome of one ingestion run. Partial success — some chunks
// embedded, some failed — is a reportable outcome, not an error.
type Result struct {
	Inserted    int
	Failed      int
	TotalChunks int
	Errors      []string
}

// Success reports whether every chunk was embedded and stored.
func (r Result) Success() bool {
	return r.Failed == 0
}

// ErrorSummary joins the per-chunk error messages for persistence on the
// document record.
func (r Result) ErrorSummary() string {
	return strings.Join(r.Errors, "; ")
}

// Pipeline turns parsed document text into stored vectors.
type Pipeline struct {
	chunks   ChunkWriter
	embedder Embedder
	vectors  VectorUpserter
	workers  int
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. workers bounds how many chunks are embedded
// concurrently; values below 1 mean strictly sequential processing.
func NewPipeline(chunks ChunkWriter, embedder Embedder, vectors VectorUpserter, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		chunks:   chunks,
		embedder: embedder,
		vectors:  vectors,
		workers:  workers,
		logger:   slog.Default(),
	}
}

// Run chunks text, embeds each chunk, and upserts the vectors. Failures are
// isolated per chunk: a failed embed or upsert is recorded in the result and
// the run continues. Run only returns an error for run-level problems (empty
// text); it never throws for per-chunk failures.
func (p *Pipeline) Run(ctx context.Context, doc storage.Document, text string) (Result, error) {
	splitter := chunker.New(doc.ChunkSize, doc.ChunkOverlap, "")
	pieces := splitter.Split(text)
	if len(pieces) == 0 {
		return Result{}, ErrEmptyDocument
	}

	meta, err := json.Marshal(map[string]string{
		"fileName": doc.FileName,
		"fileType": doc.FileType,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshalling chunk metadata: %w", err)
	}

	rows := make([]storage.Chunk, len(pieces))
	for i, c := range pieces {
		rows[i] = storage.Chunk{
			DocumentID:  doc.ID,
			ChunkIndex:  c.Index,
			Text:        c.Text,
			StartOffset: c.StartOffset,
			EndOffset:   c.EndOffset,
			TotalChunks: c.TotalChunks,
			Metadata:    string(meta),
		}
	}
	if err := p.chunks.ReplaceChunks(doc.ID, rows); err != nil {
		return Result{}, fmt.Errorf("persisting chunks for %s: %w", doc.ID, err)
	}

	res := Result{TotalChunks: len(pieces)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.workers)

	for _, c := range pieces {
		id := vectorstore.RecordID(doc.ID, c.Index)
		g.Go(func() error {
			if err := p.processChunk(ctx, doc, c, id); err != nil {
				p.logger.Warn("chunk failed", "document_id", doc.ID, "chunk", id, "error", err)
				mu.Lock()
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("chunk %s: %v", id, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			res.Inserted++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return res, nil
}

func (p *Pipeline) processChunk(ctx context.Context, doc storage.Document, c chunker.Chunk, id string) error {
	vec, err := p.embedder.Embed(ctx, c.Text)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	rec := vectorstore.Record{
		ID:           id,
		DocumentID:   doc.ID,
		ChunkIndex:   c.Index,
		TotalChunks:  c.TotalChunks,
		Text:         c.Text,
		Embedding:    vec,
		DocumentName: doc.Name,
		FileType:     doc.FileType,
		StartOffset:  c.StartOffset,
		EndOffset:    c.EndOffset,
	}
	if err := p.vectors.Upsert(ctx, []vectorstore.Record{rec}); err != nil {
		return fmt.Errorf("storing vector: %w", err)
	}
	return nil
}
