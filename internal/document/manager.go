// Package document owns the document lifecycle: upload, ingestion runs,
// reprocessing, deletion, and statistics.
package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/pitchlab/knowd/internal/chunker"
	"github.com/pitchlab/knowd/internal/ingest"
	"github.com/pitchlab/knowd/internal/parser"
	"github.com/pitchlab/knowd/internal/storage"
	"github.com/pitchlab/knowd/internal/vectorstore"
)

// ErrInvalidUpload marks upload parameter validation failures. Callers map it
// to a client error rather than a server fault.
var ErrInvalidUpload = errors.New("invalid upload")

// Manager is the entry point the HTTP and MCP layers use for everything
// document-related. It keeps document rows, chunk rows, stored vectors, and
// the uploaded file in sync; vector and file cleanup are explicit best-effort
// steps, never assumed atomic with the row delete.
type Manager struct {
	store        *storage.Store
	vectors      vectorstore.VectorStore
	pipeline     *ingest.Pipeline
	parser       parser.Parser
	filesDir     string
	chunkSize    int
	chunkOverlap int
	logger       *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewManager creates a Manager. filesDir is where uploaded files are kept;
// chunkSize and chunkOverlap are the defaults applied to uploads that do not
// specify their own.
func NewManager(store *storage.Store, vectors vectorstore.VectorStore, pipeline *ingest.Pipeline, p parser.Parser, filesDir string, chunkSize, chunkOverlap int) *Manager {
	if chunkSize <= 0 {
		chunkSize = chunker.DefaultChunkSize
	}
	if chunkOverlap <= 0 {
		chunkOverlap = chunker.DefaultChunkOverlap
	}
	return &Manager{
		store:        store,
		vectors:      vectors,
		pipeline:     pipeline,
		parser:       p,
		filesDir:     filesDir,
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		logger:       slog.Default(),
		inflight:     make(map[string]struct{}),
	}
}

// UploadParams describes one uploaded file.
type UploadParams struct {
	Name         string
	FileName     string
	Data         []byte
	ChunkSize    int
	ChunkOverlap int
	AutoProcess  bool
}

// Upload persists the file, creates the document in PENDING, and — when
// autoProcess is set — schedules an ingestion run. The caller is not blocked
// on ingestion; it polls the document status instead.
func (m *Manager) Upload(params UploadParams) (storage.Document, error) {
	if params.FileName == "" {
		return storage.Document{}, fmt.Errorf("%w: file name is required", ErrInvalidUpload)
	}
	name := params.Name
	if name == "" {
		name = params.FileName
	}
	chunkSize := params.ChunkSize
	if chunkSize <= 0 {
		chunkSize = m.chunkSize
	}
	chunkOverlap := params.ChunkOverlap
	if chunkOverlap <= 0 {
		chunkOverlap = m.chunkOverlap
	}

	id := uuid.New().String()
	doc := storage.Document{
		ID:           id,
		Name:         name,
		FileName:     params.FileName,
		FileType:     parser.FileType(params.FileName),
		SizeBytes:    int64(len(params.Data)),
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Status:       storage.StatusPending,
	}

	if err := os.MkdirAll(m.filesDir, 0o755); err != nil {
		return storage.Document{}, fmt.Errorf("creating files directory: %w", err)
	}
	if err := os.WriteFile(m.filePath(doc), params.Data, 0o644); err != nil {
		return storage.Document{}, fmt.Errorf("saving uploaded file: %w", err)
	}

	if err := m.store.CreateDocument(doc); err != nil {
		return storage.Document{}, fmt.Errorf("creating document: %w", err)
	}

	if params.AutoProcess {
		if err := m.enqueue(id); err != nil {
			return storage.Document{}, err
		}
	}

	return m.store.GetDocument(id)
}

// Process executes one ingestion run for the document. It is invoked by the
// ingest worker, never directly by an HTTP handler. Run outcomes (parse
// failures, per-chunk errors) are recorded on the document; the returned
// error is reserved for runs that could not start or could not record their
// outcome.
func (m *Manager) Process(ctx context.Context, documentID string) error {
	if !m.acquire(documentID) {
		return ingest.ErrAlreadyProcessing
	}
	defer m.release(documentID)

	doc, err := m.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}

	if err := m.store.MarkDocumentProcessing(documentID); err != nil {
		return fmt.Errorf("marking document processing: %w", err)
	}

	data, err := os.ReadFile(m.filePath(doc))
	if err != nil {
		return m.fail(documentID, fmt.Sprintf("reading stored file: %v", err))
	}

	text, err := m.parser.Parse(doc.FileName, data)
	if err != nil {
		return m.fail(documentID, err.Error())
	}

	res, err := m.pipeline.Run(ctx, doc, text)
	if err != nil {
		return m.fail(documentID, err.Error())
	}

	errMsg := ""
	if !res.Success() {
		errMsg = res.ErrorSummary()
	}
	if err := m.store.CompleteDocument(documentID, res.TotalChunks, res.Inserted, errMsg); err != nil {
		return fmt.Errorf("recording run outcome: %w", err)
	}

	m.logger.Info("ingestion run finished",
		"document_id", documentID,
		"chunks", res.TotalChunks,
		"inserted", res.Inserted,
		"failed", res.Failed,
	)
	return nil
}

func (m *Manager) fail(documentID, msg string) error {
	if err := m.store.FailDocument(documentID, msg); err != nil {
		return fmt.Errorf("recording run failure: %w", err)
	}
	m.logger.Warn("ingestion run failed", "document_id", documentID, "error", msg)
	return nil
}

// Reprocess resets the document and schedules a fresh run, optionally with
// new chunk options (zero values keep the current ones). Prior vectors are
// deleted best-effort before the new run; a stale vector that survives the
// delete is replaced by the run itself. Rejected while the document is
// already processing.
func (m *Manager) Reprocess(documentID string, chunkSize, chunkOverlap int) (storage.Document, error) {
	doc, err := m.store.GetDocument(documentID)
	if err != nil {
		return storage.Document{}, err
	}
	if m.processing(documentID) || doc.Status == storage.StatusProcessing {
		return storage.Document{}, ingest.ErrAlreadyProcessing
	}

	if chunkSize <= 0 {
		chunkSize = doc.ChunkSize
	}
	if chunkOverlap <= 0 {
		chunkOverlap = doc.ChunkOverlap
	}
	if err := m.store.ResetDocumentForReprocess(documentID, chunkSize, chunkOverlap); err != nil {
		return storage.Document{}, fmt.Errorf("resetting document: %w", err)
	}

	if err := m.vectors.DeleteByDocument(context.Background(), documentID); err != nil {
		m.logger.Warn("deleting prior vectors failed; stale vectors may linger until the run replaces them",
			"document_id", documentID, "error", err)
	}

	if err := m.enqueue(documentID); err != nil {
		return storage.Document{}, err
	}
	return m.store.GetDocument(documentID)
}

// Delete removes the document's vectors, its stored file, and finally the
// database row (chunks cascade). The vector and file steps are best-effort:
// their failures are logged and the row is still removed.
func (m *Manager) Delete(ctx context.Context, documentID string) error {
	doc, err := m.store.GetDocument(documentID)
	if err != nil {
		return err
	}

	if err := m.vectors.DeleteByDocument(ctx, documentID); err != nil {
		m.logger.Warn("deleting vectors failed", "document_id", documentID, "error", err)
	}
	if err := os.Remove(m.filePath(doc)); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("deleting stored file failed", "document_id", documentID, "error", err)
	}

	return m.store.DeleteDocument(documentID)
}

// Get returns one document.
func (m *Manager) Get(documentID string) (storage.Document, error) {
	return m.store.GetDocument(documentID)
}

// List returns document summaries, newest first.
func (m *Manager) List(limit, offset int) ([]storage.Document, error) {
	return m.store.ListDocuments(limit, offset)
}

// Stats aggregates document and vector counts.
type Stats struct {
	Documents      int            `json:"documents"`
	ByStatus       map[string]int `json:"by_status"`
	Chunks         int            `json:"chunks"`
	EmbeddedChunks int            `json:"embedded_chunks"`
	StoredVectors  int            `json:"stored_vectors"`
}

// Stats returns aggregate counts across all documents and the active vector
// backend.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	byStatus, err := m.store.CountDocumentsByStatus()
	if err != nil {
		return Stats{}, fmt.Errorf("counting documents: %w", err)
	}
	total := 0
	for _, n := range byStatus {
		total += n
	}

	chunks, embedded, err := m.store.ChunkStats()
	if err != nil {
		return Stats{}, fmt.Errorf("counting chunks: %w", err)
	}

	vectors, err := m.vectors.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting vectors: %w", err)
	}

	return Stats{
		Documents:      total,
		ByStatus:       byStatus,
		Chunks:         chunks,
		EmbeddedChunks: embedded,
		StoredVectors:  vectors,
	}, nil
}

func (m *Manager) enqueue(documentID string) error {
	payload, err := ingest.NewJobPayload(documentID)
	if err != nil {
		return fmt.Errorf("building job payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        ingest.JobType,
		PayloadJSON: payload,
	}
	if err := m.store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing ingestion job: %w", err)
	}
	return nil
}

func (m *Manager) filePath(doc storage.Document) string {
	return filepath.Join(m.filesDir, doc.ID+filepath.Ext(doc.FileName))
}

// acquire marks the document as having an ingestion run in flight. It is the
// single-flight guard against a reprocess racing an active run.
func (m *Manager) acquire(documentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[documentID]; ok {
		return false
	}
	m.inflight[documentID] = struct{}{}
	return true
}

func (m *Manager) release(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, documentID)
}

func (m *Manager) processing(documentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inflight[documentID]
	return ok
}
