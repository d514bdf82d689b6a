package document

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pitchlab/knowd/internal/ingest"
	"github.com/pitchlab/knowd/internal/parser"
	"github.com/pitchlab/knowd/internal/storage"
	"github.com/pitchlab/knowd/internal/vectorstore"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return []float32{1, 0, 0}, nil
}

type testEnv struct {
	manager  *Manager
	store    *storage.Store
	vectors  *vectorstore.Local
	filesDir string
}

func newTestEnv(t *testing.T, embedder ingest.Embedder) testEnv {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if embedder == nil {
		embedder = &mockEmbedder{}
	}
	vectors := vectorstore.NewLocal(store.DB())
	pipeline := ingest.NewPipeline(store, embedder, vectors, 1)
	filesDir := t.TempDir()
	return testEnv{
		manager:  NewManager(store, vectors, pipeline, parser.New(), filesDir, 500, 50),
		store:    store,
		vectors:  vectors,
		filesDir: filesDir,
	}
}

func pendingJobs(t *testing.T, store *storage.Store) int {
	t.Helper()
	var n int
	err := store.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = 'pending'`).Scan(&n)
	if err != nil {
		t.Fatalf("counting pending jobs: %v", err)
	}
	return n
}

func TestUpload_CreatesPendingDocumentAndJob(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{
		Name:        "My Notes",
		FileName:    "notes.txt",
		Data:        []byte("hello world"),
		AutoProcess: true,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if doc.Status != storage.StatusPending {
		t.Errorf("status = %q, want PENDING", doc.Status)
	}
	if doc.Name != "My Notes" || doc.FileType != "txt" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.ChunkSize != 500 || doc.ChunkOverlap != 50 {
		t.Errorf("chunk options = %d/%d, want defaults 500/50", doc.ChunkSize, doc.ChunkOverlap)
	}
	if doc.SizeBytes != int64(len("hello world")) {
		t.Errorf("size = %d", doc.SizeBytes)
	}

	data, err := os.ReadFile(filepath.Join(env.filesDir, doc.ID+".txt"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("stored file = %q", data)
	}

	if got := pendingJobs(t, env.store); got != 1 {
		t.Errorf("pending jobs = %d, want 1", got)
	}
}

func TestUpload_NoAutoProcessSkipsJob(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.manager.Upload(UploadParams{FileName: "notes.txt", Data: []byte("x")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if got := pendingJobs(t, env.store); got != 0 {
		t.Errorf("pending jobs = %d, want 0", got)
	}
}

func TestUpload_RequiresFileName(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.manager.Upload(UploadParams{Data: []byte("x")})
	if !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("err = %v, want ErrInvalidUpload", err)
	}
}

func TestProcess_CompletesDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{
		FileName:     "notes.txt",
		Data:         []byte("first paragraph\n\nsecond paragraph"),
		ChunkSize:    16,
		ChunkOverlap: 2,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := env.manager.Get(doc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != storage.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED (error: %q)", got.Status, got.ErrorMessage)
	}
	if got.ChunkCount != 2 || got.VectorCount != 2 {
		t.Errorf("counts = %d/%d, want 2/2", got.ChunkCount, got.VectorCount)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message = %q, want empty", got.ErrorMessage)
	}
	if got.ProcessedAt == nil {
		t.Error("ProcessedAt not set")
	}

	n, err := env.vectors.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Errorf("stored vectors = %d, want 2", n)
	}
}

func TestProcess_PartialFailureRecordedOnDocument(t *testing.T) {
	embedder := &mockEmbedder{
		embedFn: func(_ context.Context, text string) ([]float32, error) {
			if strings.Contains(text, "second") {
				return nil, errors.New("vendor timeout")
			}
			return []float32{1, 0, 0}, nil
		},
	}
	env := newTestEnv(t, embedder)

	doc, err := env.manager.Upload(UploadParams{
		FileName:     "notes.txt",
		Data:         []byte("first paragraph\n\nsecond paragraph"),
		ChunkSize:    16,
		ChunkOverlap: 2,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := env.manager.Get(doc.ID)
	if got.Status != storage.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED", got.Status)
	}
	if got.ChunkCount != 2 || got.VectorCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", got.ChunkCount, got.VectorCount)
	}
	if !strings.Contains(got.ErrorMessage, "vendor timeout") {
		t.Errorf("error message = %q", got.ErrorMessage)
	}
}

func TestProcess_MissingFileFailsDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{FileName: "notes.txt", Data: []byte("hello")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := os.Remove(filepath.Join(env.filesDir, doc.ID+".txt")); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	// A failed run is recorded on the document, not surfaced as an error.
	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := env.manager.Get(doc.ID)
	if got.Status != storage.StatusFailed {
		t.Errorf("status = %q, want FAILED", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "reading stored file") {
		t.Errorf("error message = %q", got.ErrorMessage)
	}
}

func TestProcess_ParseFailureFailsDocument(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{
		FileName: "image.png",
		Data:     []byte{0x89, 0x50, 0x4e, 0x47, 0xff, 0xfe},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := env.manager.Get(doc.ID)
	if got.Status != storage.StatusFailed {
		t.Errorf("status = %q, want FAILED", got.Status)
	}
}

func TestProcess_EmptyDocumentFails(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{FileName: "empty.txt", Data: []byte("   \n\n  ")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := env.manager.Get(doc.ID)
	if got.Status != storage.StatusFailed {
		t.Errorf("status = %q, want FAILED", got.Status)
	}
	if !strings.Contains(got.ErrorMessage, "empty") {
		t.Errorf("error message = %q", got.ErrorMessage)
	}
}

func TestReprocess_ResetsAndEnqueues(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{
		FileName:     "notes.txt",
		Data:         []byte("first paragraph\n\nsecond paragraph"),
		ChunkSize:    16,
		ChunkOverlap: 2,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := env.manager.Reprocess(doc.ID, 800, 100)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if got.Status != storage.StatusPending {
		t.Errorf("status = %q, want PENDING", got.Status)
	}
	if got.ChunkSize != 800 || got.ChunkOverlap != 100 {
		t.Errorf("chunk options = %d/%d, want 800/100", got.ChunkSize, got.ChunkOverlap)
	}
	if got.ChunkCount != 0 || got.VectorCount != 0 {
		t.Errorf("counts = %d/%d, want reset to 0/0", got.ChunkCount, got.VectorCount)
	}
	if pendingJobs(t, env.store) != 1 {
		t.Error("reprocess did not enqueue a job")
	}

	// Prior vectors are cleared before the new run.
	n, _ := env.vectors.Count(context.Background())
	if n != 0 {
		t.Errorf("stored vectors = %d, want 0 after reprocess", n)
	}

	// The new run replaces chunks rather than appending. The whole text now
	// fits one chunk.
	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process after reprocess: %v", err)
	}
	got, _ = env.manager.Get(doc.ID)
	if got.ChunkCount != 1 {
		t.Errorf("chunk count = %d, want 1 after larger chunk size", got.ChunkCount)
	}
}

func TestReprocess_RejectedWhileProcessing(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{FileName: "notes.txt", Data: []byte("hello")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := env.store.MarkDocumentProcessing(doc.ID); err != nil {
		t.Fatalf("MarkDocumentProcessing: %v", err)
	}

	_, err = env.manager.Reprocess(doc.ID, 0, 0)
	if !errors.Is(err, ingest.ErrAlreadyProcessing) {
		t.Errorf("Reprocess error = %v, want ErrAlreadyProcessing", err)
	}
}

func TestProcess_SingleFlightGuard(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{FileName: "notes.txt", Data: []byte("hello")})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if !env.manager.acquire(doc.ID) {
		t.Fatal("acquire failed on idle document")
	}
	defer env.manager.release(doc.ID)

	if err := env.manager.Process(context.Background(), doc.ID); !errors.Is(err, ingest.ErrAlreadyProcessing) {
		t.Errorf("Process error = %v, want ErrAlreadyProcessing", err)
	}
}

func TestDelete_RemovesRowVectorsAndFile(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{
		FileName:     "notes.txt",
		Data:         []byte("first paragraph\n\nsecond paragraph"),
		ChunkSize:    16,
		ChunkOverlap: 2,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if err := env.manager.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := env.manager.Get(doc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(env.filesDir, doc.ID+".txt")); !os.IsNotExist(err) {
		t.Error("stored file still exists after delete")
	}
	n, _ := env.vectors.Count(context.Background())
	if n != 0 {
		t.Errorf("stored vectors = %d, want 0", n)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)

	doc, err := env.manager.Upload(UploadParams{
		FileName:     "notes.txt",
		Data:         []byte("first paragraph\n\nsecond paragraph"),
		ChunkSize:    16,
		ChunkOverlap: 2,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := env.manager.Process(context.Background(), doc.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, err := env.manager.Upload(UploadParams{FileName: "other.txt", Data: []byte("x")}); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	stats, err := env.manager.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Documents != 2 {
		t.Errorf("documents = %d, want 2", stats.Documents)
	}
	if stats.ByStatus[storage.StatusCompleted] != 1 || stats.ByStatus[storage.StatusPending] != 1 {
		t.Errorf("by_status = %v", stats.ByStatus)
	}
	if stats.Chunks != 2 || stats.EmbeddedChunks != 2 || stats.StoredVectors != 2 {
		t.Errorf("chunks = %d embedded = %d vectors = %d, want 2/2/2",
			stats.Chunks, stats.EmbeddedChunks, stats.StoredVectors)
	}
}
