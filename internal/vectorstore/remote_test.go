package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pitchlab/knowd/internal/embedding"
)

func newRemoteServer(t *testing.T, handler http.HandlerFunc) *Remote {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRemote(Config{RemoteURL: srv.URL, RemoteAPIKey: "vk-test", Namespace: "docs"})
}

func TestRemote_Upsert(t *testing.T) {
	var gotPath, gotKey string
	var gotBody struct {
		Namespace string  `json:"namespace"`
		Vectors   []point `json:"vectors"`
	}
	r := newRemoteServer(t, func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotKey = req.Header.Get("Api-Key")
		json.NewDecoder(req.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	rec := Record{
		ID:         "doc-1_chunk_0",
		DocumentID: "doc-1",
		ChunkIndex: 0,
		Text:       "hello",
		Embedding:  []float32{0.1, 0.2},
	}
	if err := r.Upsert(context.Background(), []Record{rec}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if gotPath != "/vectors/upsert" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "vk-test" {
		t.Errorf("Api-Key = %q", gotKey)
	}
	if gotBody.Namespace != "docs" {
		t.Errorf("namespace = %q", gotBody.Namespace)
	}
	if len(gotBody.Vectors) != 1 || gotBody.Vectors[0].ID != "doc-1_chunk_0" {
		t.Errorf("vectors = %+v", gotBody.Vectors)
	}
	if gotBody.Vectors[0].Metadata["documentId"] != "doc-1" {
		t.Errorf("metadata = %+v", gotBody.Vectors[0].Metadata)
	}
}

func TestRemote_DeleteByDocumentFilter(t *testing.T) {
	var gotBody struct {
		Filter string `json:"filter"`
	}
	r := newRemoteServer(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewDecoder(req.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	if err := r.DeleteByDocument(context.Background(), "doc-42"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	if gotBody.Filter != "documentId = 'doc-42'" {
		t.Errorf("filter = %q", gotBody.Filter)
	}
}

func TestRemote_Query(t *testing.T) {
	r := newRemoteServer(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []map[string]any{
				{
					"id":    "doc-1_chunk_2",
					"score": 0.91,
					"metadata": map[string]any{
						"documentId":   "doc-1",
						"chunkIndex":   2,
						"totalChunks":  5,
						"text":         "matched chunk",
						"documentName": "Doc One",
						"fileType":     "pdf",
						"startOffset":  100,
						"endOffset":    200,
					},
				},
			},
		})
	})

	got, err := r.Query(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d matches, want 1", len(got))
	}
	m := got[0]
	if m.ID != "doc-1_chunk_2" || m.DocumentID != "doc-1" || m.ChunkIndex != 2 {
		t.Errorf("record = %+v", m.Record)
	}
	if m.Text != "matched chunk" || m.DocumentName != "Doc One" || m.FileType != "pdf" {
		t.Errorf("metadata not mapped: %+v", m.Record)
	}
	if m.StartOffset != 100 || m.EndOffset != 200 {
		t.Errorf("offsets = %d/%d", m.StartOffset, m.EndOffset)
	}
	if m.Score != 0.91 {
		t.Errorf("Score = %v", m.Score)
	}
}

func TestRemote_QueryTopKZero(t *testing.T) {
	r := newRemoteServer(t, func(w http.ResponseWriter, req *http.Request) {
		t.Error("server should not be called for topK <= 0")
	})

	got, err := r.Query(context.Background(), []float32{1}, 0)
	if err != nil || got != nil {
		t.Errorf("Query(topK=0) = %v, %v", got, err)
	}
}

func TestRemote_ErrorStatus(t *testing.T) {
	r := newRemoteServer(t, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "index unavailable", http.StatusServiceUnavailable)
	})

	err := r.Upsert(context.Background(), []Record{{ID: "x"}})
	var remoteErr *embedding.RemoteServiceError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("err = %v, want *RemoteServiceError", err)
	}
	if remoteErr.Service != "vector-store" || remoteErr.Status != http.StatusServiceUnavailable {
		t.Errorf("error = %+v", remoteErr)
	}
}

func TestRemote_Count(t *testing.T) {
	r := newRemoteServer(t, func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			t.Errorf("method = %s", req.Method)
		}
		json.NewEncoder(w).Encode(map[string]int{"vectorCount": 128})
	})

	count, err := r.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 128 {
		t.Errorf("Count = %d, want 128", count)
	}
}

func TestNew_BackendSelection(t *testing.T) {
	store := openTestStore(t)

	// No remote URL: local backend on the shared database.
	vs, err := New(Config{}, store.DB())
	if err != nil {
		t.Fatalf("New(local): %v", err)
	}
	if _, ok := vs.(*Local); !ok {
		t.Errorf("backend = %T, want *Local", vs)
	}

	// Remote URL with credentials: remote backend.
	vs, err = New(Config{RemoteURL: "https://ann.example.test", RemoteAPIKey: "k"}, store.DB())
	if err != nil {
		t.Fatalf("New(remote): %v", err)
	}
	if _, ok := vs.(*Remote); !ok {
		t.Errorf("backend = %T, want *Remote", vs)
	}

	// Remote URL without credentials is a startup error.
	if _, err := New(Config{RemoteURL: "https://ann.example.test"}, store.DB()); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestRecordID(t *testing.T) {
	if got := RecordID("doc-1", 4); got != "doc-1_chunk_4" {
		t.Errorf("RecordID = %q", got)
	}
}
