package query

import (
	"context"
	"errors"
	"testing"

	"github.com/pitchlab/knowd/internal/embedding"
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

type mockSearcher struct {
	gotVector []float32
	gotTopK   int
	records   []vectorstore.ScoredRecord
	err       error
}

func (m *mockSearcher) Query(_ context.Context, vector []float32, topK int) ([]vectorstore.ScoredRecord, error) {
	m.gotVector = vector
	m.gotTopK = topK
	return m.records, m.err
}

func TestQuery_EmptyText(t *testing.T) {
	e := NewEngine(&mockEmbedder{}, &mockSearcher{})
	if _, err := e.Query(context.Background(), "   ", 5); err == nil {
		t.Fatal("expected error for empty query text")
	}
}

func TestQuery_DefaultTopK(t *testing.T) {
	searcher := &mockSearcher{}
	e := NewEngine(&mockEmbedder{}, searcher)

	if _, err := e.Query(context.Background(), "hello", 0); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if searcher.gotTopK != DefaultTopK {
		t.Errorf("topK = %d, want %d", searcher.gotTopK, DefaultTopK)
	}
}

func TestQuery_PassesEmbeddedVector(t *testing.T) {
	searcher := &mockSearcher{}
	e := NewEngine(&mockEmbedder{
		embedFn: func(context.Context, string) ([]float32, error) {
			return []float32{0.5, 0.5}, nil
		},
	}, searcher)

	if _, err := e.Query(context.Background(), "hello", 3); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(searcher.gotVector) != 2 || searcher.gotVector[0] != 0.5 {
		t.Errorf("vector = %v", searcher.gotVector)
	}
	if searcher.gotTopK != 3 {
		t.Errorf("topK = %d, want 3", searcher.gotTopK)
	}
}

func TestQuery_EmbedErrorPropagates(t *testing.T) {
	upstream := &embedding.RemoteServiceError{Service: "embedding", Status: 429, Message: "rate limited"}
	e := NewEngine(&mockEmbedder{
		embedFn: func(context.Context, string) ([]float32, error) {
			return nil, upstream
		},
	}, &mockSearcher{})

	_, err := e.Query(context.Background(), "hello", 5)
	var remoteErr *embedding.RemoteServiceError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("error = %v, want *RemoteServiceError", err)
	}
	if remoteErr.Status != 429 {
		t.Errorf("status = %d, want 429", remoteErr.Status)
	}
}

func TestQuery_SearchErrorWrapped(t *testing.T) {
	searchErr := errors.New("backend down")
	e := NewEngine(&mockEmbedder{}, &mockSearcher{err: searchErr})

	_, err := e.Query(context.Background(), "hello", 5)
	if !errors.Is(err, searchErr) {
		t.Errorf("error = %v, want wrapped %v", err, searchErr)
	}
}

func TestQuery_MapsRecords(t *testing.T) {
	searcher := &mockSearcher{
		records: []vectorstore.ScoredRecord{
			{
				Record: vectorstore.Record{
					ID:           "doc-1_chunk_0",
					DocumentID:   "doc-1",
					DocumentName: "Test Doc",
					ChunkIndex:   0,
					Text:         "hello world",
					FileType:     "txt",
				},
				Score: 0.93,
			},
		},
	}
	e := NewEngine(&mockEmbedder{}, searcher)

	matches, err := e.Query(context.Background(), "hello", 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("len(matches) = %d, want 1", len(matches))
	}
	m := matches[0]
	if m.ID != "doc-1_chunk_0" || m.DocumentID != "doc-1" || m.DocumentName != "Test Doc" {
		t.Errorf("match = %+v", m)
	}
	if m.Score != 0.93 || m.Text != "hello world" || m.FileType != "txt" {
		t.Errorf("match = %+v", m)
	}
}

func TestQuery_EmptyResults(t *testing.T) {
	e := NewEngine(&mockEmbedder{}, &mockSearcher{})
	matches, err := e.Query(context.Background(), "hello", 5)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if matches == nil || len(matches) != 0 {
		t.Errorf("matches = %#v, want empty non-nil slice", matches)
	}
}
