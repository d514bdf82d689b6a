// Package vectorstore persists chunk embeddings and answers top-K cosine
// similarity queries, backed either by the relational store (brute-force
// scan) or by a remote ANN service.
package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrMissingCredentials is returned by the factory when the remote backend is
// selected but its API key is absent. This is an operator configuration
// problem, not a runtime condition.
var ErrMissingCredentials = errors.New("remote vector store configured without an API key")

// VectorStore is the storage and similarity-search contract shared by both
// backends. The backend is chosen once at startup; a running process never
// switches backends.
type VectorStore interface {
	// Upsert stores the given records, replacing any record with the same ID.
	Upsert(ctx context.Context, records []Record) error

	// DeleteByDocument removes every record belonging to the document.
	DeleteByDocument(ctx context.Context, documentID string) error

	// Query returns the topK stored records most similar to the vector,
	// ordered by descending score.
	Query(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
}

// Record is the persisted form of one chunk's embedding plus echoed metadata.
type Record struct {
	ID           string
	DocumentID   string
	ChunkIndex   int
	TotalChunks  int
	Text         string
	Embedding    []float32
	DocumentName string
	FileType     string
	StartOffset  int
	EndOffset    int
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// RecordID builds the canonical vector ID for a chunk.
func RecordID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}

// Config selects and parameterizes the backend. A non-empty RemoteURL selects
// the remote ANN service; otherwise vectors live in the relational store.
type Config struct {
	RemoteURL    string
	RemoteAPIKey string
	Namespace    string
	Timeout      time.Duration
}

// Remote reports whether the remote backend is configured.
func (c Config) Remote() bool {
	return c.RemoteURL != ""
}

// New resolves the configured backend once, at startup. This is the only
// place that branches on the deployment choice.
func New(cfg Config, db *sql.DB) (VectorStore, error) {
	if cfg.Remote() {
		if cfg.RemoteAPIKey == "" {
			return nil, ErrMissingCredentials
		}
		return NewRemote(cfg), nil
	}
	return NewLocal(db), nil
}
