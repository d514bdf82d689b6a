// Package query answers semantic search requests against the vector store.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/pitchlab/knowd/internal/embedding"
	"github.com/pitchlab/knowd/internal/vectorstore"
)

// DefaultTopK is used when the caller does not specify a result count.
const DefaultTopK = 5

// Searcher is the slice of the vector store the engine needs.
type Searcher interface {
	Query(ctx context.Context, vector []float32, topK int) ([]vectorstore.ScoredRecord, error)
}

// Match is one retrieval hit, ordered by descending score.
type Match struct {
	ID           string  `json:"id"`
	Score        float32 `json:"score"`
	Text         string  `json:"text"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	ChunkIndex   int     `json:"chunk_index"`
	FileType     string  `json:"file_type"`
}

// Engine embeds query text and searches the vector store.
type Engine struct {
	embedder embedding.Gateway
	store    Searcher
}

// NewEngine creates an Engine.
func NewEngine(embedder embedding.Gateway, store Searcher) *Engine {
	return &Engine{embedder: embedder, store: store}
}

// Query embeds text and returns the topK most similar chunks. topK <= 0
// falls back to DefaultTopK. Embedding failures propagate to the caller so
// the transport layer can distinguish upstream outages from empty results.
func (e *Engine) Query(ctx context.Context, text string, topK int) ([]Match, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("query text is empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	records, err := e.store.Query(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	matches := make([]Match, 0, len(records))
	for _, r := range records {
		matches = append(matches, Match{
			ID:           r.ID,
			Score:        r.Score,
			Text:         r.Text,
			DocumentID:   r.DocumentID,
			DocumentName: r.DocumentName,
			ChunkIndex:   r.ChunkIndex,
			FileType:     r.FileType,
		})
	}
	return matches, nil
}
