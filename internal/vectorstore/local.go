package vectorstore

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pitchlab/knowd/internal/storage"
)

// Compile-time check that Local implements VectorStore.
var _ VectorStore = (*Local)(nil)

// Local stores vectors in the relational chunks table and answers queries
// with a brute-force cosine-similarity scan. This is the default backend.
//
// The scan is O(n) in the number of embedded chunks; it reads a snapshot of
// the table and never observes a partially written vector, because each
// embedding is written atomically as one BLOB.
type Local struct {
	db *sql.DB
}

// NewLocal wraps an existing *sql.DB for vector operations. The chunks table
// must already exist (created via migrations).
func NewLocal(db *sql.DB) *Local {
	return &Local{db: db}
}

// Upsert writes each record's vector and metadata into its chunk row, keyed
// by (document_id, chunk_index). Existing rows are overwritten, which is what
// enforces the uniqueness of (documentId, chunkIndex).
func (l *Local) Upsert(ctx context.Context, records []Record) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (document_id, chunk_index, text, embedding, start_offset, end_offset, total_chunks, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(document_id, chunk_index) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			total_chunks = excluded.total_chunks,
			metadata = excluded.metadata`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		meta, err := json.Marshal(map[string]any{
			"documentName": r.DocumentName,
			"fileType":     r.FileType,
		})
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshalling metadata for %s: %w", r.ID, err)
		}
		blob := storage.EncodeVector(r.Embedding)
		if _, err := stmt.Exec(r.DocumentID, r.ChunkIndex, r.Text, blob, r.StartOffset, r.EndOffset, r.TotalChunks, string(meta)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteByDocument removes all chunk rows of the document.
func (l *Local) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting vectors for document %s: %w", documentID, err)
	}
	return nil
}

// chunkKey identifies one chunk row during the scan phase of Query.
// Full record details are fetched only for top-K winners.
type chunkKey struct {
	DocumentID string
	ChunkIndex int
	Score      float32
}

// Query scans every embedded chunk, scores it against the vector, and returns
// the topK best matches in descending score order. A stored vector whose
// dimensionality differs from the query's is an error, never a silent skip.
func (l *Local) Query(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}

	// Phase 1: scan only keys + embeddings to find top-K candidates.
	rows, err := l.db.QueryContext(ctx, `SELECT document_id, chunk_index, embedding FROM chunks WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("scanning vectors: %w", err)
	}
	defer rows.Close()

	h := &chunkKeyHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var docID string
		var idx int
		var blob []byte
		if err := rows.Scan(&docID, &idx, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeVectorInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s/%d: %w", docID, idx, err)
		}
		if len(buf) != len(vector) {
			return nil, fmt.Errorf("vector dimension mismatch: store has %d, query has %d", len(buf), len(vector))
		}

		score := cosineSimilarity(vector, buf)
		if h.Len() < topK {
			heap.Push(h, chunkKey{DocumentID: docID, ChunkIndex: idx, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = chunkKey{DocumentID: docID, ChunkIndex: idx, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the winners.
	ids := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(chunkKey)
		id := RecordID(item.DocumentID, item.ChunkIndex)
		ids[i] = id
		scores[id] = item.Score
	}

	queryArgs := make([]any, len(ids))
	for i, id := range ids {
		queryArgs[i] = id
	}
	fullQuery := `
		SELECT c.document_id, c.chunk_index, c.text, c.embedding, c.start_offset, c.end_offset, c.total_chunks, c.metadata, COALESCE(d.name, '')
		FROM chunks c LEFT JOIN documents d ON d.id = c.document_id
		WHERE c.document_id || '_chunk_' || c.chunk_index IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	fullRows, err := l.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredRecord
	for fullRows.Next() {
		var r Record
		var blob []byte
		var metadata string
		if err := fullRows.Scan(&r.DocumentID, &r.ChunkIndex, &r.Text, &blob, &r.StartOffset, &r.EndOffset, &r.TotalChunks, &metadata, &r.DocumentName); err != nil {
			return nil, fmt.Errorf("scanning full record: %w", err)
		}
		embedding, err := storage.DecodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s/%d: %w", r.DocumentID, r.ChunkIndex, err)
		}
		r.Embedding = embedding
		r.ID = RecordID(r.DocumentID, r.ChunkIndex)
		var meta struct {
			FileType     string `json:"fileType"`
			DocumentName string `json:"documentName"`
		}
		if err := json.Unmarshal([]byte(metadata), &meta); err == nil {
			r.FileType = meta.FileType
			if r.DocumentName == "" {
				r.DocumentName = meta.DocumentName
			}
		}
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// Sort results by score descending (IN query doesn't preserve order).
	sortByScore(results)

	return results, nil
}

// Count returns the number of chunks carrying an embedding.
func (l *Local) Count(ctx context.Context) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL`).Scan(&count)
	return count, err
}

// sortByScore sorts ScoredRecords by Score descending. Used for small slices (topK).
func sortByScore(results []ScoredRecord) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// decodeVectorInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeVectorInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// cosineSimilarity is the normalized dot product of two equal-length vectors.
// A zero-magnitude vector on either side scores 0, never NaN.
func cosineSimilarity(a, b []float32) float32 {
	var dot, aNormSq, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aNormSq += float64(a[i]) * float64(a[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if aNormSq == 0 || bNormSq == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(aNormSq) * math.Sqrt(bNormSq)))
}

// chunkKeyHeap is a min-heap of chunkKey ordered by Score. Used during the
// scan phase of Query to track top-K candidates by key only.
type chunkKeyHeap []chunkKey

func (h chunkKeyHeap) Len() int           { return len(h) }
func (h chunkKeyHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h chunkKeyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *chunkKeyHeap) Push(x any)        { *h = append(*h, x.(chunkKey)) }
func (h *chunkKeyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
